package address

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pkgerrors "github.com/appealpost/appealpost-backend/pkg/errors"
	"github.com/appealpost/appealpost-backend/pkg/lob"
	"github.com/appealpost/appealpost-backend/pkg/resilience"
	"github.com/appealpost/appealpost-backend/pkg/types"
)

type verificationClient interface {
	VerifyUSAddress(ctx context.Context, req lob.VerificationRequest) (*lob.Verification, error)
}

// UndeliverableError marks a verification that came back with a terminal
// deliverability verdict. It is not retryable.
type UndeliverableError struct {
	Deliverability string
}

func (e *UndeliverableError) Error() string {
	return fmt.Sprintf("address not deliverable (%s)", e.Deliverability)
}

// IsUndeliverable reports whether the error chain carries a terminal
// deliverability verdict.
func IsUndeliverable(err error) bool {
	var u *UndeliverableError
	return errors.As(err, &u)
}

// Verifier normalizes mailing addresses through the verification provider,
// retrying transient failures behind the shared resilience wrapper.
type Verifier struct {
	client verificationClient
	caller *resilience.Caller
}

// NewVerifier builds the address verifier.
func NewVerifier(client verificationClient, caller *resilience.Caller) (*Verifier, error) {
	if client == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "verification client required")
	}
	if caller == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "resilience caller required")
	}
	return &Verifier{client: client, caller: caller}, nil
}

// Verify returns the normalized form of the address, or an UndeliverableError
// when the provider's verdict is terminal.
func (v *Verifier) Verify(ctx context.Context, addr types.Address) (*types.Address, error) {
	if !addr.Complete() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "address is incomplete")
	}

	req := lob.VerificationRequest{
		PrimaryLine: addr.Line1,
		City:        addr.City,
		State:       addr.State,
		ZipCode:     addr.PostalCode,
	}
	if addr.Line2 != nil {
		req.SecondaryLine = *addr.Line2
	}

	var verified *types.Address
	err := v.caller.Do(ctx, "verify_address", func(ctx context.Context) error {
		result, err := v.client.VerifyUSAddress(ctx, req)
		if err != nil {
			return err
		}
		if !result.Deliverable() {
			return pkgerrors.Wrap(
				pkgerrors.CodeValidation,
				&UndeliverableError{Deliverability: result.Deliverability},
				"address verification rejected",
			)
		}
		verified = normalize(addr, result)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return verified, nil
}

func normalize(input types.Address, result *lob.Verification) *types.Address {
	out := &types.Address{
		Name:       input.Name,
		Line1:      result.PrimaryLine,
		City:       result.Components.City,
		State:      result.Components.State,
		PostalCode: result.Components.ZipCode,
		Country:    "US",
	}
	if line2 := strings.TrimSpace(result.SecondaryLine); line2 != "" {
		out.Line2 = &line2
	}
	if result.Components.ZipCodePlus4 != "" {
		out.PostalCode = result.Components.ZipCode + "-" + result.Components.ZipCodePlus4
	}
	return out
}
