package lobwebhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	pkgerrors "github.com/appealpost/appealpost-backend/pkg/errors"
)

// VerifySignature checks the HMAC-SHA256 signature Lob attaches to webhook
// deliveries. The signed message is the timestamp header concatenated with
// the raw body.
func VerifySignature(payload []byte, timestamp, signature, secret string) error {
	if secret == "" {
		return pkgerrors.New(pkgerrors.CodeInternal, "webhook secret not configured")
	}
	if timestamp == "" || signature == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "webhook signature headers missing")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return pkgerrors.New(pkgerrors.CodeValidation, "webhook signature mismatch")
	}
	return nil
}
