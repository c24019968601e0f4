package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/appealpost/appealpost-backend/api/responses"
	lobwebhook "github.com/appealpost/appealpost-backend/internal/webhooks/lob"
	"github.com/appealpost/appealpost-backend/pkg/config"
	pkgerrors "github.com/appealpost/appealpost-backend/pkg/errors"
	"github.com/appealpost/appealpost-backend/pkg/logger"
)

const (
	lobSignatureHeader = "Lob-Signature"
	lobTimestampHeader = "Lob-Signature-Timestamp"
)

type LobWebhookService interface {
	HandleEvent(ctx context.Context, payload []byte) error
}

// LobWebhook verifies and routes mail tracking events from Lob.
func LobWebhook(svc LobWebhookService, cfg config.LobConfig, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		err = lobwebhook.VerifySignature(
			payload,
			r.Header.Get(lobTimestampHeader),
			r.Header.Get(lobSignatureHeader),
			cfg.WebhookSecret,
		)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if err := svc.HandleEvent(ctx, payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, nil)
	}
}
