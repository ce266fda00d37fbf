package transport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/onboard/internal/signing"
	"github.com/pitabwire/onboard/model"
)

type signatureReceipt struct {
	ContractorID string                 `json:"contractor_id"`
	Status       model.ContractorStatus `json:"status"`
	SignedAt     time.Time              `json:"signed_at"`
}

func handleContractView(svc *signing.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := svc.ContractView(r.Context(), chi.URLParam(r, "token"))
		if err != nil {
			fail(w, r, logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, view)
	}
}

// handleSign decodes the payload without validating it; the service checks
// the token and status before the payload so a stale link reports why it
// is stale rather than a field error.
func handleSign(svc *signing.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in signing.SignatureInput
		if err := decodeJSON(r, &in); err != nil {
			fail(w, r, logger, err)
			return
		}

		meta := signing.SignerMeta{UserAgent: r.UserAgent()}
		if rctx := model.RequestContextFrom(r.Context()); rctx != nil {
			meta.RemoteAddr = rctx.RemoteAddr
		}

		c, err := svc.RecordSignature(r.Context(), chi.URLParam(r, "token"), in, meta)
		if err != nil {
			fail(w, r, logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, signatureReceipt{
			ContractorID: c.ID,
			Status:       c.Status,
			SignedAt:     c.Signature.SignedAt,
		})
	}
}
