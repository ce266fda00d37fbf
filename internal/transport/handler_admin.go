package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/onboard/internal/observability"
	"github.com/pitabwire/onboard/internal/onboarding"
	"github.com/pitabwire/onboard/internal/signing"
	"github.com/pitabwire/onboard/internal/token"
	"github.com/pitabwire/onboard/model"
)

// DocumentFetcher returns a contractor's rendered contract PDF.
type DocumentFetcher interface {
	Fetch(ctx context.Context, contractorID string) ([]byte, error)
}

type attachDocumentRequest struct {
	Kind      model.DocumentKind `json:"kind" validate:"required"`
	Reference string             `json:"reference" validate:"required,max=1024"`
}

type suspendRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// linkResponse is returned by send and resend. The signing URL is returned
// to the admin so a link can be handed over when the email bounces.
type linkResponse struct {
	Contractor  model.Contractor `json:"contractor"`
	TokenExpiry time.Time        `json:"token_expiry"`
	SigningURL  string           `json:"signing_url"`
}

func newLinkResponse(issued token.Issued) linkResponse {
	return linkResponse{
		Contractor:  issued.Contractor,
		TokenExpiry: issued.Expiry,
		SigningURL:  issued.Link,
	}
}

// fail renders err and logs it when it maps to a server error.
func fail(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	if StatusFor(err) >= http.StatusInternalServerError {
		observability.RequestLogger(r.Context(), logger).Error("request failed",
			zap.String("route", observability.RoutePattern(r)),
			zap.Error(err),
		)
	}
	writeError(w, err, observability.TraceIDFromContext(r.Context()))
}

func actor(r *http.Request) string {
	return model.RequestContextFrom(r.Context()).Actor()
}

// --- third parties ---

func handleCreateThirdParty(svc *onboarding.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in onboarding.NewThirdParty
		if err := decodeJSON(r, &in); err != nil {
			fail(w, r, logger, err)
			return
		}
		tp, err := svc.CreateThirdParty(r.Context(), in)
		if err != nil {
			fail(w, r, logger, err)
			return
		}
		WriteJSON(w, http.StatusCreated, tp)
	}
}

func handleGetThirdParty(svc *onboarding.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tp, err := svc.GetThirdParty(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			fail(w, r, logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, tp)
	}
}

func handleDeactivateThirdParty(svc *onboarding.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tp, err := svc.DeactivateThirdParty(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			fail(w, r, logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, tp)
	}
}

func handleDeleteThirdParty(svc *onboarding.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.DeleteThirdParty(r.Context(), chi.URLParam(r, "id")); err != nil {
			fail(w, r, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// --- templates ---

func handleCreateTemplate(svc *onboarding.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in onboarding.NewTemplate
		if err := decodeJSON(r, &in); err != nil {
			fail(w, r, logger, err)
			return
		}
		tpl, err := svc.CreateTemplate(r.Context(), in)
		if err != nil {
			fail(w, r, logger, err)
			return
		}
		WriteJSON(w, http.StatusCreated, tpl)
	}
}

func handleGetTemplate(svc *onboarding.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tpl, err := svc.GetTemplate(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			fail(w, r, logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, tpl)
	}
}

// --- contractors ---

func handleCreateContractor(svc *onboarding.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in onboarding.NewContractor
		if err := decodeJSON(r, &in); err != nil {
			fail(w, r, logger, err)
			return
		}
		c, err := svc.CreateContractor(r.Context(), in, actor(r))
		if err != nil {
			fail(w, r, logger, err)
			return
		}
		w.Header().Set("Location", "/admin/contractors/"+c.ID)
		WriteJSON(w, http.StatusCreated, c)
	}
}

func handleGetContractor(svc *onboarding.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := svc.GetContractor(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			fail(w, r, logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, c)
	}
}

func handleUpdateContractor(svc *onboarding.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in onboarding.Details
		if err := decodeJSON(r, &in); err != nil {
			fail(w, r, logger, err)
			return
		}
		c, err := svc.UpdateDetails(r.Context(), chi.URLParam(r, "id"), in, actor(r))
		if err != nil {
			fail(w, r, logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, c)
	}
}

func handleAttachDocument(svc *onboarding.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in attachDocumentRequest
		if err := decodeValid(r, &in); err != nil {
			fail(w, r, logger, err)
			return
		}
		c, err := svc.AttachDocument(r.Context(), chi.URLParam(r, "id"), in.Kind, in.Reference, actor(r))
		if err != nil {
			fail(w, r, logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, c)
	}
}

func handleProgress(svc *onboarding.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := svc.Progress(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			fail(w, r, logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, p)
	}
}

func handleCompleteStep(svc *onboarding.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := svc.CompleteStep(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "stepId"), actor(r))
		if err != nil {
			fail(w, r, logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, c)
	}
}

func handleEvents(svc *onboarding.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		events, err := svc.Events(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			fail(w, r, logger, err)
			return
		}
		if events == nil {
			events = []model.ContractorEvent{}
		}
		WriteJSON(w, http.StatusOK, map[string]any{"data": events})
	}
}

// --- lifecycle ---

func handleSend(tokens *token.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		issued, err := tokens.Issue(r.Context(), chi.URLParam(r, "id"), actor(r))
		if err != nil {
			fail(w, r, logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, newLinkResponse(issued))
	}
}

func handleResend(tokens *token.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		issued, err := tokens.Resend(r.Context(), chi.URLParam(r, "id"), actor(r))
		if err != nil {
			fail(w, r, logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, newLinkResponse(issued))
	}
}

func handleRevoke(tokens *token.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := tokens.Revoke(r.Context(), chi.URLParam(r, "id"), actor(r))
		if err != nil {
			fail(w, r, logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, c)
	}
}

func handleActivate(svc *signing.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := svc.Activate(r.Context(), chi.URLParam(r, "id"), actor(r))
		if err != nil {
			fail(w, r, logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, c)
	}
}

func handleSuspend(svc *signing.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in suspendRequest
		if err := decodeValid(r, &in); err != nil {
			fail(w, r, logger, err)
			return
		}
		c, err := svc.Suspend(r.Context(), chi.URLParam(r, "id"), in.Reason, actor(r))
		if err != nil {
			fail(w, r, logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, c)
	}
}

func handleDocument(docs DocumentFetcher, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		pdf, err := docs.Fetch(r.Context(), id)
		if err != nil {
			fail(w, r, logger, err)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "contract-"+id+".pdf"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(pdf)
	}
}
