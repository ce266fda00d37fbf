package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/pitabwire/onboard/internal/config"
	"github.com/pitabwire/onboard/internal/idempotency"
	"github.com/pitabwire/onboard/internal/observability"
	"github.com/pitabwire/onboard/internal/onboarding"
	"github.com/pitabwire/onboard/internal/signing"
	"github.com/pitabwire/onboard/internal/token"
	"github.com/pitabwire/onboard/model"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config             *config.Config
	Logger             *zap.Logger
	Authenticate       func(http.Handler) http.Handler
	CapabilityResolver model.CapabilityResolver
	Metrics            *observability.Metrics
	MetricsHandler     http.Handler
	Readiness          observability.ReadinessChecks
	Idempotency        idempotency.Store

	Onboarding *onboarding.Service
	Tokens     *token.Service
	Signing    *signing.Service
	Documents  DocumentFetcher
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, metrics and the public signing
// routes bypass authentication.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := deps.Config.Server

	r := chi.NewRouter()

	if cfg.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(RequestID)
	r.Use(observability.TracingMiddleware)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}
	r.Use(RequestLogging(logger))
	r.Use(Recovery(logger))
	r.Use(SecurityHeaders)
	r.Use(CORS(cfg.CORS))

	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Readiness))
	if mc := deps.Config.Observability.Metrics; mc.Enabled {
		metrics := deps.MetricsHandler
		if metrics == nil {
			metrics = observability.Handler()
		}
		path := mc.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(BodyLimit(cfg.MaxBodyBytes))
		r.Use(HandlerTimeout(cfg.HandlerTimeout))
		r.Use(BuildRequestContextMiddleware(nil))

		r.Get("/contracts/{token}", handleContractView(deps.Signing, logger))
		r.Post("/contracts/{token}/signature", handleSign(deps.Signing, logger))
	})

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	r.Route("/admin", func(r chi.Router) {
		r.Use(BodyLimit(cfg.MaxBodyBytes))
		r.Use(HandlerTimeout(cfg.HandlerTimeout))
		r.Use(auth)
		r.Use(BuildRequestContextMiddleware(deps.Config.Identity.ClaimPaths))
		r.Use(RequireSubject)
		r.Use(ResolveCapabilities(deps.CapabilityResolver, logger))

		idem := Idempotent(deps.Idempotency, deps.Config.Idempotency.TTL, logger)
		idemLink := Idempotent(deps.Idempotency, deps.Config.Idempotency.TTL, logger, "signing_url")
		can := func(capability string) chi.Router { return r.With(RequireCapability(capability), idem) }
		svc := deps.Onboarding

		can(model.CapThirdPartiesManage).Post("/third-parties", handleCreateThirdParty(svc, logger))
		can(model.CapContractorsView).Get("/third-parties/{id}", handleGetThirdParty(svc, logger))
		can(model.CapThirdPartiesManage).Post("/third-parties/{id}/deactivate", handleDeactivateThirdParty(svc, logger))
		can(model.CapThirdPartiesManage).Delete("/third-parties/{id}", handleDeleteThirdParty(svc, logger))

		can(model.CapTemplatesManage).Post("/templates", handleCreateTemplate(svc, logger))
		can(model.CapContractorsView).Get("/templates/{id}", handleGetTemplate(svc, logger))

		can(model.CapContractorsEdit).Post("/contractors", handleCreateContractor(svc, logger))
		r.Route("/contractors/{id}", func(r chi.Router) {
			can := func(capability string) chi.Router { return r.With(RequireCapability(capability), idem) }

			can(model.CapContractorsView).Get("/", handleGetContractor(svc, logger))
			can(model.CapContractorsEdit).Put("/", handleUpdateContractor(svc, logger))
			can(model.CapContractorsEdit).Post("/documents", handleAttachDocument(svc, logger))
			can(model.CapContractorsView).Get("/workflow", handleProgress(svc, logger))
			can(model.CapContractorsEdit).Post("/steps/{stepId}/complete", handleCompleteStep(svc, logger))
			can(model.CapContractorsView).Get("/events", handleEvents(svc, logger))

			sendLink := r.With(RequireCapability(model.CapContractorsSend), idemLink)
			sendLink.Post("/send", handleSend(deps.Tokens, logger))
			sendLink.Post("/resend", handleResend(deps.Tokens, logger))
			can(model.CapContractorsSend).Post("/revoke", handleRevoke(deps.Tokens, logger))
			can(model.CapContractorsActivate).Post("/activate", handleActivate(deps.Signing, logger))
			can(model.CapContractorsSuspend).Post("/suspend", handleSuspend(deps.Signing, logger))
			can(model.CapContractorsView).Get("/document", handleDocument(deps.Documents, logger))
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteNotFound(w, "No route for "+r.Method+" request")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: &model.ErrorEnvelope{
			Code:    model.ErrBadRequest,
			Message: "Method not allowed",
		}})
	})

	return r
}
