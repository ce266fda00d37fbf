package model

import (
	"context"
	"errors"
)

// RequestContext describes who made a request and how to correlate it.
// Admin requests carry the identity read from the verified JWT. Public
// signing requests carry only the correlation and network fields; the
// signature event names the contractor as its actor.
type RequestContext struct {
	SubjectID     string
	Email         string
	Roles         []string
	CorrelationID string
	TraceID       string
	RemoteAddr    string
	UserAgent     string
}

// ErrNoSubject is returned by Validate for a context without a subject.
var ErrNoSubject = errors.New("request context has no subject")

// Validate checks that an authenticated subject is present.
func (rc *RequestContext) Validate() error {
	if rc == nil || rc.SubjectID == "" {
		return ErrNoSubject
	}
	return nil
}

// Actor returns the id recorded in audit events for this request:
// the subject for admin requests and ActorSystem otherwise.
func (rc *RequestContext) Actor() string {
	if rc == nil || rc.SubjectID == "" {
		return ActorSystem
	}
	return rc.SubjectID
}

type contextKey struct{}

// WithRequestContext attaches rctx to ctx.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rctx)
}

// RequestContextFrom returns the RequestContext attached to ctx, or nil.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rctx
}
