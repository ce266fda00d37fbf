// Package store persists contractors, third parties, templates and
// credentials. Every store has an in-memory implementation for tests and
// single-process deployments and a PostgreSQL implementation built on pgx.
package store

import (
	"context"
	"time"

	"github.com/pitabwire/onboard/model"
)

// ContractorStore persists contractors and their audit trail.
type ContractorStore interface {
	// Create persists a new contractor together with its initial events.
	// Returns CONFLICT if the id already exists.
	Create(ctx context.Context, c model.Contractor, events ...model.ContractorEvent) error

	// Get retrieves a contractor by id. Returns NOT_FOUND if absent.
	Get(ctx context.Context, id string) (model.Contractor, error)

	// GetByToken retrieves the contractor holding the given signing token.
	// Returns NOT_FOUND if no contractor holds it.
	GetByToken(ctx context.Context, token string) (model.Contractor, error)

	// Update replaces the stored contractor and appends events in one atomic
	// write. c.Version must equal the stored version, otherwise CONFLICT is
	// returned and nothing is written. A token already held by another
	// contractor is also a CONFLICT. The stored record, with its version
	// incremented, is returned.
	Update(ctx context.Context, c model.Contractor, events ...model.ContractorEvent) (model.Contractor, error)

	// Events returns the audit trail of a contractor, oldest first.
	Events(ctx context.Context, id string) ([]model.ContractorEvent, error)

	// CountByThirdParty returns how many contractors reference a third party.
	CountByThirdParty(ctx context.Context, thirdPartyID string) (int, error)
}

// ThirdPartyStore persists third parties.
type ThirdPartyStore interface {
	Create(ctx context.Context, tp model.ThirdParty) error
	Get(ctx context.Context, id string) (model.ThirdParty, error)
	Update(ctx context.Context, tp model.ThirdParty) error

	// Delete removes a third party. Returns INVALID_STATE while any
	// contractor references it.
	Delete(ctx context.Context, id string) error
}

// TemplateStore persists document templates.
type TemplateStore interface {
	Create(ctx context.Context, t model.Template) error
	Get(ctx context.Context, id string) (model.Template, error)

	// ListByType returns every template of the given type, newest first.
	ListByType(ctx context.Context, tt model.TemplateType) ([]model.Template, error)
}

// CredentialStore persists provisioned contractor logins.
type CredentialStore interface {
	// Put stores the credential of a contractor. An existing credential is
	// replaced only when it was created before replaceBefore; otherwise Put
	// returns a CONFLICT error and leaves it in place.
	Put(ctx context.Context, c model.Credential, replaceBefore time.Time) error
	Get(ctx context.Context, contractorID string) (model.Credential, error)

	// Delete removes the credential of contractorID if its hash is still
	// passwordHash, and returns NOT_FOUND otherwise.
	Delete(ctx context.Context, contractorID, passwordHash string) error
}
