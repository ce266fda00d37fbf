package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pitabwire/onboard/model"
)

// MaxMutateAttempts bounds the reload-and-retry loop of Mutate.
const MaxMutateAttempts = 5

// Loader reads the current contractor a mutation applies to.
type Loader func(ctx context.Context) (model.Contractor, error)

// Mutation checks preconditions on c, applies its changes in place and
// returns the events to record. Returning an error aborts without writing.
type Mutation func(c *model.Contractor) ([]model.ContractorEvent, error)

// Mutate runs a read-check-write cycle against s. On a version conflict the
// contractor is reloaded and the mutation re-evaluated against the fresh
// state, so a writer that lost a race sees the winner's changes and fails
// its own preconditions. After MaxMutateAttempts conflicts the CONFLICT
// error is returned.
func Mutate(ctx context.Context, s ContractorStore, load Loader, mutate Mutation) (model.Contractor, error) {
	var err error
	for attempt := 0; attempt < MaxMutateAttempts; attempt++ {
		var c model.Contractor
		c, err = load(ctx)
		if err != nil {
			return model.Contractor{}, err
		}

		events, mErr := mutate(&c)
		if mErr != nil {
			return model.Contractor{}, mErr
		}

		var updated model.Contractor
		updated, err = s.Update(ctx, c, events...)
		if err == nil {
			return updated, nil
		}
		if !model.IsCode(err, model.ErrConflict) {
			return model.Contractor{}, err
		}
		if ctx.Err() != nil {
			return model.Contractor{}, ctx.Err()
		}
	}
	return model.Contractor{}, err
}

// ByID loads a contractor by id.
func ByID(s ContractorStore, id string) Loader {
	return func(ctx context.Context) (model.Contractor, error) {
		return s.Get(ctx, id)
	}
}

// ByToken loads the contractor holding a signing token.
func ByToken(s ContractorStore, token string) Loader {
	return func(ctx context.Context) (model.Contractor, error) {
		return s.GetByToken(ctx, token)
	}
}

// NewEvent builds an audit event for c moving from status from to c's
// current status.
func NewEvent(c *model.Contractor, event string, from model.ContractorStatus, actorID string, at time.Time) model.ContractorEvent {
	if actorID == "" {
		actorID = model.ActorSystem
	}
	return model.ContractorEvent{
		ID:           uuid.New().String(),
		ContractorID: c.ID,
		Event:        event,
		FromStatus:   from,
		ToStatus:     c.Status,
		ActorID:      actorID,
		Timestamp:    at,
	}
}
