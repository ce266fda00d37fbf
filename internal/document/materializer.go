package document

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/onboard/internal/store"
	"github.com/pitabwire/onboard/internal/template"
	"github.com/pitabwire/onboard/model"
)

// Render outcomes reported to observers.
const (
	OutcomeRendered = "rendered"
	OutcomeFailed   = "failed"
	OutcomeSkipped  = "skipped"
)

// DefaultRenderTimeout bounds one asynchronous render.
const DefaultRenderTimeout = 2 * time.Minute

// Observer receives render outcomes and retry queue depth.
type Observer interface {
	OnDocumentRender(ctx context.Context, outcome string)
	OnRetryQueueDepth(depth int64)
}

// Materializer turns the frozen contract text of signed contractors into
// stored PDFs. Failed renders are queued for a later Drain; they never
// affect the signature that triggered them.
type Materializer struct {
	contractors  store.ContractorStore
	thirdParties store.ThirdPartyStore
	renderer     model.DocumentRenderer
	queue        RetryQueue
	logger       *zap.Logger
	observer     Observer
	timeout      time.Duration

	wg sync.WaitGroup
}

// NewMaterializer creates a Materializer. observer may be nil.
func NewMaterializer(
	contractors store.ContractorStore,
	thirdParties store.ThirdPartyStore,
	renderer model.DocumentRenderer,
	queue RetryQueue,
	logger *zap.Logger,
	observer Observer,
) *Materializer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Materializer{
		contractors:  contractors,
		thirdParties: thirdParties,
		renderer:     renderer,
		queue:        queue,
		logger:       logger,
		observer:     observer,
		timeout:      DefaultRenderTimeout,
	}
}

// Schedule renders the contract of contractorID in the background with its
// own context, so the caller's request may finish first.
func (m *Materializer) Schedule(contractorID string) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		if err := m.Materialize(ctx, contractorID); err != nil {
			m.enqueue(ctx, contractorID, err)
		}
	}()
}

// Wait blocks until every scheduled render has finished.
func (m *Materializer) Wait() {
	m.wg.Wait()
}

func (m *Materializer) enqueue(ctx context.Context, contractorID string, cause error) {
	m.logger.Warn("contract render failed, queued for retry",
		zap.String("contractor_id", contractorID),
		zap.Error(cause),
	)
	if err := m.queue.Push(ctx, contractorID); err != nil {
		m.logger.Error("retry queue push failed",
			zap.String("contractor_id", contractorID),
			zap.Error(err),
		)
	}
}

// Materialize renders and stores the contract PDF of a signed contractor
// and records its URL. Contractors that never signed are skipped.
func (m *Materializer) Materialize(ctx context.Context, contractorID string) error {
	c, err := m.contractors.Get(ctx, contractorID)
	if err != nil {
		if model.IsCode(err, model.ErrNotFound) {
			m.report(ctx, OutcomeSkipped)
			return nil
		}
		return err
	}
	if c.Signature == nil || c.SignedDate == nil || c.ContractContent == "" {
		m.report(ctx, OutcomeSkipped)
		return nil
	}

	tp, err := m.thirdParties.Get(ctx, c.ThirdPartyID)
	if err != nil {
		m.report(ctx, OutcomeFailed)
		return fmt.Errorf("load third party: %w", err)
	}

	url, err := m.renderer.Render(ctx, c.ID, c.ContractContent, template.FieldValues(c, tp, *c.SignedDate))
	if err != nil {
		m.report(ctx, OutcomeFailed)
		return model.NewDependencyFailureError("document renderer", err)
	}

	_, err = store.Mutate(ctx, m.contractors, store.ByID(m.contractors, contractorID),
		func(c *model.Contractor) ([]model.ContractorEvent, error) {
			c.DocumentURL = url
			return []model.ContractorEvent{
				store.NewEvent(c, model.EventDocumentRendered, c.Status, model.ActorSystem, time.Now().UTC()),
			}, nil
		})
	if err != nil {
		m.report(ctx, OutcomeFailed)
		return fmt.Errorf("record document url: %w", err)
	}

	m.report(ctx, OutcomeRendered)
	m.logger.Info("contract rendered", zap.String("contractor_id", contractorID))
	return nil
}

// Drain retries up to batch queued renders. Ids that fail again are put
// back on the queue once the batch is done, even if ctx has been cancelled
// by then. It returns how many renders succeeded.
func (m *Materializer) Drain(ctx context.Context, batch int) (int, error) {
	done := 0
	var failed []string
	defer func() {
		requeueCtx := context.WithoutCancel(ctx)
		for _, id := range failed {
			if err := m.queue.Push(requeueCtx, id); err != nil {
				m.logger.Error("retry queue push failed", zap.String("contractor_id", id), zap.Error(err))
			}
		}
		if m.observer != nil {
			if n, err := m.queue.Len(requeueCtx); err == nil {
				m.observer.OnRetryQueueDepth(n)
			}
		}
	}()

	for i := 0; i < batch; i++ {
		id, ok, err := m.queue.Pop(ctx)
		if err != nil {
			return done, err
		}
		if !ok {
			break
		}
		if err := m.Materialize(ctx, id); err != nil {
			m.logger.Warn("contract render retry failed", zap.String("contractor_id", id), zap.Error(err))
			failed = append(failed, id)
			continue
		}
		done++
	}
	return done, nil
}

// Fetch returns the rendered PDF of a contractor.
func (m *Materializer) Fetch(ctx context.Context, contractorID string) ([]byte, error) {
	c, err := m.contractors.Get(ctx, contractorID)
	if err != nil {
		return nil, err
	}
	if c.DocumentURL == "" {
		return nil, model.NewNotFoundError(fmt.Sprintf("contract document for %q has not been rendered", contractorID))
	}
	return m.renderer.Fetch(ctx, contractorID)
}

func (m *Materializer) report(ctx context.Context, outcome string) {
	if m.observer != nil {
		m.observer.OnDocumentRender(ctx, outcome)
	}
}
