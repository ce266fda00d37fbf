package document

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/onboard/internal/store"
	"github.com/pitabwire/onboard/model"
)

// --- Object stores ---

func TestMemoryObjectStore(t *testing.T) {
	s := NewMemoryObjectStore("http://docs.local")
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !model.IsCode(err, model.ErrNotFound) {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}

	data := []byte("pdf-bytes")
	if err := s.Put(ctx, "contracts/c1.pdf", data, pdfContentType); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	data[0] = 'X'

	got, err := s.Get(ctx, "contracts/c1.pdf")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if string(got) != "pdf-bytes" {
		t.Errorf("Get = %q, stored data aliased caller's slice", got)
	}
	url, _ := s.URL(ctx, "contracts/c1.pdf")
	if url != "http://docs.local/contracts/c1.pdf" {
		t.Errorf("URL = %q", url)
	}
}

// --- PDF rendering ---

func TestPDFRenderer_RenderFetch(t *testing.T) {
	objects := NewMemoryObjectStore("http://docs.local")
	r := NewPDFRenderer(objects)
	ctx := context.Background()

	fields := map[string]string{
		"full_name":      "Zoë Ångström",
		"signature_name": "Zoë Ångström",
		"signed_date":    "2026-10-15",
	}
	url, err := r.Render(ctx, "c1", "CONTRACT\n\nThe contractor agrees.\nSecond line.", fields)
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	if url != "http://docs.local/contracts/c1.pdf" {
		t.Errorf("URL = %q", url)
	}

	data, err := r.Fetch(ctx, "c1")
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		t.Errorf("output is not a PDF: %q", data[:8])
	}

	if _, err := r.Fetch(ctx, "c2"); !model.IsCode(err, model.ErrNotFound) {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}
}

func TestHeaderLines(t *testing.T) {
	lines := headerLines(map[string]string{"full_name": "Jane Doe", "contract_date": "2026-10-15"})
	if len(lines) != 2 || lines[0] != "Contractor: Jane Doe" || lines[1] != "Contract date: 2026-10-15" {
		t.Errorf("headerLines = %v", lines)
	}
}

// --- Retry queues ---

func TestMemoryRetryQueue(t *testing.T) {
	q := NewMemoryRetryQueue()
	ctx := context.Background()

	_ = q.Push(ctx, "a")
	_ = q.Push(ctx, "b")
	_ = q.Push(ctx, "a") // already waiting

	if n, _ := q.Len(ctx); n != 2 {
		t.Errorf("Len = %d, want 2", n)
	}
	for _, want := range []string{"a", "b"} {
		id, ok, err := q.Pop(ctx)
		if err != nil || !ok || id != want {
			t.Errorf("Pop = (%q, %v, %v), want %q", id, ok, err, want)
		}
	}
	if _, ok, _ := q.Pop(ctx); ok {
		t.Error("Pop on empty queue returned ok")
	}
}

func TestRedisRetryQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := NewRedisRetryQueue(client, "")
	ctx := context.Background()

	_ = q.Push(ctx, "a")
	_ = q.Push(ctx, "b")

	if n, _ := q.Len(ctx); n != 2 {
		t.Errorf("Len = %d, want 2", n)
	}
	if !mr.Exists(DefaultRetryKey) {
		t.Errorf("key %q not created", DefaultRetryKey)
	}
	id, ok, err := q.Pop(ctx)
	if err != nil || !ok || id != "a" {
		t.Errorf("Pop = (%q, %v, %v), want a", id, ok, err)
	}
	_, _, _ = q.Pop(ctx)
	if _, ok, err := q.Pop(ctx); ok || err != nil {
		t.Errorf("Pop on empty = (%v, %v)", ok, err)
	}
}

func TestRedisRetryQueue_unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := NewRedisRetryQueue(client, "k")
	ctx := context.Background()

	if err := q.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	mr.Close()

	if err := q.Push(ctx, "a"); err == nil {
		t.Error("expected error with redis down")
	}
	if err := q.HealthCheck(ctx); err == nil {
		t.Error("expected HealthCheck error with redis down")
	}
}

// --- Materializer ---

type flakyRenderer struct {
	mu       sync.Mutex
	failures int
	calls    int
	inner    *PDFRenderer
	onRender func()
}

func (f *flakyRenderer) Render(ctx context.Context, id, content string, fields map[string]string) (string, error) {
	f.mu.Lock()
	f.calls++
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	onRender := f.onRender
	f.mu.Unlock()
	if onRender != nil {
		onRender()
	}
	if fail {
		return "", errors.New("renderer offline")
	}
	return f.inner.Render(ctx, id, content, fields)
}

func (f *flakyRenderer) Fetch(ctx context.Context, id string) ([]byte, error) {
	return f.inner.Fetch(ctx, id)
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
	depth    int64
}

func (r *recordingObserver) OnDocumentRender(_ context.Context, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *recordingObserver) OnRetryQueueDepth(depth int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.depth = depth
}

// ctxQueue refuses pushes on a done context, like a network-backed queue.
type ctxQueue struct {
	*MemoryRetryQueue
}

func (q ctxQueue) Push(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return q.MemoryRetryQueue.Push(ctx, id)
}

type materializerFixture struct {
	m           *Materializer
	contractors *store.MemoryContractorStore
	renderer    *flakyRenderer
	queue       *MemoryRetryQueue
	observer    *recordingObserver
}

func newMaterializerFixture(t *testing.T, failures int) *materializerFixture {
	t.Helper()
	ctx := context.Background()
	f := &materializerFixture{
		contractors: store.NewMemoryContractorStore(),
		renderer:    &flakyRenderer{failures: failures, inner: NewPDFRenderer(NewMemoryObjectStore("http://docs.local"))},
		queue:       NewMemoryRetryQueue(),
		observer:    &recordingObserver{},
	}
	thirdParties := store.NewMemoryThirdPartyStore(nil)
	_ = thirdParties.Create(ctx, model.ThirdParty{ID: "tp-1", Name: "Acme", Country: model.CountryQatar, BusinessType: model.BusinessPerm})

	signedAt := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	_ = f.contractors.Create(ctx, model.Contractor{
		ID:              "signed",
		ThirdPartyID:    "tp-1",
		Status:          model.StatusSigned,
		Signature:       &model.Signature{Type: model.SignatureTyped, Data: "Jane Doe", SignedAt: signedAt},
		SignedDate:      &signedAt,
		ContractContent: "Frozen contract text",
		Version:         1,
	})
	_ = f.contractors.Create(ctx, model.Contractor{ID: "draft", ThirdPartyID: "tp-1", Status: model.StatusDraft, Version: 1})

	f.m = NewMaterializer(f.contractors, thirdParties, f.renderer, f.queue, nil, f.observer)
	return f
}

func TestMaterializer_Materialize(t *testing.T) {
	f := newMaterializerFixture(t, 0)
	ctx := context.Background()

	if err := f.m.Materialize(ctx, "signed"); err != nil {
		t.Fatalf("Materialize error: %v", err)
	}
	c, _ := f.contractors.Get(ctx, "signed")
	if c.DocumentURL != "http://docs.local/contracts/signed.pdf" {
		t.Errorf("DocumentURL = %q", c.DocumentURL)
	}
	if c.Status != model.StatusSigned {
		t.Errorf("Status = %s, render must not change status", c.Status)
	}
	events, _ := f.contractors.Events(ctx, "signed")
	if len(events) != 1 || events[0].Event != model.EventDocumentRendered {
		t.Errorf("events = %+v", events)
	}

	pdf, err := f.m.Fetch(ctx, "signed")
	if err != nil || !bytes.HasPrefix(pdf, []byte("%PDF-")) {
		t.Errorf("Fetch = %d bytes, %v", len(pdf), err)
	}
}

func TestMaterializer_skipsUnsigned(t *testing.T) {
	f := newMaterializerFixture(t, 0)
	ctx := context.Background()

	if err := f.m.Materialize(ctx, "draft"); err != nil {
		t.Errorf("Materialize(draft) error: %v", err)
	}
	if err := f.m.Materialize(ctx, "ghost"); err != nil {
		t.Errorf("Materialize(ghost) error: %v", err)
	}
	if f.renderer.calls != 0 {
		t.Errorf("renderer called %d times", f.renderer.calls)
	}
	if _, err := f.m.Fetch(ctx, "draft"); !model.IsCode(err, model.ErrNotFound) {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}
}

func TestMaterializer_ScheduleFailureQueuesRetry(t *testing.T) {
	f := newMaterializerFixture(t, 1)
	ctx := context.Background()

	f.m.Schedule("signed")
	f.m.Wait()

	if n, _ := f.queue.Len(ctx); n != 1 {
		t.Fatalf("queue length = %d, want 1", n)
	}
	c, _ := f.contractors.Get(ctx, "signed")
	if c.DocumentURL != "" {
		t.Error("DocumentURL set after failed render")
	}

	done, err := f.m.Drain(ctx, 10)
	if err != nil {
		t.Fatalf("Drain error: %v", err)
	}
	if done != 1 {
		t.Errorf("Drain rendered %d, want 1", done)
	}
	if n, _ := f.queue.Len(ctx); n != 0 {
		t.Errorf("queue length = %d after drain, want 0", n)
	}
	c, _ = f.contractors.Get(ctx, "signed")
	if c.DocumentURL == "" {
		t.Error("DocumentURL not set after retry")
	}
	if f.observer.depth != 0 {
		t.Errorf("observed depth = %d, want 0", f.observer.depth)
	}
}

func TestMaterializer_DrainRequeuesFailures(t *testing.T) {
	f := newMaterializerFixture(t, 100)
	ctx := context.Background()
	_ = f.queue.Push(ctx, "signed")

	done, err := f.m.Drain(ctx, 10)
	if err != nil {
		t.Fatalf("Drain error: %v", err)
	}
	if done != 0 {
		t.Errorf("done = %d, want 0", done)
	}
	if f.renderer.calls != 1 {
		t.Errorf("renderer calls = %d, want 1 per drain", f.renderer.calls)
	}
	if n, _ := f.queue.Len(ctx); n != 1 {
		t.Errorf("queue length = %d, want 1", n)
	}
	if f.observer.depth != 1 {
		t.Errorf("observed depth = %d, want 1", f.observer.depth)
	}
}

func TestMaterializer_DrainRequeuesAfterCancel(t *testing.T) {
	f := newMaterializerFixture(t, 1)
	f.m.queue = ctxQueue{f.queue}
	_ = f.queue.Push(context.Background(), "signed")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.renderer.onRender = cancel

	done, err := f.m.Drain(ctx, 10)
	if err != nil {
		t.Fatalf("Drain error: %v", err)
	}
	if done != 0 {
		t.Errorf("done = %d, want 0", done)
	}
	if n, _ := f.queue.Len(context.Background()); n != 1 {
		t.Errorf("queue length = %d, want the failed id back", n)
	}
	if f.observer.depth != 1 {
		t.Errorf("observed depth = %d, want 1", f.observer.depth)
	}
}
