package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pitabwire/onboard/model"
)

func testContractor(id string) model.Contractor {
	now := time.Now().UTC()
	return model.Contractor{
		ID:           id,
		ThirdPartyID: "tp-1",
		Status:       model.StatusDraft,
		Personal:     model.PersonalDetails{FirstName: "Jane", LastName: "Doe", Email: "jane@example.com"},
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func testEvent(contractorID, event string, ts time.Time) model.ContractorEvent {
	return model.ContractorEvent{
		ID:           contractorID + "-" + event,
		ContractorID: contractorID,
		Event:        event,
		ActorID:      "admin",
		Timestamp:    ts,
	}
}

// --- Contractors ---

func TestMemoryContractorStore_CreateGet(t *testing.T) {
	s := NewMemoryContractorStore()
	c := testContractor("c1")

	if err := s.Create(context.Background(), c, testEvent("c1", model.EventCreated, time.Now())); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	got, err := s.Get(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.Personal.Email != "jane@example.com" {
		t.Errorf("Email = %q", got.Personal.Email)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestMemoryContractorStore_Create_duplicate(t *testing.T) {
	s := NewMemoryContractorStore()
	_ = s.Create(context.Background(), testContractor("c1"))

	err := s.Create(context.Background(), testContractor("c1"))
	if !model.IsCode(err, model.ErrConflict) {
		t.Errorf("err = %v, want CONFLICT", err)
	}
}

func TestMemoryContractorStore_Get_notFound(t *testing.T) {
	s := NewMemoryContractorStore()
	_, err := s.Get(context.Background(), "missing")
	if !model.IsCode(err, model.ErrNotFound) {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}
}

func TestMemoryContractorStore_Get_returnsCopy(t *testing.T) {
	s := NewMemoryContractorStore()
	c := testContractor("c1")
	c.CompletedSteps = []string{"a"}
	_ = s.Create(context.Background(), c)

	got, _ := s.Get(context.Background(), "c1")
	got.CompletedSteps[0] = "mutated"

	again, _ := s.Get(context.Background(), "c1")
	if again.CompletedSteps[0] != "a" {
		t.Error("stored contractor was mutated through a returned copy")
	}
}

func TestMemoryContractorStore_Update_versionCheck(t *testing.T) {
	s := NewMemoryContractorStore()
	_ = s.Create(context.Background(), testContractor("c1"))

	c, _ := s.Get(context.Background(), "c1")
	c.Personal.Phone = "+971"
	updated, err := s.Update(context.Background(), c)
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("Version = %d, want 2", updated.Version)
	}

	// Stale version.
	c.Personal.Phone = "+974"
	_, err = s.Update(context.Background(), c)
	if !model.IsCode(err, model.ErrConflict) {
		t.Fatalf("err = %v, want CONFLICT", err)
	}
	got, _ := s.Get(context.Background(), "c1")
	if got.Personal.Phone != "+971" {
		t.Errorf("Phone = %q, stale write leaked", got.Personal.Phone)
	}
}

func TestMemoryContractorStore_Update_notFound(t *testing.T) {
	s := NewMemoryContractorStore()
	_, err := s.Update(context.Background(), testContractor("ghost"))
	if !model.IsCode(err, model.ErrNotFound) {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}
}

func TestMemoryContractorStore_tokenIndex(t *testing.T) {
	s := NewMemoryContractorStore()
	ctx := context.Background()
	_ = s.Create(ctx, testContractor("c1"))
	_ = s.Create(ctx, testContractor("c2"))

	c1, _ := s.Get(ctx, "c1")
	c1.SetToken("tok-1", time.Now().Add(time.Hour))
	if _, err := s.Update(ctx, c1); err != nil {
		t.Fatalf("Update error: %v", err)
	}

	got, err := s.GetByToken(ctx, "tok-1")
	if err != nil {
		t.Fatalf("GetByToken error: %v", err)
	}
	if got.ID != "c1" {
		t.Errorf("ID = %q, want c1", got.ID)
	}

	// Another contractor cannot take the same token.
	c2, _ := s.Get(ctx, "c2")
	c2.SetToken("tok-1", time.Now().Add(time.Hour))
	if _, err := s.Update(ctx, c2); !model.IsCode(err, model.ErrConflict) {
		t.Errorf("err = %v, want CONFLICT", err)
	}

	// Replacing the token drops the old index entry.
	c1 = got
	c1.SetToken("tok-2", time.Now().Add(time.Hour))
	if _, err := s.Update(ctx, c1); err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if _, err := s.GetByToken(ctx, "tok-1"); !model.IsCode(err, model.ErrNotFound) {
		t.Errorf("old token err = %v, want NOT_FOUND", err)
	}

	// Clearing the token drops it entirely.
	c1, _ = s.Get(ctx, "c1")
	c1.ClearToken()
	if _, err := s.Update(ctx, c1); err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if _, err := s.GetByToken(ctx, "tok-2"); !model.IsCode(err, model.ErrNotFound) {
		t.Errorf("cleared token err = %v, want NOT_FOUND", err)
	}
	if _, err := s.GetByToken(ctx, ""); !model.IsCode(err, model.ErrNotFound) {
		t.Errorf("empty token err = %v, want NOT_FOUND", err)
	}
}

func TestMemoryContractorStore_Update_concurrentSingleWinner(t *testing.T) {
	s := NewMemoryContractorStore()
	ctx := context.Background()
	_ = s.Create(ctx, testContractor("c1"))
	base, _ := s.Get(ctx, "c1")

	const writers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := base.Clone()
			c.Status = model.StatusPendingSignature
			if _, err := s.Update(ctx, c); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("successful writers = %d, want 1", wins)
	}
}

func TestMemoryContractorStore_Events(t *testing.T) {
	s := NewMemoryContractorStore()
	ctx := context.Background()
	now := time.Now().UTC()
	_ = s.Create(ctx, testContractor("c1"), testEvent("c1", model.EventCreated, now))

	c, _ := s.Get(ctx, "c1")
	_, _ = s.Update(ctx, c, testEvent("c1", model.EventDetailsUpdated, now.Add(time.Second)))

	events, err := s.Events(ctx, "c1")
	if err != nil {
		t.Fatalf("Events error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[0].Event != model.EventCreated || events[1].Event != model.EventDetailsUpdated {
		t.Errorf("events out of order: %v, %v", events[0].Event, events[1].Event)
	}

	// A conflicting update appends nothing.
	_, _ = s.Update(ctx, c, testEvent("c1", model.EventSuspended, now.Add(2*time.Second)))
	events, _ = s.Events(ctx, "c1")
	if len(events) != 2 {
		t.Errorf("len(events) = %d after conflict, want 2", len(events))
	}

	if _, err := s.Events(ctx, "missing"); !model.IsCode(err, model.ErrNotFound) {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}
}

func TestMemoryContractorStore_CountByThirdParty(t *testing.T) {
	s := NewMemoryContractorStore()
	ctx := context.Background()
	_ = s.Create(ctx, testContractor("c1"))
	_ = s.Create(ctx, testContractor("c2"))
	other := testContractor("c3")
	other.ThirdPartyID = "tp-2"
	_ = s.Create(ctx, other)

	n, _ := s.CountByThirdParty(ctx, "tp-1")
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
}

// --- Third parties ---

func TestMemoryThirdPartyStore(t *testing.T) {
	contractors := NewMemoryContractorStore()
	s := NewMemoryThirdPartyStore(contractors)
	ctx := context.Background()

	tp := model.ThirdParty{
		ID:           "tp-1",
		Name:         "Gulf Staffing",
		Country:      model.CountryUAE,
		BusinessType: model.BusinessUAE,
		IsActive:     true,
	}
	if err := s.Create(ctx, tp); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := s.Create(ctx, tp); !model.IsCode(err, model.ErrConflict) {
		t.Errorf("duplicate err = %v, want CONFLICT", err)
	}

	tp.IsActive = false
	if err := s.Update(ctx, tp); err != nil {
		t.Fatalf("Update error: %v", err)
	}
	got, _ := s.Get(ctx, "tp-1")
	if got.IsActive {
		t.Error("IsActive = true after deactivate")
	}

	_ = contractors.Create(ctx, testContractor("c1"))
	if err := s.Delete(ctx, "tp-1"); !model.IsCode(err, model.ErrInvalidState) {
		t.Errorf("referenced delete err = %v, want INVALID_STATE", err)
	}

	unreferenced := tp
	unreferenced.ID = "tp-2"
	_ = s.Create(ctx, unreferenced)
	if err := s.Delete(ctx, "tp-2"); err != nil {
		t.Errorf("Delete error: %v", err)
	}
	if _, err := s.Get(ctx, "tp-2"); !model.IsCode(err, model.ErrNotFound) {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}
	if err := s.Delete(ctx, "tp-2"); !model.IsCode(err, model.ErrNotFound) {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}
}

// --- Templates ---

func TestMemoryTemplateStore_ListByType(t *testing.T) {
	s := NewMemoryTemplateStore()
	ctx := context.Background()
	now := time.Now().UTC()

	_ = s.Create(ctx, model.Template{ID: "old", Type: model.TemplateContract, Content: "a", CreatedAt: now.Add(-time.Hour)})
	_ = s.Create(ctx, model.Template{ID: "new", Type: model.TemplateContract, Content: "b", CreatedAt: now})
	_ = s.Create(ctx, model.Template{ID: "cds", Type: model.TemplateCDS, Content: "c", CreatedAt: now})

	got, err := s.ListByType(ctx, model.TemplateContract)
	if err != nil {
		t.Fatalf("ListByType error: %v", err)
	}
	if len(got) != 2 || got[0].ID != "new" || got[1].ID != "old" {
		t.Errorf("ListByType = %+v", got)
	}
	if _, err := s.Get(ctx, "missing"); !model.IsCode(err, model.ErrNotFound) {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}
}

// --- Credentials ---

func TestMemoryCredentialStore(t *testing.T) {
	s := NewMemoryCredentialStore()
	ctx := context.Background()
	t0 := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

	if _, err := s.Get(ctx, "c1"); !model.IsCode(err, model.ErrNotFound) {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}
	if err := s.Put(ctx, model.Credential{ContractorID: "c1", PasswordHash: "h1", CreatedAt: t0}, t0); err != nil {
		t.Fatalf("Put error: %v", err)
	}

	// A credential created at or after replaceBefore is kept.
	err := s.Put(ctx, model.Credential{ContractorID: "c1", PasswordHash: "h2", CreatedAt: t0.Add(time.Minute)}, t0)
	if !model.IsCode(err, model.ErrConflict) {
		t.Errorf("err = %v, want CONFLICT", err)
	}
	if got, _ := s.Get(ctx, "c1"); got.PasswordHash != "h1" {
		t.Errorf("PasswordHash = %q, want h1", got.PasswordHash)
	}

	if err := s.Put(ctx, model.Credential{ContractorID: "c1", PasswordHash: "h2", CreatedAt: t0.Add(time.Hour)}, t0.Add(time.Second)); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	got, err := s.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.PasswordHash != "h2" {
		t.Errorf("PasswordHash = %q, want h2", got.PasswordHash)
	}
}

func TestMemoryCredentialStore_DeleteMatchesHash(t *testing.T) {
	s := NewMemoryCredentialStore()
	ctx := context.Background()
	_ = s.Put(ctx, model.Credential{ContractorID: "c1", PasswordHash: "h1"}, time.Time{})

	if err := s.Delete(ctx, "c1", "other"); !model.IsCode(err, model.ErrNotFound) {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}
	if _, err := s.Get(ctx, "c1"); err != nil {
		t.Fatalf("credential removed by a stale hash: %v", err)
	}
	if err := s.Delete(ctx, "c1", "h1"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, err := s.Get(ctx, "c1"); !model.IsCode(err, model.ErrNotFound) {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}
}
