package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pitabwire/onboard/model"
)

// MemoryContractorStore is an in-memory ContractorStore. A single mutex
// serializes writes, which makes the version check and the write one atomic
// step.
type MemoryContractorStore struct {
	mu          sync.RWMutex
	contractors map[string]model.Contractor        // key: contractor ID
	tokens      map[string]string                  // key: token, value: contractor ID
	events      map[string][]model.ContractorEvent // key: contractor ID
}

// NewMemoryContractorStore creates an empty in-memory contractor store.
func NewMemoryContractorStore() *MemoryContractorStore {
	return &MemoryContractorStore{
		contractors: make(map[string]model.Contractor),
		tokens:      make(map[string]string),
		events:      make(map[string][]model.ContractorEvent),
	}
}

// Create persists a new contractor.
func (s *MemoryContractorStore) Create(_ context.Context, c model.Contractor, events ...model.ContractorEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.contractors[c.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("contractor %q already exists", c.ID))
	}
	if c.HasToken() {
		if _, taken := s.tokens[c.ContractToken]; taken {
			return model.NewConflictError("contract token already in use")
		}
		s.tokens[c.ContractToken] = c.ID
	}

	s.contractors[c.ID] = c.Clone()
	s.events[c.ID] = append(s.events[c.ID], events...)
	return nil
}

// Get retrieves a contractor by ID.
func (s *MemoryContractorStore) Get(_ context.Context, id string) (model.Contractor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.contractors[id]
	if !exists {
		return model.Contractor{}, model.NewNotFoundError(fmt.Sprintf("contractor %q not found", id))
	}
	return c.Clone(), nil
}

// GetByToken retrieves the contractor holding token.
func (s *MemoryContractorStore) GetByToken(_ context.Context, token string) (model.Contractor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.tokens[token]
	if token == "" || !exists {
		return model.Contractor{}, model.NewNotFoundError("contract link not found")
	}
	return s.contractors[id].Clone(), nil
}

// Update persists c with optimistic locking.
func (s *MemoryContractorStore) Update(_ context.Context, c model.Contractor, events ...model.ContractorEvent) (model.Contractor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.contractors[c.ID]
	if !exists {
		return model.Contractor{}, model.NewNotFoundError(fmt.Sprintf("contractor %q not found", c.ID))
	}
	if existing.Version != c.Version {
		return model.Contractor{}, model.NewConflictError(
			fmt.Sprintf("contractor %q version conflict (expected %d, got %d)", c.ID, c.Version, existing.Version),
		)
	}
	if c.HasToken() {
		if owner, taken := s.tokens[c.ContractToken]; taken && owner != c.ID {
			return model.Contractor{}, model.NewConflictError("contract token already in use")
		}
	}

	if existing.HasToken() {
		delete(s.tokens, existing.ContractToken)
	}
	if c.HasToken() {
		s.tokens[c.ContractToken] = c.ID
	}

	c.Version++
	c.UpdatedAt = time.Now().UTC()
	s.contractors[c.ID] = c.Clone()
	s.events[c.ID] = append(s.events[c.ID], events...)
	return c.Clone(), nil
}

// Events returns the audit trail ordered by timestamp.
func (s *MemoryContractorStore) Events(_ context.Context, id string) ([]model.ContractorEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.contractors[id]; !exists {
		return nil, model.NewNotFoundError(fmt.Sprintf("contractor %q not found", id))
	}

	result := make([]model.ContractorEvent, len(s.events[id]))
	copy(result, s.events[id])
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// CountByThirdParty counts contractors placed under a third party.
func (s *MemoryContractorStore) CountByThirdParty(_ context.Context, thirdPartyID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, c := range s.contractors {
		if c.ThirdPartyID == thirdPartyID {
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored contractors. For testing.
func (s *MemoryContractorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.contractors)
}

// MemoryThirdPartyStore is an in-memory ThirdPartyStore. Delete consults
// the contractor store it was built with for references.
type MemoryThirdPartyStore struct {
	mu          sync.RWMutex
	parties     map[string]model.ThirdParty
	contractors ContractorStore
}

// NewMemoryThirdPartyStore creates an in-memory third-party store. contractors
// may be nil, in which case Delete never refuses.
func NewMemoryThirdPartyStore(contractors ContractorStore) *MemoryThirdPartyStore {
	return &MemoryThirdPartyStore{
		parties:     make(map[string]model.ThirdParty),
		contractors: contractors,
	}
}

// Create persists a new third party.
func (s *MemoryThirdPartyStore) Create(_ context.Context, tp model.ThirdParty) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.parties[tp.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("third party %q already exists", tp.ID))
	}
	s.parties[tp.ID] = tp
	return nil
}

// Get retrieves a third party by ID.
func (s *MemoryThirdPartyStore) Get(_ context.Context, id string) (model.ThirdParty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tp, exists := s.parties[id]
	if !exists {
		return model.ThirdParty{}, model.NewNotFoundError(fmt.Sprintf("third party %q not found", id))
	}
	return tp, nil
}

// Update replaces a stored third party.
func (s *MemoryThirdPartyStore) Update(_ context.Context, tp model.ThirdParty) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.parties[tp.ID]; !exists {
		return model.NewNotFoundError(fmt.Sprintf("third party %q not found", tp.ID))
	}
	tp.UpdatedAt = time.Now().UTC()
	s.parties[tp.ID] = tp
	return nil
}

// Delete removes an unreferenced third party.
func (s *MemoryThirdPartyStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.parties[id]; !exists {
		return model.NewNotFoundError(fmt.Sprintf("third party %q not found", id))
	}
	if s.contractors != nil {
		n, err := s.contractors.CountByThirdParty(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return model.NewInvalidStateError(
				fmt.Sprintf("third party %q is referenced by %d contractor(s)", id, n),
			)
		}
	}
	delete(s.parties, id)
	return nil
}

// MemoryTemplateStore is an in-memory TemplateStore.
type MemoryTemplateStore struct {
	mu        sync.RWMutex
	templates map[string]model.Template
}

// NewMemoryTemplateStore creates an empty in-memory template store.
func NewMemoryTemplateStore() *MemoryTemplateStore {
	return &MemoryTemplateStore{templates: make(map[string]model.Template)}
}

// Create persists a new template.
func (s *MemoryTemplateStore) Create(_ context.Context, t model.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.templates[t.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("template %q already exists", t.ID))
	}
	s.templates[t.ID] = t
	return nil
}

// Get retrieves a template by ID.
func (s *MemoryTemplateStore) Get(_ context.Context, id string) (model.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.templates[id]
	if !exists {
		return model.Template{}, model.NewNotFoundError(fmt.Sprintf("template %q not found", id))
	}
	return t, nil
}

// ListByType returns templates of type tt, newest first.
func (s *MemoryTemplateStore) ListByType(_ context.Context, tt model.TemplateType) ([]model.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Template
	for _, t := range s.templates {
		if t.Type == tt {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// MemoryCredentialStore is an in-memory CredentialStore.
type MemoryCredentialStore struct {
	mu    sync.RWMutex
	creds map[string]model.Credential
}

// NewMemoryCredentialStore creates an empty in-memory credential store.
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{creds: make(map[string]model.Credential)}
}

// Put creates a credential or replaces one created before replaceBefore.
func (s *MemoryCredentialStore) Put(_ context.Context, c model.Credential, replaceBefore time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.creds[c.ContractorID]; ok && !existing.CreatedAt.Before(replaceBefore) {
		return model.NewConflictError(
			fmt.Sprintf("credential for contractor %q was provisioned at %s", c.ContractorID, existing.CreatedAt.Format(time.RFC3339)),
		)
	}
	s.creds[c.ContractorID] = c
	return nil
}

// Delete removes a credential whose hash still matches passwordHash.
func (s *MemoryCredentialStore) Delete(_ context.Context, contractorID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.creds[contractorID]
	if !ok || existing.PasswordHash != passwordHash {
		return model.NewNotFoundError(
			fmt.Sprintf("credential for contractor %q not found", contractorID),
		)
	}
	delete(s.creds, contractorID)
	return nil
}

// Get retrieves the credential of a contractor.
func (s *MemoryCredentialStore) Get(_ context.Context, contractorID string) (model.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.creds[contractorID]
	if !exists {
		return model.Credential{}, model.NewNotFoundError(
			fmt.Sprintf("credential for contractor %q not found", contractorID),
		)
	}
	return c, nil
}
