package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/onboard/model"
)

//go:embed schema.sql
var schemaSQL string

// Migrate creates the tables used by the Pg* stores if they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// PgContractorStore is a PostgreSQL-backed ContractorStore using pgx/v5.
type PgContractorStore struct {
	pool *pgxpool.Pool
}

// NewPgContractorStore creates a new PostgreSQL contractor store.
func NewPgContractorStore(pool *pgxpool.Pool) *PgContractorStore {
	return &PgContractorStore{pool: pool}
}

const contractorColumns = `
	id, third_party_id, status, personal, placement, financial,
	documents, completed_steps, current_step_id, contract_token, token_expiry,
	signature, contract_content, document_url,
	sent_date, signed_date, activated_date, suspended_date, suspension_reason,
	version, created_at, updated_at`

// contractorRow is the column encoding of a contractor.
type contractorRow struct {
	personal, placement, financial, documents, signature []byte
	token                                                *string
}

func encodeContractor(c model.Contractor) (contractorRow, error) {
	var r contractorRow
	var err error
	if r.personal, err = json.Marshal(c.Personal); err != nil {
		return r, fmt.Errorf("marshal personal: %w", err)
	}
	if r.placement, err = json.Marshal(c.Placement); err != nil {
		return r, fmt.Errorf("marshal placement: %w", err)
	}
	if r.financial, err = json.Marshal(c.Financial); err != nil {
		return r, fmt.Errorf("marshal financial: %w", err)
	}
	docs := c.Documents
	if docs == nil {
		docs = map[model.DocumentKind]model.DocumentRef{}
	}
	if r.documents, err = json.Marshal(docs); err != nil {
		return r, fmt.Errorf("marshal documents: %w", err)
	}
	if c.Signature != nil {
		if r.signature, err = json.Marshal(c.Signature); err != nil {
			return r, fmt.Errorf("marshal signature: %w", err)
		}
	}
	if c.HasToken() {
		tok := c.ContractToken
		r.token = &tok
	}
	return r, nil
}

func scanContractor(row pgx.Row) (model.Contractor, error) {
	var c model.Contractor
	var r contractorRow
	var status string
	steps := []string{}

	err := row.Scan(
		&c.ID, &c.ThirdPartyID, &status, &r.personal, &r.placement, &r.financial,
		&r.documents, &steps, &c.CurrentStepID, &r.token, &c.TokenExpiry,
		&r.signature, &c.ContractContent, &c.DocumentURL,
		&c.SentDate, &c.SignedDate, &c.ActivatedDate, &c.SuspendedDate, &c.SuspensionReason,
		&c.Version, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return model.Contractor{}, err
	}

	c.Status = model.ContractorStatus(status)
	c.CompletedSteps = steps
	if r.token != nil {
		c.ContractToken = *r.token
	}
	for _, f := range []struct {
		name string
		raw  []byte
		dst  any
	}{
		{"personal", r.personal, &c.Personal},
		{"placement", r.placement, &c.Placement},
		{"financial", r.financial, &c.Financial},
		{"documents", r.documents, &c.Documents},
		{"signature", r.signature, &c.Signature},
	} {
		if f.raw == nil {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return model.Contractor{}, fmt.Errorf("unmarshal %s: %w", f.name, err)
		}
	}
	return c, nil
}

// Create inserts a new contractor and its events in one transaction.
func (s *PgContractorStore) Create(ctx context.Context, c model.Contractor, events ...model.ContractorEvent) error {
	r, err := encodeContractor(c)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO contractors (`+contractorColumns+`)
		VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14,
			$15, $16, $17, $18, $19,
			$20, $21, $22
		)`,
		c.ID, c.ThirdPartyID, string(c.Status), r.personal, r.placement, r.financial,
		r.documents, nonNilSteps(c.CompletedSteps), c.CurrentStepID, r.token, c.TokenExpiry,
		r.signature, c.ContractContent, c.DocumentURL,
		c.SentDate, c.SignedDate, c.ActivatedDate, c.SuspendedDate, c.SuspensionReason,
		c.Version, c.CreatedAt, c.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return model.NewConflictError(fmt.Sprintf("contractor %q already exists", c.ID))
	}
	if err != nil {
		return fmt.Errorf("insert contractor: %w", err)
	}

	if err := insertEvents(ctx, tx, events); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Get retrieves a contractor by ID.
func (s *PgContractorStore) Get(ctx context.Context, id string) (model.Contractor, error) {
	c, err := scanContractor(s.pool.QueryRow(ctx,
		`SELECT `+contractorColumns+` FROM contractors WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Contractor{}, model.NewNotFoundError(fmt.Sprintf("contractor %q not found", id))
	}
	if err != nil {
		return model.Contractor{}, fmt.Errorf("query contractor: %w", err)
	}
	return c, nil
}

// GetByToken retrieves the contractor holding token.
func (s *PgContractorStore) GetByToken(ctx context.Context, token string) (model.Contractor, error) {
	if token == "" {
		return model.Contractor{}, model.NewNotFoundError("contract link not found")
	}
	c, err := scanContractor(s.pool.QueryRow(ctx,
		`SELECT `+contractorColumns+` FROM contractors WHERE contract_token = $1`, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Contractor{}, model.NewNotFoundError("contract link not found")
	}
	if err != nil {
		return model.Contractor{}, fmt.Errorf("query contractor by token: %w", err)
	}
	return c, nil
}

// Update persists c with optimistic locking and appends events in the same
// transaction.
func (s *PgContractorStore) Update(ctx context.Context, c model.Contractor, events ...model.ContractorEvent) (model.Contractor, error) {
	r, err := encodeContractor(c)
	if err != nil {
		return model.Contractor{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.Contractor{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	tag, err := tx.Exec(ctx, `
		UPDATE contractors SET
			third_party_id = $1,
			status = $2,
			personal = $3,
			placement = $4,
			financial = $5,
			documents = $6,
			completed_steps = $7,
			current_step_id = $8,
			contract_token = $9,
			token_expiry = $10,
			signature = $11,
			contract_content = $12,
			document_url = $13,
			sent_date = $14,
			signed_date = $15,
			activated_date = $16,
			suspended_date = $17,
			suspension_reason = $18,
			version = $19,
			updated_at = $20
		WHERE id = $21 AND version = $22`,
		c.ThirdPartyID, string(c.Status), r.personal, r.placement, r.financial,
		r.documents, nonNilSteps(c.CompletedSteps), c.CurrentStepID, r.token, c.TokenExpiry,
		r.signature, c.ContractContent, c.DocumentURL,
		c.SentDate, c.SignedDate, c.ActivatedDate, c.SuspendedDate, c.SuspensionReason,
		c.Version+1, now,
		c.ID, c.Version,
	)
	if isUniqueViolation(err) {
		return model.Contractor{}, model.NewConflictError("contract token already in use")
	}
	if err != nil {
		return model.Contractor{}, fmt.Errorf("update contractor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM contractors WHERE id = $1)`, c.ID).Scan(&exists); err != nil {
			return model.Contractor{}, fmt.Errorf("check contractor: %w", err)
		}
		if !exists {
			return model.Contractor{}, model.NewNotFoundError(fmt.Sprintf("contractor %q not found", c.ID))
		}
		return model.Contractor{}, model.NewConflictError(
			fmt.Sprintf("contractor %q version conflict (expected %d)", c.ID, c.Version),
		)
	}

	if err := insertEvents(ctx, tx, events); err != nil {
		return model.Contractor{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Contractor{}, fmt.Errorf("commit: %w", err)
	}

	c.Version++
	c.UpdatedAt = now
	return c, nil
}

func insertEvents(ctx context.Context, tx pgx.Tx, events []model.ContractorEvent) error {
	for _, e := range events {
		_, err := tx.Exec(ctx, `
			INSERT INTO contractor_events (
				id, contractor_id, event, from_status, to_status, step_id, actor_id, comment, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			e.ID, e.ContractorID, e.Event, string(e.FromStatus), string(e.ToStatus),
			e.StepID, e.ActorID, e.Comment, e.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("insert contractor event: %w", err)
		}
	}
	return nil
}

// Events retrieves the audit trail of a contractor.
func (s *PgContractorStore) Events(ctx context.Context, id string) ([]model.ContractorEvent, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, contractor_id, event, from_status, to_status, step_id, actor_id, comment, created_at
		FROM contractor_events
		WHERE contractor_id = $1
		ORDER BY created_at ASC`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("query contractor events: %w", err)
	}
	defer rows.Close()

	var events []model.ContractorEvent
	for rows.Next() {
		var e model.ContractorEvent
		var from, to string
		if err := rows.Scan(
			&e.ID, &e.ContractorID, &e.Event, &from, &to, &e.StepID, &e.ActorID, &e.Comment, &e.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan contractor event: %w", err)
		}
		e.FromStatus = model.ContractorStatus(from)
		e.ToStatus = model.ContractorStatus(to)
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountByThirdParty counts contractors placed under a third party.
func (s *PgContractorStore) CountByThirdParty(ctx context.Context, thirdPartyID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM contractors WHERE third_party_id = $1`, thirdPartyID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count contractors: %w", err)
	}
	return n, nil
}

func nonNilSteps(steps []string) []string {
	if steps == nil {
		return []string{}
	}
	return steps
}

// PgThirdPartyStore is a PostgreSQL-backed ThirdPartyStore.
type PgThirdPartyStore struct {
	pool *pgxpool.Pool
}

// NewPgThirdPartyStore creates a new PostgreSQL third-party store.
func NewPgThirdPartyStore(pool *pgxpool.Pool) *PgThirdPartyStore {
	return &PgThirdPartyStore{pool: pool}
}

// Create inserts a new third party.
func (s *PgThirdPartyStore) Create(ctx context.Context, tp model.ThirdParty) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO third_parties (
			id, name, country, business_type, contact_email, is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		tp.ID, tp.Name, string(tp.Country), string(tp.BusinessType), tp.ContactEmail,
		tp.IsActive, tp.CreatedAt, tp.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return model.NewConflictError(fmt.Sprintf("third party %q already exists", tp.ID))
	}
	if err != nil {
		return fmt.Errorf("insert third party: %w", err)
	}
	return nil
}

// Get retrieves a third party by ID.
func (s *PgThirdPartyStore) Get(ctx context.Context, id string) (model.ThirdParty, error) {
	var tp model.ThirdParty
	var country, bt string
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, country, business_type, contact_email, is_active, created_at, updated_at
		FROM third_parties WHERE id = $1`, id,
	).Scan(&tp.ID, &tp.Name, &country, &bt, &tp.ContactEmail, &tp.IsActive, &tp.CreatedAt, &tp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ThirdParty{}, model.NewNotFoundError(fmt.Sprintf("third party %q not found", id))
	}
	if err != nil {
		return model.ThirdParty{}, fmt.Errorf("query third party: %w", err)
	}
	tp.Country = model.Country(country)
	tp.BusinessType = model.BusinessType(bt)
	return tp, nil
}

// Update replaces a stored third party.
func (s *PgThirdPartyStore) Update(ctx context.Context, tp model.ThirdParty) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE third_parties SET
			name = $1, country = $2, business_type = $3, contact_email = $4,
			is_active = $5, updated_at = $6
		WHERE id = $7`,
		tp.Name, string(tp.Country), string(tp.BusinessType), tp.ContactEmail,
		tp.IsActive, time.Now().UTC(), tp.ID,
	)
	if err != nil {
		return fmt.Errorf("update third party: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("third party %q not found", tp.ID))
	}
	return nil
}

// Delete removes a third party unless a contractor references it. The
// reference check and the delete are one statement.
func (s *PgThirdPartyStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM third_parties
		WHERE id = $1
		AND NOT EXISTS (SELECT 1 FROM contractors WHERE third_party_id = $1)`,
		id,
	)
	if err != nil {
		return fmt.Errorf("delete third party: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return model.NewInvalidStateError(fmt.Sprintf("third party %q is referenced by contractors", id))
}

// PgTemplateStore is a PostgreSQL-backed TemplateStore.
type PgTemplateStore struct {
	pool *pgxpool.Pool
}

// NewPgTemplateStore creates a new PostgreSQL template store.
func NewPgTemplateStore(pool *pgxpool.Pool) *PgTemplateStore {
	return &PgTemplateStore{pool: pool}
}

// Create inserts a new template.
func (s *PgTemplateStore) Create(ctx context.Context, t model.Template) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO templates (id, name, template_type, content, country, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.Name, string(t.Type), t.Content, string(t.Country), t.CreatedAt,
	)
	if isUniqueViolation(err) {
		return model.NewConflictError(fmt.Sprintf("template %q already exists", t.ID))
	}
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

// Get retrieves a template by ID.
func (s *PgTemplateStore) Get(ctx context.Context, id string) (model.Template, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, template_type, content, country, created_at
		FROM templates WHERE id = $1`, id)
	if err != nil {
		return model.Template{}, fmt.Errorf("query template: %w", err)
	}
	templates, err := scanTemplates(rows)
	if err != nil {
		return model.Template{}, err
	}
	if len(templates) == 0 {
		return model.Template{}, model.NewNotFoundError(fmt.Sprintf("template %q not found", id))
	}
	return templates[0], nil
}

// ListByType returns templates of type tt, newest first.
func (s *PgTemplateStore) ListByType(ctx context.Context, tt model.TemplateType) ([]model.Template, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, template_type, content, country, created_at
		FROM templates WHERE template_type = $1
		ORDER BY created_at DESC`, string(tt))
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	return scanTemplates(rows)
}

func scanTemplates(rows pgx.Rows) ([]model.Template, error) {
	defer rows.Close()

	var templates []model.Template
	for rows.Next() {
		var t model.Template
		var tt, country string
		if err := rows.Scan(&t.ID, &t.Name, &tt, &t.Content, &country, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		t.Type = model.TemplateType(tt)
		t.Country = model.Country(country)
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// PgCredentialStore is a PostgreSQL-backed CredentialStore.
type PgCredentialStore struct {
	pool *pgxpool.Pool
}

// NewPgCredentialStore creates a new PostgreSQL credential store.
func NewPgCredentialStore(pool *pgxpool.Pool) *PgCredentialStore {
	return &PgCredentialStore{pool: pool}
}

// Put upserts the credential of a contractor. The row is only replaced when
// its created_at is before replaceBefore.
func (s *PgCredentialStore) Put(ctx context.Context, c model.Credential, replaceBefore time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO credentials (contractor_id, email, password_hash, must_reset, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (contractor_id) DO UPDATE SET
			email = EXCLUDED.email,
			password_hash = EXCLUDED.password_hash,
			must_reset = EXCLUDED.must_reset,
			created_at = EXCLUDED.created_at
		WHERE credentials.created_at < $6`,
		c.ContractorID, c.Email, c.PasswordHash, c.MustReset, c.CreatedAt, replaceBefore,
	)
	if err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("credential for contractor %q was provisioned recently", c.ContractorID),
		)
	}
	return nil
}

// Delete removes the credential of a contractor if its hash is unchanged.
func (s *PgCredentialStore) Delete(ctx context.Context, contractorID, passwordHash string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM credentials WHERE contractor_id = $1 AND password_hash = $2`,
		contractorID, passwordHash,
	)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(
			fmt.Sprintf("credential for contractor %q not found", contractorID),
		)
	}
	return nil
}

// Get retrieves the credential of a contractor.
func (s *PgCredentialStore) Get(ctx context.Context, contractorID string) (model.Credential, error) {
	var c model.Credential
	err := s.pool.QueryRow(ctx, `
		SELECT contractor_id, email, password_hash, must_reset, created_at
		FROM credentials WHERE contractor_id = $1`, contractorID,
	).Scan(&c.ContractorID, &c.Email, &c.PasswordHash, &c.MustReset, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Credential{}, model.NewNotFoundError(
			fmt.Sprintf("credential for contractor %q not found", contractorID),
		)
	}
	if err != nil {
		return model.Credential{}, fmt.Errorf("query credential: %w", err)
	}
	return c, nil
}
