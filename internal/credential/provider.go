// Package credential provisions logins for activated contractors.
package credential

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/pitabwire/onboard/internal/store"
	"github.com/pitabwire/onboard/model"
)

const (
	// DefaultPasswordLength is the length of generated temporary passwords.
	DefaultPasswordLength = 16

	// DefaultCost is the bcrypt cost used for stored hashes.
	DefaultCost = 10

	// DefaultLease is how long a freshly provisioned login is protected from
	// being replaced by another provisioning attempt.
	DefaultLease = 10 * time.Minute
)

// Ambiguous characters (0/O, 1/l/I) are left out.
const passwordAlphabet = "abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Provider issues temporary passwords and stores their bcrypt hash. The
// contractor must reset the password on first login. It implements
// model.CredentialProvider.
type Provider struct {
	credentials store.CredentialStore
	generate    func() (string, error)
	cost        int
	lease       time.Duration
	now         func() time.Time
}

// Option configures a Provider.
type Option func(*Provider)

// WithGenerator replaces the temporary password generator.
func WithGenerator(fn func() (string, error)) Option {
	return func(p *Provider) { p.generate = fn }
}

// WithCost sets the bcrypt cost.
func WithCost(cost int) Option {
	return func(p *Provider) { p.cost = cost }
}

// WithLease sets how long a provisioned login blocks reprovisioning.
func WithLease(d time.Duration) Option {
	return func(p *Provider) { p.lease = d }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// NewProvider creates a Provider persisting to credentials.
func NewProvider(credentials store.CredentialStore, opts ...Option) *Provider {
	p := &Provider{
		credentials: credentials,
		generate:    func() (string, error) { return GeneratePassword(DefaultPasswordLength) },
		cost:        DefaultCost,
		lease:       DefaultLease,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Provision creates the login of contractorID and returns the plain
// temporary password. Only the hash is stored. A login provisioned within
// the lease is left alone and Provision returns CONFLICT; older logins are
// replaced.
func (p *Provider) Provision(ctx context.Context, contractorID, email string) (string, error) {
	if contractorID == "" || email == "" {
		return "", model.NewFieldValidationError("email", "required", "a login needs a contractor id and email")
	}

	password, err := p.generate()
	if err != nil {
		return "", fmt.Errorf("generate password: %w", err)
	}
	hash, err := HashPassword(password, p.cost)
	if err != nil {
		return "", err
	}

	now := p.now().UTC()
	err = p.credentials.Put(ctx, model.Credential{
		ContractorID: contractorID,
		Email:        email,
		PasswordHash: hash,
		MustReset:    true,
		CreatedAt:    now,
	}, now.Add(-p.lease))
	if err != nil {
		return "", fmt.Errorf("store credential: %w", err)
	}
	return password, nil
}

// Revoke removes the login of contractorID if password still opens it. A
// login that has since been replaced, or is already gone, is left as is.
func (p *Provider) Revoke(ctx context.Context, contractorID, password string) error {
	cred, err := p.credentials.Get(ctx, contractorID)
	if model.IsCode(err, model.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !CheckPassword(password, cred.PasswordHash) {
		return nil
	}
	if err := p.credentials.Delete(ctx, contractorID, cred.PasswordHash); err != nil && !model.IsCode(err, model.ErrNotFound) {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

// Verify reports whether password matches the stored login of
// contractorID.
func (p *Provider) Verify(ctx context.Context, contractorID, password string) (bool, error) {
	cred, err := p.credentials.Get(ctx, contractorID)
	if err != nil {
		return false, err
	}
	return CheckPassword(password, cred.PasswordHash), nil
}

// HashPassword hashes password with bcrypt.
func HashPassword(password string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

// CheckPassword compares a password with a bcrypt hash.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// GeneratePassword returns a random password of n characters.
func GeneratePassword(n int) (string, error) {
	limit := big.NewInt(int64(len(passwordAlphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		out[i] = passwordAlphabet[idx.Int64()]
	}
	return string(out), nil
}
