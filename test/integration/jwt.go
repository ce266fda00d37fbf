package integration

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"maps"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TestClaims describes the admin identity carried by a generated JWT.
// Extra overrides or adds raw claims, including iss and aud.
type TestClaims struct {
	SubjectID string
	Email     string
	Roles     []string
	Extra     map[string]any
}

// tokenIssuer plays the identity provider: it signs admin JWTs and serves
// its public keys as a JWKS document. Keys can be rotated mid-test.
type tokenIssuer struct {
	t        *testing.T
	server   *httptest.Server
	issuer   string
	audience string

	mu      sync.Mutex
	keys    map[string]*rsa.PrivateKey
	current string
	serial  int
}

func newTokenIssuer(t *testing.T) *tokenIssuer {
	t.Helper()

	ti := &tokenIssuer{
		t:        t,
		issuer:   "https://auth.test.onboard.dev",
		audience: "onboard-admin-test",
		keys:     map[string]*rsa.PrivateKey{},
	}
	ti.Rotate()

	ti.server = httptest.NewServer(http.HandlerFunc(ti.serveJWKS))
	t.Cleanup(ti.server.Close)
	return ti
}

// Rotate adds a fresh signing key and makes it current. Earlier keys stay
// published, as an identity provider does during a rollover. It returns
// the new key id.
func (ti *tokenIssuer) Rotate() string {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		ti.t.Fatalf("generate RSA key: %v", err)
	}

	ti.mu.Lock()
	defer ti.mu.Unlock()
	ti.serial++
	kid := fmt.Sprintf("onboard-test-%d", ti.serial)
	ti.keys[kid] = key
	ti.current = kid
	return kid
}

func (ti *tokenIssuer) serveJWKS(w http.ResponseWriter, _ *http.Request) {
	ti.mu.Lock()
	set := make([]map[string]any, 0, len(ti.keys))
	for kid, key := range ti.keys {
		set = append(set, map[string]any{
			"kid": kid,
			"kty": "RSA",
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
		})
	}
	ti.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"keys": set})
}

// GenerateToken signs a JWT valid for the next hour with the current key.
func (ti *tokenIssuer) GenerateToken(claims TestClaims) string {
	now := time.Now()
	return ti.sign(claims, now.Add(-time.Minute), now.Add(time.Hour), nil)
}

// GenerateExpiredToken signs a JWT that expired an hour ago.
func (ti *tokenIssuer) GenerateExpiredToken(claims TestClaims) string {
	now := time.Now()
	return ti.sign(claims, now.Add(-2*time.Hour), now.Add(-time.Hour), nil)
}

// GenerateForgedToken signs a JWT with a key the JWKS does not publish
// while claiming the current key id.
func (ti *tokenIssuer) GenerateForgedToken(claims TestClaims) string {
	forger, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		ti.t.Fatalf("generate RSA key: %v", err)
	}
	now := time.Now()
	return ti.sign(claims, now.Add(-time.Minute), now.Add(time.Hour), forger)
}

func (ti *tokenIssuer) sign(claims TestClaims, issuedAt, expiresAt time.Time, key *rsa.PrivateKey) string {
	ti.mu.Lock()
	kid := ti.current
	if key == nil {
		key = ti.keys[kid]
	}
	ti.mu.Unlock()

	mapClaims := jwt.MapClaims{
		"iss":   ti.issuer,
		"aud":   ti.audience,
		"iat":   jwt.NewNumericDate(issuedAt),
		"exp":   jwt.NewNumericDate(expiresAt),
		"sub":   claims.SubjectID,
		"email": claims.Email,
	}
	if len(claims.Roles) > 0 {
		roles := make([]any, len(claims.Roles))
		for i, r := range claims.Roles {
			roles[i] = r
		}
		mapClaims["roles"] = roles
	}
	maps.Copy(mapClaims, claims.Extra)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, mapClaims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		ti.t.Fatalf("sign JWT: %v", err)
	}
	return signed
}

func (ti *tokenIssuer) JWKSURL() string  { return ti.server.URL }
func (ti *tokenIssuer) Issuer() string   { return ti.issuer }
func (ti *tokenIssuer) Audience() string { return ti.audience }
