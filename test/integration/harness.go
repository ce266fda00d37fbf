// Package integration provides a reusable test harness for end-to-end
// integration testing of the onboarding server. It starts a full HTTP server
// with in-memory stores, a recording mailbox, a controllable clock and a
// test JWT issuer.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/onboard/internal/capability"
	"github.com/pitabwire/onboard/internal/config"
	"github.com/pitabwire/onboard/internal/credential"
	"github.com/pitabwire/onboard/internal/document"
	"github.com/pitabwire/onboard/internal/idempotency"
	"github.com/pitabwire/onboard/internal/observability"
	"github.com/pitabwire/onboard/internal/onboarding"
	"github.com/pitabwire/onboard/internal/signing"
	"github.com/pitabwire/onboard/internal/store"
	"github.com/pitabwire/onboard/internal/token"
	"github.com/pitabwire/onboard/internal/transport"
	"github.com/pitabwire/onboard/model"
)

const signingBaseURL = "https://sign.test.onboard.dev/contracts"

// TestHarness encapsulates a fully wired onboarding server for integration
// testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	Contractors  *store.MemoryContractorStore
	Materializer *document.Materializer
	RetryQueue   *document.MemoryRetryQueue
	Metrics      *observability.Metrics
	Registry     *prometheus.Registry
	Mailbox      *Mailbox
	Clock        *Clock

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	policyFile     string
	handlerTimeout time.Duration
	tokenTTL       time.Duration
	objects        document.ObjectStore
}

// WithPolicyFile sets the static policy YAML file for capability resolution.
func WithPolicyFile(path string) HarnessOption {
	return func(c *harnessConfig) {
		c.policyFile = path
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// WithTokenTTL sets how long signing links stay valid.
func WithTokenTTL(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.tokenTTL = d
	}
}

// WithObjectStore replaces the in-memory PDF storage.
func WithObjectStore(objects document.ObjectStore) HarnessOption {
	return func(c *harnessConfig) {
		c.objects = objects
	}
}

// NewTestHarness creates and starts a full test instance. The server is
// automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		handlerTimeout: 10 * time.Second,
		tokenTTL:       7 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(hc)
	}
	if hc.policyFile == "" {
		hc.policyFile = filepath.Join(testdataDir(), "policies.yaml")
	}
	if hc.objects == nil {
		hc.objects = document.NewMemoryObjectStore("https://files.test.onboard.dev")
	}

	h := &TestHarness{
		t:       t,
		Mailbox: &Mailbox{},
		Clock:   &Clock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
	}

	// Step 1: Build in-memory stores.
	h.Contractors = store.NewMemoryContractorStore()
	thirdParties := store.NewMemoryThirdPartyStore(h.Contractors)
	templates := store.NewMemoryTemplateStore()

	// Step 2: Metrics on a private registry.
	h.Registry = prometheus.NewRegistry()
	h.Metrics = observability.InitMetrics(h.Registry)

	// Step 3: Documents.
	h.RetryQueue = document.NewMemoryRetryQueue()
	h.Materializer = document.NewMaterializer(h.Contractors, thirdParties,
		document.NewPDFRenderer(hc.objects), h.RetryQueue, zap.NewNop(), h.Metrics)
	t.Cleanup(h.Materializer.Wait)

	// Step 4: Services.
	notifier := h.Metrics.InstrumentNotifier(h.Mailbox)
	tokens := token.NewService(h.Contractors, thirdParties,
		token.WithTTL(hc.tokenTTL),
		token.WithBaseURL(signingBaseURL),
		token.WithClock(h.Clock.Now),
		token.WithNotifier(notifier),
		token.WithObserver(h.Metrics),
	)
	signer := signing.NewService(h.Contractors, thirdParties, templates, tokens,
		credential.NewProvider(store.NewMemoryCredentialStore(), credential.WithCost(4), credential.WithClock(h.Clock.Now)),
		signing.WithScheduler(h.Materializer),
		signing.WithNotifier(notifier),
		signing.WithClock(h.Clock.Now),
		signing.WithObserver(h.Metrics),
	)
	onboard := onboarding.NewService(h.Contractors, thirdParties, templates,
		onboarding.WithClock(h.Clock.Now),
		onboarding.WithObserver(h.Metrics),
	)

	// Step 5: Build capability resolver.
	evaluator, err := capability.NewStaticPolicyEvaluator(hc.policyFile)
	if err != nil {
		t.Fatalf("load policy file: %v", err)
	}
	resolver := capability.NewResolver(evaluator, 0) // no caching in tests

	// Step 6: Create JWT issuer.
	h.issuer = newTokenIssuer(t)

	// Step 7: Build config.
	h.cfg = config.Defaults()
	h.cfg.Server.HandlerTimeout = hc.handlerTimeout
	h.cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	h.cfg.Identity.Issuer = h.issuer.Issuer()
	h.cfg.Identity.Audience = h.issuer.Audience()
	h.cfg.Identity.JWKSURL = h.issuer.JWKSURL()
	h.cfg.Signing.TokenTTL = hc.tokenTTL
	h.cfg.Signing.BaseURL = signingBaseURL

	// Step 8: Build router with full middleware chain.
	jwks := transport.NewJWKSClient(h.issuer.JWKSURL(), time.Hour, zap.NewNop())

	router := transport.NewRouter(transport.Dependencies{
		Config:             h.cfg,
		Logger:             zap.NewNop(),
		Authenticate:       transport.JWTAuthenticator(h.cfg.Identity, jwks),
		CapabilityResolver: resolver,
		Metrics:            h.Metrics,
		MetricsHandler:     observability.HandlerFor(h.Registry),
		Readiness: observability.ReadinessChecks{
			ContractorStore: observability.CheckFunc(func(context.Context) error { return nil }),
			PolicyEngine:    evaluator,
		},
		Idempotency: idempotency.NewMemoryStore(),
		Onboarding:  onboard,
		Tokens:      tokens,
		Signing:     signer,
		Documents:   h.Materializer,
	})

	// Step 9: Start test server.
	h.server = httptest.NewServer(router)
	t.Cleanup(func() {
		h.server.Close()
	})

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodGet, path, nil, token, nil)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPost, path, body, token, nil)
}

// POSTWithHeaders performs an authenticated POST request with additional headers.
func (h *TestHarness) POSTWithHeaders(path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPost, path, body, token, headers)
}

// PUT performs an authenticated PUT request with a JSON body.
func (h *TestHarness) PUT(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPut, path, body, token, nil)
}

// Do performs a request with any method and extra headers.
func (h *TestHarness) Do(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest(method, path, body, token, headers)
}

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	url := h.server.URL + path

	var bodyReader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		bodyReader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// ReadBody reads and returns the response body as bytes.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	return data
}

// AssertStatus checks that the response has the expected status code and
// closes the body.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != expected {
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// AssertErrorCode checks the status and the envelope code of an error
// response.
func (h *TestHarness) AssertErrorCode(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	var body struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	h.AssertJSON(t, resp, status, &body)
	if body.Error.Code != code {
		t.Errorf("error code = %q, want %q (message %q)", body.Error.Code, code, body.Error.Message)
	}
}

// --- Mailbox ---

var linkPattern = regexp.MustCompile(regexp.QuoteMeta(signingBaseURL) + `/([A-Za-z0-9_-]+)`)
var passwordPattern = regexp.MustCompile(`Temporary password: (\S+)`)

// Mailbox records every notification instead of delivering it.
type Mailbox struct {
	mu   sync.Mutex
	sent []model.Notification
	err  error
}

// Send records n, or fails when FailWith was set.
func (m *Mailbox) Send(_ context.Context, n model.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, n)
	return nil
}

// FailWith makes every following Send return err. nil restores delivery.
func (m *Mailbox) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Sent returns the notifications delivered to address, oldest first.
func (m *Mailbox) Sent(to string) []model.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Notification
	for _, n := range m.sent {
		if n.To == to {
			out = append(out, n)
		}
	}
	return out
}

// LatestToken extracts the signing token from the newest contract email
// sent to address.
func (m *Mailbox) LatestToken(t *testing.T, to string) string {
	t.Helper()
	sent := m.Sent(to)
	for i := len(sent) - 1; i >= 0; i-- {
		if sent[i].Kind != model.NotifyContract {
			continue
		}
		match := linkPattern.FindStringSubmatch(sent[i].Body)
		if match == nil {
			t.Fatalf("contract email to %s has no signing link:\n%s", to, sent[i].Body)
		}
		return match[1]
	}
	t.Fatalf("no contract email sent to %s", to)
	return ""
}

// TemporaryPassword extracts the password from the activation email sent
// to address.
func (m *Mailbox) TemporaryPassword(t *testing.T, to string) string {
	t.Helper()
	for _, n := range m.Sent(to) {
		if n.Kind != model.NotifyActivation {
			continue
		}
		match := passwordPattern.FindStringSubmatch(n.Body)
		if match == nil {
			t.Fatalf("activation email to %s has no password:\n%s", to, n.Body)
		}
		return match[1]
	}
	t.Fatalf("no activation email sent to %s", to)
	return ""
}

// --- Clock ---

// Clock is a manually advanced time source shared by every service.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- Default test claims ---

// AdminClaims returns TestClaims for a full onboarding admin.
func AdminClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-admin",
		Email:     "admin@onboard.example.com",
		Roles:     []string{"onboarding_admin"},
	}
}

// ViewerClaims returns TestClaims for a read-only user.
func ViewerClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-viewer",
		Email:     "viewer@onboard.example.com",
		Roles:     []string{"onboarding_viewer"},
	}
}

// CoordinatorClaims returns TestClaims for a user who prepares and sends
// contracts but cannot activate them.
func CoordinatorClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-coordinator",
		Email:     "coordinator@onboard.example.com",
		Roles:     []string{"hr_coordinator"},
	}
}

// ApproverClaims returns TestClaims for a user who activates and suspends
// contractors.
func ApproverClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-approver",
		Email:     "approver@onboard.example.com",
		Roles:     []string{"hr_approver"},
	}
}

// --- Fixtures ---

// testdataDir returns the absolute path to the testdata directory.
func testdataDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata")
}

// ThirdPartyFixture returns a create-third-party request body.
func ThirdPartyFixture(name string, country model.Country, bt model.BusinessType) map[string]any {
	return map[string]any{
		"name":          name,
		"country":       country,
		"business_type": bt,
	}
}

// ContractorFixture returns a create-contractor request body with every
// field the details step requires.
func ContractorFixture(thirdPartyID, first, last string) map[string]any {
	return map[string]any{
		"third_party_id": thirdPartyID,
		"first_name":     first,
		"last_name":      last,
		"email":          strings.ToLower(first + "." + last + "@example.com"),
		"job_title":      "Site Engineer",
		"currency":       "usd",
	}
}

// FormatJSON converts a value to indented JSON for test output.
func FormatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
