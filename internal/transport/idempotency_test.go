package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/onboard/internal/idempotency"
	"github.com/pitabwire/onboard/model"
)

func idempotentRequest(method, path, key, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set(headerIdempotencyKey, key)
	}
	rctx := &model.RequestContext{SubjectID: "admin-1"}
	return req.WithContext(model.WithRequestContext(req.Context(), rctx))
}

func countingCreate(calls *atomic.Int32, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Location", "/admin/contractors/c1")
		WriteJSON(w, status, map[string]any{"call": n})
	})
}

func TestIdempotent_replaysStoredResponse(t *testing.T) {
	var calls atomic.Int32
	h := Idempotent(idempotency.NewMemoryStore(), time.Hour, zap.NewNop())(countingCreate(&calls, http.StatusCreated))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, idempotentRequest(http.MethodPost, "/admin/contractors", "k1", `{"a":1}`))
	second := httptest.NewRecorder()
	h.ServeHTTP(second, idempotentRequest(http.MethodPost, "/admin/contractors", "k1", `{"a":1}`))

	if calls.Load() != 1 {
		t.Fatalf("handler ran %d times, want 1", calls.Load())
	}
	if second.Code != http.StatusCreated {
		t.Errorf("replay status = %d, want 201", second.Code)
	}
	if second.Body.String() != first.Body.String() {
		t.Errorf("replay body = %q, want %q", second.Body.String(), first.Body.String())
	}
	if second.Header().Get(headerReplayed) != "true" {
		t.Error("replay missing Idempotent-Replayed header")
	}
	if second.Header().Get("Location") != "/admin/contractors/c1" {
		t.Errorf("replay Location = %q", second.Header().Get("Location"))
	}
}

func TestIdempotent_keyReusedForDifferentRequest(t *testing.T) {
	var calls atomic.Int32
	h := Idempotent(idempotency.NewMemoryStore(), time.Hour, zap.NewNop())(countingCreate(&calls, http.StatusCreated))

	h.ServeHTTP(httptest.NewRecorder(), idempotentRequest(http.MethodPost, "/admin/contractors", "k1", `{"a":1}`))

	tests := []struct {
		name, path, body string
	}{
		{"different body", "/admin/contractors", `{"a":2}`},
		{"different path", "/admin/third-parties", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, idempotentRequest(http.MethodPost, tt.path, "k1", tt.body))
			if w.Code != http.StatusConflict {
				t.Errorf("status = %d, want 409", w.Code)
			}
		})
	}
	if calls.Load() != 1 {
		t.Errorf("handler ran %d times, want 1", calls.Load())
	}
}

func TestIdempotent_passThrough(t *testing.T) {
	tests := []struct {
		name   string
		method string
		key    string
		store  idempotency.Store
	}{
		{"no key", http.MethodPost, "", idempotency.NewMemoryStore()},
		{"not a POST", http.MethodPut, "k1", idempotency.NewMemoryStore()},
		{"no store", http.MethodPost, "k1", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			h := Idempotent(tt.store, time.Hour, zap.NewNop())(countingCreate(&calls, http.StatusOK))
			for i := 0; i < 2; i++ {
				h.ServeHTTP(httptest.NewRecorder(), idempotentRequest(tt.method, "/admin/contractors/c1", tt.key, `{}`))
			}
			if calls.Load() != 2 {
				t.Errorf("handler ran %d times, want 2", calls.Load())
			}
		})
	}
}

func TestIdempotent_failuresAreNotStored(t *testing.T) {
	var calls atomic.Int32
	h := Idempotent(idempotency.NewMemoryStore(), time.Hour, zap.NewNop())(countingCreate(&calls, http.StatusUnprocessableEntity))

	for i := 0; i < 2; i++ {
		h.ServeHTTP(httptest.NewRecorder(), idempotentRequest(http.MethodPost, "/admin/contractors", "k1", `{}`))
	}
	if calls.Load() != 2 {
		t.Errorf("handler ran %d times, want 2", calls.Load())
	}
}

func TestIdempotent_keyTooLong(t *testing.T) {
	var calls atomic.Int32
	h := Idempotent(idempotency.NewMemoryStore(), time.Hour, zap.NewNop())(countingCreate(&calls, http.StatusCreated))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, idempotentRequest(http.MethodPost, "/admin/contractors", strings.Repeat("k", 256), `{}`))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if calls.Load() != 0 {
		t.Error("handler ran for a rejected key")
	}
}

type brokenStore struct{}

func (brokenStore) Check(context.Context, string, string) (*idempotency.Response, bool, error) {
	return nil, false, errors.New("redis down")
}

func (brokenStore) Save(context.Context, string, string, idempotency.Response, time.Duration) error {
	return errors.New("redis down")
}

func TestIdempotent_storeOutageRunsRequest(t *testing.T) {
	var calls atomic.Int32
	h := Idempotent(brokenStore{}, time.Hour, zap.NewNop())(countingCreate(&calls, http.StatusCreated))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, idempotentRequest(http.MethodPost, "/admin/contractors", "k1", `{}`))

	if w.Code != http.StatusCreated || calls.Load() != 1 {
		t.Errorf("status = %d calls = %d, want 201 and 1", w.Code, calls.Load())
	}
}

func TestIdempotent_withheldFieldsAreNotStored(t *testing.T) {
	var calls atomic.Int32
	st := idempotency.NewMemoryStore()
	link := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		WriteJSON(w, http.StatusOK, map[string]any{"call": n, "signing_url": "https://sign.local/contract?token=secret"})
	})
	h := Idempotent(st, time.Hour, zap.NewNop(), "signing_url")(link)

	first := httptest.NewRecorder()
	h.ServeHTTP(first, idempotentRequest(http.MethodPost, "/admin/contractors/c1/send", "k1", ``))
	second := httptest.NewRecorder()
	h.ServeHTTP(second, idempotentRequest(http.MethodPost, "/admin/contractors/c1/send", "k1", ``))

	if calls.Load() != 1 {
		t.Fatalf("handler ran %d times, want 1", calls.Load())
	}
	if !strings.Contains(first.Body.String(), "token=secret") {
		t.Errorf("first body = %s, want the link", first.Body.String())
	}
	if second.Header().Get(headerReplayed) != "true" {
		t.Error("second request was not a replay")
	}
	if strings.Contains(second.Body.String(), "signing_url") || !strings.Contains(second.Body.String(), `"call":1`) {
		t.Errorf("replayed body = %s", second.Body.String())
	}

	key := idempotency.Key("admin-1", "k1")
	stored, found, err := st.Check(context.Background(), key, requestHash(
		idempotentRequest(http.MethodPost, "/admin/contractors/c1/send", "k1", ``), nil))
	if err != nil || !found {
		t.Fatalf("Check = %v, %v", found, err)
	}
	if strings.Contains(string(stored.Body), "secret") {
		t.Errorf("stored body = %s, want the link withheld", stored.Body)
	}
}

func TestIdempotent_withheldFieldsSkipNonObjectBody(t *testing.T) {
	var calls atomic.Int32
	h := Idempotent(idempotency.NewMemoryStore(), time.Hour, zap.NewNop(), "signing_url")(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("plain text"))
		}))

	for i := 0; i < 2; i++ {
		h.ServeHTTP(httptest.NewRecorder(), idempotentRequest(http.MethodPost, "/admin/contractors/c1/send", "k1", ``))
	}
	if calls.Load() != 2 {
		t.Errorf("handler ran %d times, want 2", calls.Load())
	}
}

func TestNewRouter_idempotentCreate(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, http.MethodPost, "/admin/third-parties", adminBearer, map[string]any{
		"name": "Doha Talent", "country": "Qatar", "business_type": "3rd_party_perm",
	})
	expectStatus(t, w, http.StatusCreated)
	var tp model.ThirdParty
	decodeInto(t, w, &tp)

	body := `{"third_party_id":"` + tp.ID + `","first_name":"Jane","last_name":"Doe","email":"jane@example.com","job_title":"Site Engineer","currency":"qar"}`
	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/admin/contractors", strings.NewReader(body))
		req.Header.Set("Authorization", adminBearer)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(headerIdempotencyKey, "create-jane")
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, req)
		return w
	}

	first, second := send(), send()
	expectStatus(t, first, http.StatusCreated)
	expectStatus(t, second, http.StatusCreated)

	var a, b model.Contractor
	decodeInto(t, first, &a)
	decodeInto(t, second, &b)
	if a.ID == "" || a.ID != b.ID {
		t.Errorf("replayed id = %q, want %q", b.ID, a.ID)
	}
	if second.Header().Get(headerReplayed) != "true" {
		t.Error("second create was not a replay")
	}
}
