package transport

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/onboard/internal/idempotency"
	"github.com/pitabwire/onboard/internal/observability"
	"github.com/pitabwire/onboard/model"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
	maxIdempotencyKeyLen = 255
)

// Idempotent replays the stored response when a POST arrives with an
// Idempotency-Key its sender already used. Only 2xx responses are stored,
// so a failed request can be retried with the same key. A store outage
// degrades to running the request normally.
//
// Top-level body fields named in withheld are left out of the stored copy,
// so a replay reports the outcome without repeating them. A response whose
// body is not a JSON object is then not stored at all.
func Idempotent(store idempotency.Store, ttl time.Duration, logger *zap.Logger, withheld ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientKey := r.Header.Get(headerIdempotencyKey)
			if store == nil || r.Method != http.MethodPost || clientKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(clientKey) > maxIdempotencyKeyLen {
				WriteError(w, model.NewBadRequestError("Idempotency-Key is too long"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				WriteError(w, decodeError(err))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			key := idempotency.Key(model.RequestContextFrom(r.Context()).Actor(), clientKey)
			hash := requestHash(r, body)

			stored, found, err := store.Check(r.Context(), key, hash)
			switch {
			case model.IsCode(err, model.ErrConflict):
				observability.RequestLogger(r.Context(), logger).Debug("idempotency key reused for a different request",
					zap.String("route", observability.RoutePattern(r)),
					zap.Any("body", observability.RedactJSON(body)),
				)
				WriteError(w, err)
				return
			case err != nil:
				observability.RequestLogger(r.Context(), logger).Warn("idempotency lookup failed", zap.Error(err))
			case found:
				replay(w, stored)
				return
			}

			rec := &recordingWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status < 200 || rec.status > 299 {
				return
			}
			saved := rec.body.Bytes()
			if len(withheld) > 0 {
				if saved, err = withholdFields(saved, withheld); err != nil {
					observability.RequestLogger(r.Context(), logger).Warn("idempotency response not stored", zap.Error(err))
					return
				}
			}
			resp := idempotency.Response{
				Status:      rec.status,
				ContentType: rec.Header().Get("Content-Type"),
				Location:    rec.Header().Get("Location"),
				Body:        saved,
			}
			if err := store.Save(r.Context(), key, hash, resp, ttl); err != nil {
				observability.RequestLogger(r.Context(), logger).Warn("idempotency save failed", zap.Error(err))
			}
		})
	}
}

// withholdFields drops the named top-level fields from a JSON object.
func withholdFields(body []byte, fields []string) ([]byte, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, err
	}
	for _, f := range fields {
		delete(obj, f)
	}
	return json.Marshal(obj)
}

func requestHash(r *http.Request, body []byte) string {
	h := sha256.New()
	io.WriteString(h, r.Method+" "+r.URL.Path+"\n")
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func replay(w http.ResponseWriter, resp *idempotency.Response) {
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	if resp.Location != "" {
		w.Header().Set("Location", resp.Location)
	}
	w.Header().Set(headerReplayed, "true")
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}

// recordingWriter copies the response body so it can be stored.
type recordingWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (w *recordingWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *recordingWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
