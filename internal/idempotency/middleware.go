package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
)

// Request and response headers used by the middleware.
const (
	HeaderKey    = "Idempotency-Key"
	HeaderEcho   = "X-Idempotency-Key"
	HeaderStatus = "X-Idempotency-Status"
)

// Middleware wraps mutating handlers with the idempotency ledger. Requests
// without an Idempotency-Key header pass through untouched. orgFromRequest
// resolves the tenant scoping the key.
func Middleware(ledger *Ledger, scope string, orgFromRequest func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderKey)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			orgID := orgFromRequest(r)
			if orgID == "" {
				next.ServeHTTP(w, r)
				return
			}

			fingerprint, restored, err := fingerprintRequest(r)
			if err != nil {
				http.Error(w, `{"error":"unreadable request body"}`, http.StatusBadRequest)
				return
			}
			r.Body = restored

			decision, err := ledger.Begin(r.Context(), orgID, scope, key, fingerprint)
			if err != nil {
				ledger.logger.ErrorContext(r.Context(), "idempotency begin failed", "error", err)
				http.Error(w, `{"error":"idempotency check failed"}`, http.StatusInternalServerError)
				return
			}

			w.Header().Set(HeaderEcho, key)
			switch decision.Outcome {
			case OutcomeConflict:
				w.Header().Set(HeaderStatus, string(OutcomeConflict))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusConflict)
				w.Write([]byte(`{"error":"idempotency key reused with a different request"}`))
				return

			case OutcomeInProgress:
				w.Header().Set(HeaderStatus, string(OutcomeInProgress))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusAccepted)
				w.Write([]byte(`{"status":"in_progress"}`))
				return

			case OutcomeHit:
				w.Header().Set(HeaderStatus, string(OutcomeHit))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(decision.ResponseCode)
				w.Write(decision.ResponseBody)
				return
			}

			w.Header().Set(HeaderStatus, string(OutcomeMiss))
			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			ctx := r.Context()
			if rec.status < 400 {
				err = ledger.FinalizeSuccess(ctx, decision.KeyID, rec.status, rec.body.Bytes())
			} else {
				err = ledger.FinalizeFailure(ctx, decision.KeyID, rec.status, rec.body.Bytes())
			}
			if err != nil {
				ledger.logger.ErrorContext(ctx, "idempotency finalize failed",
					"key_id", decision.KeyID, "error", err)
			}
		})
	}
}

func fingerprintRequest(r *http.Request) (string, io.ReadCloser, error) {
	h := sha256.New()
	h.Write([]byte(r.Method))
	h.Write([]byte{0})
	h.Write([]byte(r.URL.Path))
	h.Write([]byte{0})

	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(r.Body)
		if err != nil {
			return "", nil, err
		}
		r.Body.Close()
		h.Write(body)
	}
	return hex.EncodeToString(h.Sum(nil)), io.NopCloser(bytes.NewReader(body)), nil
}

// responseRecorder tees the handler's response so it can be cached.
type responseRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
