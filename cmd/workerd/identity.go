package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type identityKey struct{}

type requestIDKey struct{}

// clientIdentity extracts the tenant identity from the verified client
// certificate chain: the common name of the leaf certificate presented
// during the mutual-TLS handshake.
func clientIdentity(r *http.Request) (string, error) {
	if r.TLS == nil ||
		len(r.TLS.VerifiedChains) == 0 ||
		len(r.TLS.VerifiedChains[0]) == 0 {
		return "", errors.New("no verified client certificate chain")
	}

	cn := r.TLS.VerifiedChains[0][0].Subject.CommonName
	if cn == "" {
		return "", errors.New("client certificate has no common name")
	}

	return cn, nil
}

// withIdentity resolves the caller's identity and attaches it to the
// request context. Requests without a usable identity are rejected before
// reaching any handler.
func (s *server) withIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := clientIdentity(r)
		if err != nil {
			s.logger.Warn("reject unauthenticated request", "err", err)
			s.httpError(w, http.StatusUnauthorized, "not authenticated")

			return
		}

		ctx := context.WithValue(r.Context(), identityKey{}, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func identityFromContext(ctx context.Context) string {
	if v := ctx.Value(identityKey{}); v != nil {
		return v.(string)
	}

	return ""
}

// statusRecorder captures the response status for access logging.
type statusRecorder struct {
	http.ResponseWriter

	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withRequestLog assigns every request a correlation id, exposed through the
// request context and the X-Request-Id response header, and logs the request
// once handled.
func (s *server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := uuid.NewString()
		w.Header().Set("X-Request-Id", requestID)

		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r.WithContext(ctx))

		s.logger.Info(
			"request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"identity", identityFromContext(ctx),
			"status", recorder.status,
			"duration", time.Since(start),
		)
	})
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDKey{}); v != nil {
		return v.(string)
	}

	return ""
}
