package middleware

import (
	"net/http"

	"github.com/questline/session-server-go/internal/config"
)

// BodyLimitMiddleware caps command payload size. Game commands are small
// JSON documents; a body past the limit is a broken client or abuse, and
// rejecting it here keeps oversized quest blobs out of the decoders.
type BodyLimitMiddleware struct {
	maxBytes int64
}

func NewBodyLimitMiddleware(maxBytes int64) *BodyLimitMiddleware {
	if maxBytes <= 0 {
		maxBytes = config.MaxCommandBodyBytes
	}
	return &BodyLimitMiddleware{maxBytes: maxBytes}
}

func (m *BodyLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Declared length is checked up front; MaxBytesReader still backs
		// it for chunked requests that never declare one.
		if r.ContentLength > m.maxBytes {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
				"error": "Command payload too large",
			})
			return
		}

		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, m.maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}
