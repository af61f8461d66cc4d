package handler

import (
	"context"
	"net/http"

	"github.com/xenking/oolio-orders/internal/domain/auth"
	"github.com/xenking/oolio-orders/pkg/httpmiddleware"
)

// APIKeyHeader carries the caller's API key.
const APIKeyHeader = "api_key"

type keyInfoKey struct{}

// KeyFromContext returns the authenticated key, if any.
func KeyFromContext(ctx context.Context) (*auth.APIKeyInfo, bool) {
	info, ok := ctx.Value(keyInfoKey{}).(*auth.APIKeyInfo)
	return info, ok
}

// secure authenticates the request and checks that the key grants scope.
func (h *Handler) secure(scope string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, err := h.auth.Authenticate(r.Context(), r.Header.Get(APIKeyHeader))
		if err != nil {
			writeDomainError(r.Context(), w, err)
			return
		}
		if !info.HasScope(scope) {
			writeDomainError(r.Context(), w, auth.ErrForbidden)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), keyInfoKey{}, info)))
	})
}

// RateLimitKey buckets requests by API key, or by client IP for anonymous
// callers.
func RateLimitKey(r *http.Request) string {
	if key := r.Header.Get(APIKeyHeader); key != "" {
		return "key:" + auth.HashKey("", key)
	}
	return "ip:" + httpmiddleware.ClientIP(r)
}
