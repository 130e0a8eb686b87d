// Package auth consumes the verified owner id produced by the upstream
// authentication collaborator. The gateway terminates authentication and
// forwards the verified identity in the X-Owner-ID header; this package
// only extracts it and makes it available in the request context.
package auth

import (
	"context"
	"net/http"

	"github.com/tripletake/tripletake/internal/logger"
	"github.com/tripletake/tripletake/internal/validation"
)

// OwnerHeader carries the verified owner id set by the gateway.
const OwnerHeader = "X-Owner-ID"

type ctxKey struct{}

// Middleware extracts the verified owner id and stores it in the request
// context. Requests without one are rejected.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ownerID := r.Header.Get(OwnerHeader)
		if err := validation.ValidateOwnerID(ownerID); err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKey{}, ownerID)
		ctx = logger.WithLogger(ctx, logger.Ctx(ctx).With("owner_id", ownerID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OwnerID retrieves the verified owner id from context.
func OwnerID(ctx context.Context) (string, bool) {
	ownerID, ok := ctx.Value(ctxKey{}).(string)
	return ownerID, ok
}

// WithOwnerID stores an owner id in context. Test helper.
func WithOwnerID(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, ownerID)
}
