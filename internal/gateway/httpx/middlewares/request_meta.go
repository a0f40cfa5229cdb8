package middlewares

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/jcmexdev/order-saga/internal/pkg/reqctx"
)

// AttachRequestMetadata copies chi's request id and the X-Idempotency-Key
// header into the context, where the event bus picks them up on publish.
// Must run after middleware.RequestID.
func AttachRequestMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetReqID(r.Context())
		idempotencyKey := r.Header.Get(reqctx.HeaderXIdempotencyKey)

		ctx := reqctx.WithRequestID(r.Context(), requestID)
		ctx = reqctx.WithIdempotencyKey(ctx, idempotencyKey)
		if requestID != "" {
			w.Header().Set(reqctx.HeaderXRequestId, requestID)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
