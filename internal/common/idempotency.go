package common

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// IdempotencyHeader carries the client-chosen key for write endpoints, so a
// storefront retrying an invoice request cannot open two invoices.
const IdempotencyHeader = "Idempotency-Key"

// Idem rejects a repeated Idempotency-Key within TTL. Requests without the
// header pass through untouched.
type Idem struct {
	R   *redis.Client
	TTL time.Duration
}

// Middleware implements the chi middleware shape.
func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(IdempotencyHeader)
		if header == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}

		key := idemKey(header)
		fresh, err := i.R.SetNX(r.Context(), key, "locked", i.TTL).Result()
		if err != nil {
			JSONError(w, http.StatusInternalServerError, "INTERNAL", "idempotency store error", map[string]any{"error": err.Error()})
			return
		}
		if !fresh {
			JSONError(w, http.StatusConflict, "IDEMPOTENT_REPLAY", "duplicate request", nil)
			return
		}
		// Refresh the expiry even if the handler panics.
		defer func() {
			_ = i.R.Expire(context.Background(), key, i.TTL).Err()
		}()
		next.ServeHTTP(w, r)
	})
}

func idemKey(header string) string {
	sum := sha256.Sum256([]byte(header))
	return "idem:invoice:" + hex.EncodeToString(sum[:])
}
