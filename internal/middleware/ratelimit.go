// Package middleware provides HTTP middleware for the Parley API.
package middleware

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/observer/parley/internal/auth"
	"github.com/observer/parley/internal/domain"
	"github.com/observer/parley/internal/throttle"
)

// Throttle rejects a request with 429 and domain.ErrRateLimited when the
// authenticated user sent one less than the guard's interval ago. It must
// run after auth.Middleware; anonymous requests pass through.
func Throttle(guard *throttle.Guard) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(math.Ceil(guard.Interval().Seconds())))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := auth.GetUserID(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			if !guard.Allow(userID.String()) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", retryAfter)
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": domain.ErrRateLimited.Error()})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
