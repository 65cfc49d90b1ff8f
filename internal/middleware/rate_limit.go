package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/baharkarakas/wallet-ledger/internal/api/httpx"
	"golang.org/x/time/rate"
)

type clientLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

// RateLimit allows rps requests per second per client, keyed by user id
// when authenticated and by remote IP otherwise.
func RateLimit(rps int) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	var (
		mu      sync.Mutex
		clients = make(map[string]*clientLimiter)
		sweep   = time.Now()
	)
	get := func(key string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		now := time.Now()
		// idle clients are dropped once a minute
		if now.Sub(sweep) > time.Minute {
			for k, c := range clients {
				if now.Sub(c.seen) > 3*time.Minute {
					delete(clients, k)
				}
			}
			sweep = now
		}
		c, ok := clients[key]
		if !ok {
			c = &clientLimiter{lim: rate.NewLimiter(rate.Limit(rps), rps)}
			clients[key] = c
		}
		c.seen = now
		return c.lim
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !get(clientKey(r)).Allow() {
				w.Header().Set("Retry-After", "1")
				httpx.WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if u, ok := FromCtx(r.Context()); ok {
		return "u:" + u.UserID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
