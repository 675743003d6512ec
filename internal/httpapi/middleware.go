package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

type contextKey string

const memberIDKey contextKey = "memberID"

// MemberID extracts the authenticated member from the request context.
func MemberID(r *http.Request) string {
	id, _ := r.Context().Value(memberIDKey).(string)
	return id
}

// authMiddleware resolves the caller identity. With a JWT secret configured
// it requires a bearer token whose subject is the member id; without one it
// falls back to the X-Member-ID header for local development.
func authMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			memberID, err := resolveMember(r, secret)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err)
				return
			}
			ctx := context.WithValue(r.Context(), memberIDKey, memberID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func resolveMember(r *http.Request, secret string) (string, error) {
	if secret == "" {
		id := strings.TrimSpace(r.Header.Get("X-Member-ID"))
		if id == "" {
			return "", fmt.Errorf("missing X-Member-ID header")
		}
		return id, nil
	}

	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", fmt.Errorf("missing bearer token")
	}
	raw := strings.TrimPrefix(header, "Bearer ")

	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("invalid token")
	}
	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return subject, nil
}

// memberLimiter applies a per-member token bucket so one member cannot
// monopolize the settlement pipeline.
type memberLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newMemberLimiter(perMinute int) *memberLimiter {
	if perMinute <= 0 {
		perMinute = 30
	}
	return &memberLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    perMinute,
	}
}

func (m *memberLimiter) allow(memberID string) bool {
	m.mu.Lock()
	lim, ok := m.limiters[memberID]
	if !ok {
		lim = rate.NewLimiter(m.limit, m.burst)
		m.limiters[memberID] = lim
	}
	m.mu.Unlock()
	return lim.Allow()
}

func (m *memberLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := MemberID(r); id != "" && !m.allow(id) {
			writeError(w, http.StatusTooManyRequests, fmt.Errorf("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
