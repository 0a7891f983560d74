/*
auth.go - Employee-code login and JWT session middleware

PURPOSE:
  Resolves an employee code to a user record and hands the client a signed
  session token. Subsequent requests present the token as a Bearer header;
  the middleware resolves it back to the current user record on every
  request, so role or quota changes take effect immediately.

NOT A SECURITY BOUNDARY:
  Login is a plain code lookup with no password, mirroring the badge-scan
  style sign-in the platform uses internally. The token prevents casual
  impersonation between colleagues, nothing more.

SEE ALSO:
  - handlers.go: Login endpoint
  - server.go: Where the middleware is mounted
*/
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/spark/kudos-engine/ledger"
)

// Authenticator issues and verifies session tokens.
type Authenticator struct {
	Secret []byte
	TTL    time.Duration
	Store  ledger.Store
}

func NewAuthenticator(secret []byte, ttl time.Duration, store ledger.Store) *Authenticator {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Authenticator{Secret: secret, TTL: ttl, Store: store}
}

type sessionClaims struct {
	UserID string `json:"uid"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs a session token for the user.
func (a *Authenticator) IssueToken(u *ledger.User) (string, error) {
	ttl := a.TTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	now := time.Now().UTC()
	claims := sessionClaims{
		UserID: string(u.ID),
		Role:   u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(u.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.Secret)
}

func (a *Authenticator) parseToken(token string) (*sessionClaims, error) {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.Secret, nil
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}

type contextKey string

const userContextKey contextKey = "current_user"

// currentUser returns the authenticated user stored by the middleware.
func currentUser(ctx context.Context) *ledger.User {
	u, _ := ctx.Value(userContextKey).(*ledger.User)
	return u
}

// Middleware verifies the Bearer token and loads the current user record
// into the request context. 401 on anything short of a valid session.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "Missing bearer token", nil)
			return
		}

		claims, err := a.parseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid session token", err)
			return
		}

		user, err := a.Store.GetUser(r.Context(), ledger.UserID(claims.UserID))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to resolve session user", err)
			return
		}
		if user == nil {
			// Account deleted since the token was issued.
			writeError(w, http.StatusUnauthorized, "Unknown session user", nil)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin rejects non-admin sessions. Mount inside Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := currentUser(r.Context())
		if user == nil || !user.IsAdmin() {
			writeError(w, http.StatusForbidden, "Admin access required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
