package handler

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Role is the kind of account a token was issued to.
type Role string

const (
	RoleParticipant Role = "participant"
	RoleOrganizer   Role = "organizer"
	RoleAdmin       Role = "admin"
)

// TokenCookie is the cookie checked when no Authorization header is sent.
const TokenCookie = "jwt"

// Claims is the token payload. Subject carries the participant or organizer id.
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller.
type Principal struct {
	ID   string
	Role Role
}

type principalKey struct{}

// PrincipalFrom returns the caller attached by Authenticate.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

var errNoToken = errors.New("no token")

// Authenticate verifies an HS256 token from the Authorization header or the
// jwt cookie and attaches the Principal to the request context. Requests
// without a token pass through anonymously; RequireRole rejects them where
// an identity is needed.
func Authenticate(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := parseToken(r, secret)
			if errors.Is(err, errNoToken) {
				next.ServeHTTP(w, r)
				return
			}
			if err != nil {
				writeErrorCode(w, http.StatusUnauthorized, "invalid token", "unauthorized")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
		})
	}
}

func parseToken(r *http.Request, secret []byte) (Principal, error) {
	raw := ""
	if h := r.Header.Get("Authorization"); h != "" {
		var ok bool
		if raw, ok = strings.CutPrefix(h, "Bearer "); !ok {
			return Principal{}, errors.New("invalid authorization scheme")
		}
	} else if c, err := r.Cookie(TokenCookie); err == nil {
		raw = c.Value
	}
	if raw == "" {
		return Principal{}, errNoToken
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Principal{}, err
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("token has no subject")
	}
	switch claims.Role {
	case RoleParticipant, RoleOrganizer, RoleAdmin:
	default:
		return Principal{}, errors.New("token has an unknown role")
	}
	return Principal{ID: claims.Subject, Role: claims.Role}, nil
}

// RequireRole rejects anonymous callers with 401 and callers holding none of
// roles with 403.
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				writeErrorCode(w, http.StatusUnauthorized, "authentication required", "unauthorized")
				return
			}
			if !slices.Contains(roles, p.Role) {
				writeErrorCode(w, http.StatusForbidden, "insufficient role", "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
