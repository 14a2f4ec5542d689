package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingToken is returned when a protected call carries no token
	ErrMissingToken = errors.New("missing authorization header")
	// ErrInvalidToken is returned for malformed, expired or badly signed tokens
	ErrInvalidToken = errors.New("invalid token")
	// ErrForbidden is returned when the token lacks the admin role
	ErrForbidden = errors.New("admin privileges required")
)

// AuthConfig holds authentication configuration. Paths are matched by
// prefix; for gRPC the path is the full method name.
type AuthConfig struct {
	JWTSecret   string
	Enabled     bool
	PublicPaths []string
	AdminPaths  []string
}

// Claims represents JWT claims
type Claims struct {
	UserID   string   `json:"user_id"`
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

// IsAdmin reports whether the claims carry the admin role
func (c *Claims) IsAdmin() bool {
	return slices.Contains(c.Roles, "admin")
}

type contextKey string

// UserContextKey is the key for user claims in context
const UserContextKey contextKey = "user"

// WithClaims returns a context carrying claims
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, UserContextKey, claims)
}

// GetClaimsFromContext retrieves user claims from a request context
func GetClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(UserContextKey).(*Claims)
	return claims, ok
}

// BearerToken extracts the token from an Authorization header value
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", fmt.Errorf("%w: authorization header must be 'Bearer <token>'", ErrInvalidToken)
	}
	return parts[1], nil
}

// ValidateToken parses an HMAC-signed token and returns its claims
func ValidateToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid claims", ErrInvalidToken)
	}
	return claims, nil
}

// Authenticate checks the Authorization header for a call to path. It
// returns nil claims and no error when auth is disabled or path is public.
func (c AuthConfig) Authenticate(path, header string) (*Claims, error) {
	if !c.Enabled || hasPrefix(c.PublicPaths, path) {
		return nil, nil
	}

	tokenString, err := BearerToken(header)
	if err != nil {
		return nil, err
	}
	claims, err := ValidateToken(tokenString, c.JWTSecret)
	if err != nil {
		return nil, err
	}
	if hasPrefix(c.AdminPaths, path) && !claims.IsAdmin() {
		return nil, ErrForbidden
	}
	return claims, nil
}

func hasPrefix(prefixes []string, path string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// AuthMiddleware creates a JWT authentication middleware
func AuthMiddleware(config AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := config.Authenticate(r.URL.Path, r.Header.Get("Authorization"))
			switch {
			case errors.Is(err, ErrForbidden):
				WriteJSONError(w, err.Error(), http.StatusForbidden)
				return
			case err != nil:
				WriteJSONError(w, err.Error(), http.StatusUnauthorized)
				return
			case claims != nil:
				r = r.WithContext(WithClaims(r.Context(), claims))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GenerateToken creates an HS256 token for development and tests. A zero
// ttl issues a token without expiry.
func GenerateToken(userID, username string, roles []string, secret string, ttl time.Duration) (string, error) {
	claims := &Claims{
		UserID:   userID,
		Username: username,
		Roles:    roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   "lshapg",
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
