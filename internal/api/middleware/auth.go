// Package middleware provides HTTP middleware for the Gin router.
//
// Go Learning Note — Middleware Pattern (Gin):
// In Gin, middleware is any function with the signature `gin.HandlerFunc`, which
// is `func(*gin.Context)`. Middleware functions form a chain: each one runs,
// optionally calls c.Next() to pass control to the next handler, and can call
// c.Abort() to stop the chain. This is the "chain of responsibility" pattern.
//
// Middleware is applied using .Use() on a router or route group. Here that is
// authentication, request ids, access logging and rate limiting.
package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Context keys for storing authenticated user data.
//
// Go Learning Note — Context Values:
// Gin's c.Set/c.Get stores request-scoped values in the *gin.Context. This is
// similar to the standard library's context.WithValue(). Use string keys (not
// raw strings) as constants to avoid typos and enable refactoring.
const (
	UserIDKey    = "user_id"
	RequestIDKey = "request_id"

	// TokenTypeAccess is the only token type accepted for API calls.
	TokenTypeAccess = "access"
)

var (
	errMissingSubject = errors.New("token has no subject")
	errWrongTokenType = errors.New("token is not an access token")
)

// AccessClaims are the claims of a bearer token. Subject holds the numeric
// user id. Type is optional; when present it must be "access" so refresh
// tokens cannot be replayed against the API.
type AccessClaims struct {
	Type string `json:"type,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuth verifies an HS256 bearer token signed with secret and stores the
// user id for downstream handlers.
//
// Go Learning Note — Returning Functions (Closures):
// JWTAuth() returns a gin.HandlerFunc. The outer function receives the
// configuration (the signing secret) and the inner function, the closure,
// captures it. This is how Gin middleware takes parameters.
//
// Go Learning Note — c.Abort():
// c.Abort() prevents subsequent handlers in the chain from running. Without it,
// even after writing an error response, the next handler would still execute.
// Always pair error responses with c.Abort() in middleware.
func JWTAuth(secret string) gin.HandlerFunc {
	key := []byte(secret)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			unauthorized(c, "missing authorization header")
			return
		}

		// strings.SplitN splits into at most 2 parts, handling tokens with spaces.
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || strings.TrimSpace(parts[1]) == "" {
			unauthorized(c, "invalid authorization format")
			return
		}

		userID, err := parseAccessToken(parser, key, strings.TrimSpace(parts[1]))
		if err != nil {
			unauthorized(c, "invalid or expired token")
			return
		}

		c.Set(UserIDKey, userID)
		c.Next() // Pass control to the next middleware/handler in the chain.
	}
}

func parseAccessToken(parser *jwt.Parser, key []byte, raw string) (int64, error) {
	claims := &AccessClaims{}
	token, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return key, nil
	})
	if err != nil {
		return 0, err
	}
	if !token.Valid {
		return 0, jwt.ErrTokenInvalidClaims
	}
	if claims.Type != "" && claims.Type != TokenTypeAccess {
		return 0, errWrongTokenType
	}
	if claims.Subject == "" {
		return 0, errMissingSubject
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, fmt.Errorf("invalid subject %q", claims.Subject)
	}
	return userID, nil
}

// NewAccessToken signs an access token for userID that expires after ttl.
func NewAccessToken(secret string, userID int64, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		Type: TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func unauthorized(c *gin.Context, message string) {
	c.Header("WWW-Authenticate", "Bearer")
	c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": message})
	c.Abort()
}

// GetUserID retrieves the user ID previously set by JWTAuth.
//
// Go Learning Note — Type Assertion:
// c.Get() returns (interface{}, bool). The comma-ok form `v, ok := x.(int64)`
// returns ok=false instead of panicking when the value is missing or of
// another type, so routes mounted without JWTAuth get 0 rather than a crash.
func GetUserID(c *gin.Context) int64 {
	v, _ := c.Get(UserIDKey)
	userID, _ := v.(int64)
	return userID
}
