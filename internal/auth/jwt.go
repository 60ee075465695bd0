// Package auth verifies connection credentials and produces the principal
// attached to every WebSocket connection. Token issuing (login) is owned by
// the auth collaborator; this package only validates.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lahorneada/supportchat/internal/domain"
)

var (
	// ErrNoCredential is returned when neither the jwt cookie nor the
	// Authorization header carries a token.
	ErrNoCredential = errors.New("no authentication credential")
	// ErrInvalidToken is returned when the token is malformed or invalid.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token has expired.
	ErrExpiredToken = errors.New("token has expired")
	// ErrInvalidSignature is returned when the token signature does not verify.
	ErrInvalidSignature = errors.New("invalid token signature")
	// ErrMissingClaims is returned when required claims are absent or malformed.
	ErrMissingClaims = errors.New("missing required claims")
)

// CookieName is the cookie the web client stores its token in.
const CookieName = "jwt"

// Principal is the verified identity attached to a connection for its
// whole lifetime. It is built once at handshake and passed by reference to
// every event handler; it is never re-derived from mutable connection state.
type Principal struct {
	ID    uint
	Email string
	Name  string
	Role  domain.Role
}

// DisplayName returns the name to render next to the principal's messages.
func (p *Principal) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Email
}

// Verifier validates HMAC-signed JWTs and extracts principals from their claims.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier with the given shared secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify validates the token signature and expiry and builds a Principal
// from the sub, email, name and role claims.
func (v *Verifier) Verify(tokenString string) (*Principal, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method: %v", ErrInvalidSignature, token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrExpiredToken, err)
		}
		if errors.Is(err, jwt.ErrSignatureInvalid) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%w: token is not valid", ErrInvalidToken)
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unable to parse claims", ErrInvalidToken)
	}

	id, err := extractUserID(mapClaims["sub"])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingClaims, err)
	}

	email, _ := mapClaims["email"].(string)
	if email == "" {
		return nil, fmt.Errorf("%w: email claim missing or invalid", ErrMissingClaims)
	}

	roleStr, _ := mapClaims["role"].(string)
	role := domain.Role(roleStr)
	if !role.Valid() {
		return nil, fmt.Errorf("%w: role claim missing or unknown: %q", ErrMissingClaims, roleStr)
	}

	// Optional display name, falls back to email when rendering.
	name, _ := mapClaims["name"].(string)

	return &Principal{
		ID:    id,
		Email: email,
		Name:  name,
		Role:  role,
	}, nil
}

// extractUserID converts the sub claim to a uint. JSON numbers arrive as
// float64; string subjects are accepted for compatibility with issuers that
// stringify IDs.
func extractUserID(sub interface{}) (uint, error) {
	switch v := sub.(type) {
	case float64:
		if v <= 0 || v != float64(uint64(v)) {
			return 0, fmt.Errorf("sub claim is not a positive integer: %v", v)
		}
		return uint(v), nil
	case string:
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil || n == 0 {
			return 0, fmt.Errorf("sub claim is not a positive integer: %q", v)
		}
		return uint(n), nil
	case nil:
		return 0, errors.New("sub claim missing")
	default:
		return 0, fmt.Errorf("sub claim has unsupported type %T", sub)
	}
}

// CredentialFromRequest extracts the bearer credential from a handshake
// request: the jwt cookie first, then the Authorization header. Returns
// ErrNoCredential when neither is present.
func CredentialFromRequest(r *http.Request) (string, error) {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value, nil
	}

	const bearerPrefix = "Bearer "
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, bearerPrefix) {
		token := authHeader[len(bearerPrefix):]
		if token != "" {
			return token, nil
		}
	}

	return "", ErrNoCredential
}
