// Package identity verifies bearer tokens issued by the external identity
// provider and turns them into a tenant identity.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/pushrelay/internal/config"
)

var (
	ErrTokenMissing     = errors.New("token_missing")
	ErrTokenInvalid     = errors.New("invalid_token")
	ErrNotConfigured    = errors.New("identity_not_configured")
	ErrInvalidRoleClaim = errors.New("invalid_role_claim")
)

const (
	RoleTenant   = "tenant"
	RoleOperator = "operator"
)

// Identity is the authenticated caller. TenantID is the token subject.
type Identity struct {
	TenantID string
	Role     string
	Email    string
}

// Subject is the authorization subject for the caller.
func (i Identity) Subject() string {
	return "user:" + i.TenantID
}

type Claims struct {
	Role  string `json:"role,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret   []byte
	issuer   string
	audience string
	leeway   time.Duration
	now      func() time.Time
}

func NewVerifier(cfg config.Config) *Verifier {
	return &Verifier{
		secret:   []byte(strings.TrimSpace(cfg.Auth.JWTSecret)),
		issuer:   strings.TrimSpace(cfg.Auth.JWTIssuer),
		audience: strings.TrimSpace(cfg.Auth.JWTAudience),
		leeway:   30 * time.Second,
		now:      time.Now,
	}
}

func (v *Verifier) Configured() bool {
	return v != nil && len(v.secret) > 0
}

// Verify parses an HS256 token and returns the caller identity.
func (v *Verifier) Verify(token string) (*Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenMissing
	}
	if !v.Configured() {
		return nil, ErrNotConfigured
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &Claims{}
	if _, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	tenantID := strings.TrimSpace(claims.Subject)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	role := strings.ToLower(strings.TrimSpace(claims.Role))
	switch role {
	case "":
		role = RoleTenant
	case RoleTenant, RoleOperator:
	default:
		return nil, ErrInvalidRoleClaim
	}

	return &Identity{
		TenantID: tenantID,
		Role:     role,
		Email:    strings.TrimSpace(claims.Email),
	}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	parts := strings.Fields(strings.TrimSpace(header))
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
