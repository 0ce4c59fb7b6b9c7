package access

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the bun-auth token payload bundata understands. The platform's
// auth middleware normally builds the Accountability itself; FromToken exists
// for services that talk to bundata directly with a bearer token.
type Claims struct {
	jwt.RegisteredClaims
	Role     string         `json:"role,omitempty"`
	RoleID   string         `json:"role_id,omitempty"`
	Admin    bool           `json:"admin,omitempty"`
	Tenant   string         `json:"tenant,omitempty"`
	Profile  map[string]any `json:"profile,omitempty"`
	TenantRO bool           `json:"tenant_scoped,omitempty"`
}

// FromToken parses and validates a bun-auth JWT and builds the request
// Accountability from its claims. HMAC only; any other signing method is
// rejected.
func FromToken(tokenString string, secret []byte, ip string) (*Accountability, error) {
	if len(secret) == 0 {
		return nil, errors.New("no secret configured")
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}

	acc := &Accountability{
		Tenant: claims.Tenant,
		IP:     ip,
	}
	if claims.Subject != "" {
		acc.User = &User{
			ID:      claims.Subject,
			Role:    claims.Role,
			IsAdmin: claims.Admin,
			Tenant:  claims.Tenant,
			Profile: claims.Profile,
		}
	}
	if claims.RoleID != "" || claims.Role != "" {
		acc.Role = &Role{
			ID:           claims.RoleID,
			Name:         claims.Role,
			TenantScoped: claims.TenantRO,
		}
	}
	return acc, nil
}

// NewToken mints a bun-auth style token for the given claims. Used by tests
// and local tooling; production tokens come from bun-auth.
func NewToken(secret []byte, claims Claims, expiry time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("no secret configured")
	}
	now := time.Now().UTC()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(expiry))
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
	return token.SignedString(secret)
}
