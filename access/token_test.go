package access

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

func TestTokenRoundTrip(t *testing.T) {
	tok, err := NewToken(testSecret, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u-1"},
		Role:             "editor",
		RoleID:           "r-1",
		Tenant:           "t-1",
		Profile:          map[string]any{"department": "sales"},
	}, time.Minute)
	require.NoError(t, err)

	acc, err := FromToken(tok, testSecret, "10.0.0.1")
	require.NoError(t, err)
	require.NotNil(t, acc.User)
	require.Equal(t, "u-1", acc.User.ID)
	require.False(t, acc.User.IsAdmin)
	require.Equal(t, "t-1", acc.Tenant)
	require.Equal(t, "10.0.0.1", acc.IP)
	require.Equal(t, "r-1", acc.RoleID())

	dept, ok := acc.User.Field("department")
	require.True(t, ok)
	require.Equal(t, "sales", dept)
}

func TestTokenAdminFlag(t *testing.T) {
	tok, err := NewToken(testSecret, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "root"},
		Admin:            true,
	}, time.Minute)
	require.NoError(t, err)

	acc, err := FromToken(tok, testSecret, "")
	require.NoError(t, err)
	require.True(t, acc.IsAdmin())
}

func TestTokenRejectsBadSignature(t *testing.T) {
	tok, err := NewToken(testSecret, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u-1"},
	}, time.Minute)
	require.NoError(t, err)

	_, err = FromToken(tok, []byte("other-secret"), "")
	require.Error(t, err)
}

func TestTokenRejectsExpired(t *testing.T) {
	tok, err := NewToken(testSecret, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u-1"},
	}, -time.Minute)
	require.NoError(t, err)

	_, err = FromToken(tok, testSecret, "")
	require.Error(t, err)
}

func TestTokenRejectsUnsignedAlg(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u-1"},
	})
	raw, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = FromToken(raw, testSecret, "")
	require.Error(t, err)
}

func TestAccountabilityNilSafety(t *testing.T) {
	var acc *Accountability
	require.False(t, acc.IsAdmin())
	require.Equal(t, "", acc.RoleID())

	empty := &Accountability{}
	require.False(t, empty.IsAdmin())
	require.Equal(t, "", empty.RoleID())
}
