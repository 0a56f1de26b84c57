package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHMAC(t *testing.T) {
	body := []byte(`{"event_type":"payment_confirmed"}`)
	sig := SignHMAC(body, "s3cret")

	assert.True(t, VerifyHMAC(body, sig, "s3cret"))
	assert.True(t, VerifyHMAC(body, "sha256="+sig, "s3cret"))
	assert.False(t, VerifyHMAC(body, sig, "other"))
	assert.False(t, VerifyHMAC([]byte(`{}`), sig, "s3cret"))
	assert.False(t, VerifyHMAC(body, "zz-not-hex", "s3cret"))
	assert.False(t, VerifyHMAC(body, SignHMAC(body, ""), ""))
}

func TestTokenRoundTrip(t *testing.T) {
	m := NewTokenManager("secret", "accounts")
	id := uuid.New()

	token, err := m.GenerateToken(id, ActorProvider, time.Minute)
	require.NoError(t, err)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, id, claims.ActorID)
	assert.Equal(t, ActorProvider, claims.Kind)

	_, err = m.GenerateToken(id, "root", time.Minute)
	assert.Error(t, err)
}

func TestValidateTokenRejects(t *testing.T) {
	m := NewTokenManager("secret", "accounts")
	id := uuid.New()

	expired, err := m.GenerateToken(id, ActorAdmin, -time.Minute)
	require.NoError(t, err)
	_, err = m.ValidateToken(expired)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	foreign, err := NewTokenManager("secret", "elsewhere").GenerateToken(id, ActorAdmin, time.Minute)
	require.NoError(t, err)
	_, err = m.ValidateToken(foreign)
	assert.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)

	forged, err := NewTokenManager("guess", "accounts").GenerateToken(id, ActorAdmin, time.Minute)
	require.NoError(t, err)
	_, err = m.ValidateToken(forged)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{ActorID: id, Kind: ActorAdmin,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "accounts", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute))}})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = m.ValidateToken(unsigned)
	assert.Error(t, err)
}

func TestGenerateReference(t *testing.T) {
	a, b := GenerateReference("PB"), GenerateReference("PB")
	assert.True(t, strings.HasPrefix(a, "PB_"))
	assert.Len(t, a, len("PB_20260301_")+8)
	assert.NotEqual(t, a, b)
}
