package auth

import (
	"testing"
	"time"

	"egg-market/internal/apperr"
	"egg-market/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidate(t *testing.T) {
	svc := NewTokenService("secret", "egg-market", time.Hour)

	token, err := svc.Issue(42, models.RoleCourier)
	require.NoError(t, err)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, models.RoleCourier, claims.Role)
	assert.Equal(t, "42", claims.Subject)
}

func TestValidateRejects(t *testing.T) {
	svc := NewTokenService("secret", "egg-market", time.Hour)

	t.Run("expired", func(t *testing.T) {
		expired := NewTokenService("secret", "egg-market", -time.Minute)
		token, err := expired.Issue(1, models.RoleClient)
		require.NoError(t, err)

		_, err = svc.Validate(token)
		assert.True(t, apperr.Is(err, apperr.Unauthenticated))
		assert.Equal(t, "token has expired", apperr.Message(err))
	})

	t.Run("wrong key", func(t *testing.T) {
		other := NewTokenService("other", "egg-market", time.Hour)
		token, err := other.Issue(1, models.RoleClient)
		require.NoError(t, err)

		_, err = svc.Validate(token)
		assert.True(t, apperr.Is(err, apperr.Unauthenticated))
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := NewTokenService("secret", "someone-else", time.Hour)
		token, err := other.Issue(1, models.RoleClient)
		require.NoError(t, err)

		_, err = svc.Validate(token)
		assert.True(t, apperr.Is(err, apperr.Unauthenticated))
	})

	t.Run("none algorithm", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: 1, Role: models.RoleAdmin})
		signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = svc.Validate(signed)
		assert.True(t, apperr.Is(err, apperr.Unauthenticated))
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.Validate("not.a.token")
		assert.True(t, apperr.Is(err, apperr.Unauthenticated))
	})
}

func TestPassword(t *testing.T) {
	PasswordCost = 4
	t.Cleanup(func() { PasswordCost = 12 })

	hash, err := HashPassword("oeufs-frais")
	require.NoError(t, err)
	assert.NotEqual(t, "oeufs-frais", hash)

	assert.NoError(t, VerifyPassword(hash, "oeufs-frais"))
	assert.Error(t, VerifyPassword(hash, "wrong"))
}
