package auth

import (
	"testing"
	"time"

	"github.com/ash-erp/billing/internal/infrastructure/config"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJWTService() *JWTService {
	return NewJWTService(config.JWTConfig{
		Secret:                "test-secret-key-for-billing-tests",
		AccessTokenExpiration: time.Hour,
		Issuer:                "billing-test",
	})
}

func TestJWTService_GenerateAndValidate(t *testing.T) {
	svc := newTestJWTService()
	tenantID := uuid.New()
	userID := uuid.New()

	token, err := svc.GenerateAccessToken(GenerateTokenInput{
		TenantID:    tenantID,
		UserID:      userID,
		Username:    "jdelacruz",
		Permissions: []string{"billing:invoice:write"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateAccessToken(token)
	require.NoError(t, err)

	gotTenant, err := claims.GetTenantUUID()
	require.NoError(t, err)
	assert.Equal(t, tenantID, gotTenant)

	gotUser, err := claims.GetUserUUID()
	require.NoError(t, err)
	assert.Equal(t, userID, gotUser)

	assert.Equal(t, "jdelacruz", claims.Username)
	assert.True(t, claims.HasPermission("billing:invoice:write"))
	assert.False(t, claims.HasPermission("billing:invoice:void"))
}

func TestJWTService_ValidateAccessToken(t *testing.T) {
	t.Run("rejects garbage token", func(t *testing.T) {
		svc := newTestJWTService()

		_, err := svc.ValidateAccessToken("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("rejects token signed with another secret", func(t *testing.T) {
		svc := newTestJWTService()
		other := NewJWTService(config.JWTConfig{
			Secret:                "a-completely-different-secret-key",
			AccessTokenExpiration: time.Hour,
			Issuer:                "billing-test",
		})

		token, err := other.GenerateAccessToken(GenerateTokenInput{
			TenantID: uuid.New(),
			UserID:   uuid.New(),
		})
		require.NoError(t, err)

		_, err = svc.ValidateAccessToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("rejects expired token", func(t *testing.T) {
		svc := NewJWTService(config.JWTConfig{
			Secret:                "test-secret-key-for-billing-tests",
			AccessTokenExpiration: -time.Minute,
			Issuer:                "billing-test",
		})

		token, err := svc.GenerateAccessToken(GenerateTokenInput{
			TenantID: uuid.New(),
			UserID:   uuid.New(),
		})
		require.NoError(t, err)

		_, err = svc.ValidateAccessToken(token)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})
}

func TestClaims_HasAnyPermission(t *testing.T) {
	claims := &Claims{Permissions: []string{"billing:invoice:read", "billing:payment:read"}}

	assert.True(t, claims.HasAnyPermission("billing:payment:read", "billing:invoice:void"))
	assert.False(t, claims.HasAnyPermission("billing:invoice:void"))
}
