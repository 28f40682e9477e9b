package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "liaison/pkg/domain-errors"
)

func TestGenerateAndValidateToken(t *testing.T) {
	svc := NewJWTService("test-signing-key", "liaison", "liaison-clients")

	raw, err := svc.GenerateAccessToken("org-1", time.Hour)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(raw)
	require.NoError(t, err)
	assert.Equal(t, "org-1", claims.OrgID)
	assert.Equal(t, "liaison", claims.Issuer)
}

func TestValidateTokenExpired(t *testing.T) {
	svc := NewJWTService("test-signing-key", "liaison", "liaison-clients")

	raw, err := svc.GenerateAccessToken("org-1", -time.Minute)
	require.NoError(t, err)

	_, err = svc.ValidateToken(raw)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestValidateTokenWrongKey(t *testing.T) {
	minter := NewJWTService("key-a", "liaison", "liaison-clients")
	verifier := NewJWTService("key-b", "liaison", "liaison-clients")

	raw, err := minter.GenerateAccessToken("org-1", time.Hour)
	require.NoError(t, err)

	_, err = verifier.ValidateToken(raw)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestValidateTokenGarbage(t *testing.T) {
	svc := NewJWTService("test-signing-key", "liaison", "liaison-clients")
	_, err := svc.ValidateToken("not-a-token")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}
