package apitoken

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHashToken(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{name: "standard token", token: "eq_abc123def456"},
		{name: "empty token", token: ""},
		{name: "long token", token: "eq_" + strings.Repeat("a", 64)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash := hashToken(tt.token)
			assert.Len(t, hash, 64, "SHA-256 produces 64 hex characters")
			assert.Equal(t, hash, hashToken(tt.token), "hashToken must be deterministic")
		})
	}
}

func TestHashTokenDifferentInputs(t *testing.T) {
	assert.NotEqual(t, hashToken("token1"), hashToken("token2"))
}

func TestService_GenerateToken(t *testing.T) {
	svc := &Service{prefix: "eq_"}

	token, err := svc.generateToken()
	assert.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, "eq_"))
	assert.Len(t, token, len("eq_")+TokenRandomBytes*2)

	token2, err := svc.generateToken()
	assert.NoError(t, err)
	assert.NotEqual(t, token, token2, "generateToken must produce unique tokens")
}

func TestApiToken_ToDTO(t *testing.T) {
	now := time.Now()
	revoked := now.Add(-time.Minute)

	t.Run("active token", func(t *testing.T) {
		token := &ApiToken{
			ID:        "token-123",
			ProjectID: "proj-456",
			TokenHash: "hash123",
			Scopes:    []string{"queue:read", "queue:write"},
			CreatedAt: now,
		}
		dto := token.ToDTO()
		assert.Equal(t, "token-123", dto.ID)
		assert.Equal(t, "proj-456", dto.ProjectID)
		assert.Equal(t, []string{"queue:read", "queue:write"}, dto.Scopes)
		assert.True(t, dto.CreatedAt.Equal(now))
		assert.Nil(t, dto.RevokedAt)
		assert.False(t, token.IsRevoked())
	})

	t.Run("revoked token", func(t *testing.T) {
		token := &ApiToken{ID: "token-789", RevokedAt: &revoked}
		dto := token.ToDTO()
		assert.NotNil(t, dto.RevokedAt)
		assert.True(t, token.IsRevoked())
	})
}

func TestValidateScopes(t *testing.T) {
	assert.NoError(t, validateScopes([]string{"queue:read"}))
	assert.NoError(t, validateScopes([]string{"queue:read", "queue:write"}))

	err := validateScopes(nil)
	assert.Error(t, err)

	err = validateScopes([]string{"not:a:scope"})
	assert.Error(t, err)
}
