package testutil

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/uptrace/bun"
)

// TestTokenPrefix matches AuthConfig.APITokenPrefix's default, so fixture
// tokens are recognized by pkg/auth's dispatch on token shape.
const TestTokenPrefix = "eq_"

// NewTestToken generates a fresh plaintext API token for fixtures.
func NewTestToken() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return TestTokenPrefix + hex.EncodeToString(buf)
}

func hashTestToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// TestProject is a minimal project fixture.
type TestProject struct {
	ID          string
	OwnerUserID string
	Name        string
}

// DefaultTestProject is a standard test project.
var DefaultTestProject = TestProject{
	ID:          "00000000-0000-0000-0000-000000000100",
	OwnerUserID: "00000000-0000-0000-0000-000000000001",
	Name:        "Test Project",
}

// CreateTestProject creates a test project in the database, owned by
// ownerUserID.
func CreateTestProject(ctx context.Context, db bun.IDB, project TestProject) error {
	_, err := db.NewRaw(`
		INSERT INTO projects (id, owner_user_id, name, llm_endpoint_url, llm_model, llm_api_key)
		VALUES (?, ?, ?, 'http://localhost:11434/v1', 'test-model', 'test-key')
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
	`, project.ID, project.OwnerUserID, project.Name).Exec(ctx)
	return err
}

// CreateTestAPIToken mints an API token row scoped to a project and
// returns the plaintext value, matching the hash pkg/auth's middleware
// computes for lookup.
func CreateTestAPIToken(ctx context.Context, db bun.IDB, projectID string, scopes []string) (string, error) {
	token := NewTestToken()
	tokenHash := hashTestToken(token)
	pgArray := "{" + strings.Join(scopes, ",") + "}"

	_, err := db.NewRaw(`
		INSERT INTO api_tokens (project_id, token_hash, scopes)
		VALUES (?, ?, ?::text[])
	`, projectID, tokenHash, pgArray).Exec(ctx)
	if err != nil {
		return "", err
	}
	return token, nil
}

// CreateRevokedTestAPIToken mints an already-revoked API token, for
// testing that revoked credentials are rejected.
func CreateRevokedTestAPIToken(ctx context.Context, db bun.IDB, projectID string) (string, error) {
	token := NewTestToken()
	tokenHash := hashTestToken(token)

	_, err := db.NewRaw(`
		INSERT INTO api_tokens (project_id, token_hash, scopes, revoked_at)
		VALUES (?, ?, '{}', now())
	`, projectID, tokenHash).Exec(ctx)
	if err != nil {
		return "", err
	}
	return token, nil
}

// AuthHeader returns an Authorization header value for a token.
func AuthHeader(token string) string {
	return "Bearer " + token
}
