package apitoken

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/rowforge/extractqueue/internal/config"
	"github.com/rowforge/extractqueue/pkg/apperror"
	"github.com/rowforge/extractqueue/pkg/logger"
)

// TokenRandomBytes is the entropy of the random suffix, hex-encoded.
const TokenRandomBytes = 32

// Service is the minting/revocation API for caller-issued credentials.
type Service struct {
	repo   *Repository
	prefix string
	log    *slog.Logger
}

// NewService creates a new API token service. The token prefix comes from
// AuthConfig so minting and validation (pkg/auth's middleware) always agree
// on how to recognize an API token versus a bearer JWT.
func NewService(repo *Repository, cfg *config.Config, log *slog.Logger) *Service {
	return &Service{repo: repo, prefix: cfg.Auth.APITokenPrefix, log: log.With(logger.Scope("apitoken.service"))}
}

// Create mints a new token for a project and returns its one-time
// plaintext value alongside the persisted record.
func (s *Service) Create(ctx context.Context, projectID string, scopes []string) (*CreateApiTokenResponseDTO, error) {
	if err := validateScopes(scopes); err != nil {
		return nil, err
	}

	plaintext, err := s.generateToken()
	if err != nil {
		return nil, apperror.ErrStoreFailure.WithInternal(err).WithMessage("failed to generate token")
	}

	token := &ApiToken{
		ProjectID: projectID,
		TokenHash: hashToken(plaintext),
		Scopes:    scopes,
	}
	if err := s.repo.Create(ctx, token); err != nil {
		return nil, err
	}

	return &CreateApiTokenResponseDTO{
		ApiTokenDTO: token.ToDTO(),
		Token:       plaintext,
	}, nil
}

// ListByProject returns all tokens for a project as DTOs.
func (s *Service) ListByProject(ctx context.Context, projectID string) ([]ApiTokenDTO, error) {
	tokens, err := s.repo.ListByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	dtos := make([]ApiTokenDTO, len(tokens))
	for i, t := range tokens {
		dtos[i] = t.ToDTO()
	}
	return dtos, nil
}

// GetByID returns one token as a DTO, or apperror.ErrNotFound.
func (s *Service) GetByID(ctx context.Context, id, projectID string) (*ApiTokenDTO, error) {
	token, err := s.repo.GetByID(ctx, id, projectID)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, apperror.NewNotFound("api token", id)
	}
	dto := token.ToDTO()
	return &dto, nil
}

// Revoke revokes a token, or apperror.ErrNotFound if it doesn't exist or
// is already revoked.
func (s *Service) Revoke(ctx context.Context, id, projectID string) error {
	found, err := s.repo.Revoke(ctx, id, projectID)
	if err != nil {
		return err
	}
	if !found {
		return apperror.NewNotFound("api token", id)
	}
	return nil
}

// generateToken produces a new plaintext token: the configured prefix
// followed by hex-encoded random bytes.
func (s *Service) generateToken() (string, error) {
	buf := make([]byte, TokenRandomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return s.prefix + hex.EncodeToString(buf), nil
}

// hashToken matches pkg/auth's validateAPIToken exactly: both sides must
// compute the same deterministic hash for the equality lookup to work.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func validateScopes(scopes []string) error {
	if len(scopes) == 0 {
		return apperror.NewBadRequest("at least one scope is required")
	}
	valid := make(map[string]bool, len(ValidScopes))
	for _, v := range ValidScopes {
		valid[v] = true
	}
	for _, s := range scopes {
		if !valid[s] {
			return apperror.NewBadRequest(fmt.Sprintf("invalid scope %q", s))
		}
	}
	return nil
}
