package apitoken

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/uptrace/bun"

	"github.com/rowforge/extractqueue/pkg/apperror"
	"github.com/rowforge/extractqueue/pkg/logger"
	"github.com/rowforge/extractqueue/pkg/pgutils"
)

// Repository handles database operations for API tokens.
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new API token repository.
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{db: db, log: log.With(logger.Scope("apitoken.repo"))}
}

// Create inserts a new API token. A token_hash collision (23505) is
// vanishingly unlikely given generateToken's entropy; it is still reported
// as a store failure, but with its own message and a retriable detail.
func (r *Repository) Create(ctx context.Context, token *ApiToken) error {
	_, err := r.db.NewInsert().Model(token).Returning("*").Exec(ctx)
	if err != nil {
		if pgutils.IsUniqueViolation(err) {
			return apperror.ErrStoreFailure.WithInternal(err).
				WithMessage("generated token collided with an existing one, retry").
				WithDetails(map[string]any{"retriable": true})
		}
		r.log.Error("failed to create api token", logger.Error(err))
		return apperror.ErrStoreFailure.WithInternal(err)
	}
	return nil
}

// ListByProject returns all tokens (active and revoked) for a project,
// newest first.
func (r *Repository) ListByProject(ctx context.Context, projectID string) ([]ApiToken, error) {
	var tokens []ApiToken
	err := r.db.NewSelect().Model(&tokens).
		Where("project_id = ?", projectID).
		OrderExpr("created_at DESC").
		Scan(ctx)
	if err != nil {
		r.log.Error("failed to list api tokens", logger.Error(err), slog.String("project_id", projectID))
		return nil, apperror.ErrStoreFailure.WithInternal(err)
	}
	return tokens, nil
}

// GetByID returns a single token scoped to a project, or nil if not found.
func (r *Repository) GetByID(ctx context.Context, id, projectID string) (*ApiToken, error) {
	var token ApiToken
	err := r.db.NewSelect().Model(&token).
		Where("id = ?", id).
		Where("project_id = ?", projectID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.log.Error("failed to get api token", logger.Error(err), slog.String("id", id))
		return nil, apperror.ErrStoreFailure.WithInternal(err)
	}
	return &token, nil
}

// Revoke sets revoked_at on a token scoped to a project. Returns false if
// no matching, not-yet-revoked token exists.
func (r *Repository) Revoke(ctx context.Context, id, projectID string) (bool, error) {
	res, err := r.db.NewUpdate().Model((*ApiToken)(nil)).
		Set("revoked_at = now()").
		Where("id = ?", id).
		Where("project_id = ?", projectID).
		Where("revoked_at IS NULL").
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to revoke api token", logger.Error(err), slog.String("id", id))
		return false, apperror.ErrStoreFailure.WithInternal(err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
