package projects

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/uptrace/bun"

	"github.com/rowforge/extractqueue/pkg/apperror"
	"github.com/rowforge/extractqueue/pkg/logger"
)

// Repository handles database operations for projects.
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new project repository.
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{db: db, log: log.With(logger.Scope("projects.repo"))}
}

// GetByID returns a project by id, or nil if not found.
func (r *Repository) GetByID(ctx context.Context, id string) (*Project, error) {
	var project Project

	err := r.db.NewSelect().Model(&project).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.log.Error("failed to get project", logger.Error(err), slog.String("id", id))
		return nil, apperror.ErrStoreFailure.WithInternal(err)
	}

	return &project, nil
}

// Create inserts a new project.
func (r *Repository) Create(ctx context.Context, project *Project) error {
	_, err := r.db.NewInsert().Model(project).Exec(ctx)
	if err != nil {
		r.log.Error("failed to create project", logger.Error(err))
		return apperror.ErrStoreFailure.WithInternal(err)
	}
	return nil
}

// Update persists changes to an existing project.
func (r *Repository) Update(ctx context.Context, project *Project) error {
	_, err := r.db.NewUpdate().Model(project).WherePK().Exec(ctx)
	if err != nil {
		r.log.Error("failed to update project", logger.Error(err), slog.String("id", project.ID))
		return apperror.ErrStoreFailure.WithInternal(err)
	}
	return nil
}

// Delete removes a project.
func (r *Repository) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.NewDelete().Model((*Project)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		r.log.Error("failed to delete project", logger.Error(err), slog.String("id", id))
		return false, apperror.ErrStoreFailure.WithInternal(err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// IsOwner reports whether userID owns the project identified by projectID.
// Used by the §6 Authorization contract before invoking the Queue Manager.
func (r *Repository) IsOwner(ctx context.Context, projectID, userID string) (bool, error) {
	exists, err := r.db.NewSelect().
		Model((*Project)(nil)).
		Where("id = ?", projectID).
		Where("owner_user_id = ?", userID).
		Exists(ctx)

	if err != nil {
		r.log.Error("failed to check project ownership", logger.Error(err),
			slog.String("projectID", projectID), slog.String("userID", userID))
		return false, apperror.ErrStoreFailure.WithInternal(err)
	}

	return exists, nil
}
