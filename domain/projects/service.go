package projects

import (
	"context"
	"log/slog"

	"github.com/rowforge/extractqueue/pkg/apperror"
	"github.com/rowforge/extractqueue/pkg/logger"
)

// Service is the project domain's public API: CRUD plus the
// project-ownership check the §6 Authorization contract relies on.
type Service struct {
	repo *Repository
	log  *slog.Logger
}

// NewService creates a new project service.
func NewService(repo *Repository, log *slog.Logger) *Service {
	return &Service{repo: repo, log: log.With(logger.Scope("projects.service"))}
}

// Get returns a project by id, or apperror.ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*Project, error) {
	project, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, apperror.NewNotFound("project", id)
	}
	return project, nil
}

// Create validates and persists a new project.
func (s *Service) Create(ctx context.Context, project *Project) error {
	if project.Name == "" {
		return apperror.NewBadRequest("name is required")
	}
	if err := validateColumns(project.Columns); err != nil {
		return err
	}
	if project.MaxConcurrency < 1 {
		project.MaxConcurrency = 1
	}
	if project.RequestsPerMinute < 1 {
		project.RequestsPerMinute = 60
	}
	return s.repo.Create(ctx, project)
}

// Update validates and persists changes to an existing project.
func (s *Service) Update(ctx context.Context, project *Project) error {
	if err := validateColumns(project.Columns); err != nil {
		return err
	}
	return s.repo.Update(ctx, project)
}

// Delete removes a project.
func (s *Service) Delete(ctx context.Context, id string) error {
	found, err := s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return apperror.NewNotFound("project", id)
	}
	return nil
}

// VerifyOwnership enforces the §6 Authorization contract: the caller must
// own the project referenced by a Queue API call.
func (s *Service) VerifyOwnership(ctx context.Context, projectID, callerUserID string) error {
	owned, err := s.repo.IsOwner(ctx, projectID, callerUserID)
	if err != nil {
		return err
	}
	if !owned {
		return apperror.ErrForbidden
	}
	return nil
}

// validateColumns enforces the §3 invariant that column ids are unique
// within a project.
func validateColumns(columns []ColumnDefinition) error {
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		if c.ID == "" {
			return apperror.NewBadRequest("column id must not be empty")
		}
		if seen[c.ID] {
			return apperror.NewBadRequest("duplicate column id: " + c.ID)
		}
		seen[c.ID] = true
	}
	return nil
}
