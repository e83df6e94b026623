// Package auth resolves a caller identity for the Queue API. Full
// user-level authentication (OIDC, session cookies, the review UI's login
// flow) is explicitly out of scope for the core; this middleware only
// answers "who is calling and which project do they claim", which is what
// the §6 Authorization contract needs in front of the Queue Manager.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"

	"github.com/rowforge/extractqueue/internal/config"
	"github.com/rowforge/extractqueue/pkg/apperror"
	"github.com/rowforge/extractqueue/pkg/logger"
)

// AuthUser is the resolved caller identity.
type AuthUser struct {
	ID        string   `json:"id"`
	ProjectID string   `json:"projectId,omitempty"`
	Scopes    []string `json:"scopes,omitempty"`
}

type contextKey string

const userContextKey contextKey = "auth_user"

// GetUser retrieves the authenticated caller from the Echo context.
func GetUser(c echo.Context) *AuthUser {
	user, _ := c.Get(string(userContextKey)).(*AuthUser)
	return user
}

// GetProjectID returns the project id the caller authenticated against.
// API tokens are minted scoped to exactly one project (see
// validateAPIToken), which is what makes this safe to trust without an
// additional header.
func GetProjectID(c echo.Context) (string, error) {
	user := GetUser(c)
	if user == nil {
		return "", apperror.ErrUnauthorized
	}
	if user.ProjectID == "" {
		return "", apperror.NewBadRequest("request does not carry a project scope")
	}
	return user.ProjectID, nil
}

// Middleware resolves caller identity for incoming requests.
type Middleware struct {
	db  bun.IDB
	cfg *config.Config
	log *slog.Logger
}

// NewMiddleware creates a new auth middleware.
func NewMiddleware(db bun.IDB, cfg *config.Config, log *slog.Logger) *Middleware {
	return &Middleware{db: db, cfg: cfg, log: log.With(logger.Scope("auth"))}
}

// RequireAuth returns middleware that resolves the caller identity or
// rejects the request.
func (m *Middleware) RequireAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user, err := m.authenticate(c.Request())
			if err != nil {
				m.log.Warn("authentication failed", logger.Error(err))
				status, body := apperror.ToHTTPError(err)
				return c.JSON(status, body)
			}
			c.Set(string(userContextKey), user)
			return next(c)
		}
	}
}

func (m *Middleware) authenticate(r *http.Request) (*AuthUser, error) {
	token := extractToken(r)
	if token == "" {
		return nil, apperror.ErrUnauthorized
	}

	if strings.HasPrefix(token, m.cfg.Auth.APITokenPrefix) {
		return m.validateAPIToken(r.Context(), token)
	}

	return m.validateJWT(token)
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// validateAPIToken hashes the presented token and looks it up in
// api_tokens, matching the teacher's SHA-256-hash-lookup pattern. Each API
// token is scoped to exactly one project at mint time.
func (m *Middleware) validateAPIToken(ctx context.Context, token string) (*AuthUser, error) {
	hash := sha256.Sum256([]byte(token))
	tokenHash := hex.EncodeToString(hash[:])

	var result struct {
		ID        string   `bun:"id"`
		ProjectID string   `bun:"project_id"`
		Scopes    []string `bun:"scopes,array"`
	}

	err := m.db.NewSelect().
		TableExpr("api_tokens").
		Column("id", "project_id", "scopes").
		Where("token_hash = ?", tokenHash).
		Where("revoked_at IS NULL").
		Scan(ctx, &result)

	if err != nil {
		return nil, apperror.ErrUnauthorized.WithInternal(err)
	}

	return &AuthUser{ID: result.ID, ProjectID: result.ProjectID, Scopes: result.Scopes}, nil
}

// tokenClaims is the subset of JWT claims the middleware trusts.
type tokenClaims struct {
	jwt.RegisteredClaims
	ProjectID string   `json:"project_id"`
	Scopes    []string `json:"scopes"`
}

func (m *Middleware) validateJWT(token string) (*AuthUser, error) {
	if m.cfg.Auth.JWTSigningKey == "" {
		return nil, apperror.ErrUnauthorized.WithMessage("bearer JWT auth is not configured")
	}

	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(m.cfg.Auth.JWTSigningKey), nil
	}, jwt.WithValidMethods([]string{"HS256"}))

	if err != nil || !parsed.Valid {
		return nil, apperror.ErrUnauthorized.WithInternal(err)
	}

	return &AuthUser{ID: claims.Subject, ProjectID: claims.ProjectID, Scopes: claims.Scopes}, nil
}
