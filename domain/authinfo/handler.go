// Package authinfo exposes a token-introspection endpoint so a caller can
// check what their presented credential actually resolves to, without
// having to decode a JWT or guess at an API token's scopes client-side.
package authinfo

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/rowforge/extractqueue/pkg/apperror"
	"github.com/rowforge/extractqueue/pkg/auth"
)

// Handler handles auth introspection HTTP requests.
type Handler struct{}

// NewHandler creates a new auth info handler.
func NewHandler() *Handler {
	return &Handler{}
}

// Me handles GET /api/auth/me: it echoes back the caller identity pkg/auth
// resolved for this request, so a caller can confirm which project and
// scopes a token grants before using it against the Queue API.
func (h *Handler) Me(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}
	return c.JSON(http.StatusOK, user)
}
