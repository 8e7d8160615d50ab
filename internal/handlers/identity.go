package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/memohai/crossplay/internal/client"
	"github.com/memohai/crossplay/internal/directory"
	"github.com/memohai/crossplay/internal/identity"
	"github.com/memohai/crossplay/internal/logger"
)

// IdentityHandler serves login, logout and user directory routes.
type IdentityHandler struct {
	client *client.Client
	logger *slog.Logger
}

// NewIdentityHandler creates an IdentityHandler.
func NewIdentityHandler(log *slog.Logger, c *client.Client) *IdentityHandler {
	if log == nil {
		log = slog.Default()
	}
	return &IdentityHandler{
		client: c,
		logger: log.With(slog.String("handler", "identity")),
	}
}

// Register registers identity routes.
func (h *IdentityHandler) Register(e *echo.Echo) {
	e.POST("/login", h.Login)
	e.POST("/logout", h.Logout)
	e.GET("/me", h.Me)
	e.GET("/friends", h.Friends)
	e.POST("/avatars", h.FetchAvatars)
	e.GET("/users/:id", h.GetUser)
}

type identityResponse struct {
	identity.LocalIdentity
	State identity.LinkState `json:"state"`
}

func newIdentityResponse(snap identity.LocalIdentity) identityResponse {
	return identityResponse{LocalIdentity: snap, State: snap.State()}
}

// Login runs the connect and auth login flows for the local player.
func (h *IdentityHandler) Login(c echo.Context) error {
	ctx := operation(c, h.logger, "identity.login")
	snap, err := h.client.Login(ctx)
	if err != nil {
		logger.FromContext(ctx).Warn("login failed", slog.Any("error", err))
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, newIdentityResponse(snap))
}

// Logout leaves any lobby or session and signs out.
func (h *IdentityHandler) Logout(c echo.Context) error {
	ctx := operation(c, h.logger, "identity.logout")
	if err := h.client.Logout(ctx); err != nil {
		return failed(ctx, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Me returns the local identity snapshot.
func (h *IdentityHandler) Me(c echo.Context) error {
	return c.JSON(http.StatusOK, newIdentityResponse(h.client.Identity()))
}

type usersResponse struct {
	Items []directory.OnlineUser `json:"items"`
}

// Friends lists platform friends that have a cross-play identity.
func (h *IdentityHandler) Friends(c echo.Context) error {
	ctx := operation(c, h.logger, "identity.friends")
	users, err := h.client.Friends(ctx)
	if err != nil {
		return failed(ctx, err)
	}
	if users == nil {
		users = []directory.OnlineUser{}
	}
	return c.JSON(http.StatusOK, usersResponse{Items: users})
}

// GetUser resolves one canonical user id.
func (h *IdentityHandler) GetUser(c echo.Context) error {
	ctx := operation(c, h.logger, "identity.user")
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return badRequest("user id is required")
	}
	user, err := h.client.User(ctx, id)
	if err != nil {
		return failed(ctx, err)
	}
	return c.JSON(http.StatusOK, user)
}

type avatarsRequest struct {
	UserIDs []string `json:"user_ids"`
}

type avatarsResponse struct {
	Fetched int `json:"fetched"`
}

// FetchAvatars loads avatars for already resolved users.
func (h *IdentityHandler) FetchAvatars(c echo.Context) error {
	ctx := operation(c, h.logger, "identity.avatars")
	var req avatarsRequest
	if err := c.Bind(&req); err != nil && !errors.Is(err, io.EOF) {
		return badRequest(err.Error())
	}
	if len(req.UserIDs) == 0 {
		return badRequest("user_ids is required")
	}
	n, err := h.client.FetchAvatars(ctx, req.UserIDs)
	if err != nil {
		return failed(ctx, err)
	}
	return c.JSON(http.StatusOK, avatarsResponse{Fetched: n})
}
