package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/memohai/crossplay/internal/backend"
	"github.com/memohai/crossplay/internal/client"
	"github.com/memohai/crossplay/internal/session"
)

// SessionHandler serves the session orchestration routes.
type SessionHandler struct {
	client *client.Client
	logger *slog.Logger
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(log *slog.Logger, c *client.Client) *SessionHandler {
	if log == nil {
		log = slog.Default()
	}
	return &SessionHandler{
		client: c,
		logger: log.With(slog.String("handler", "session")),
	}
}

// Register registers session routes.
func (h *SessionHandler) Register(e *echo.Echo) {
	g := e.Group("/session")
	g.GET("", h.Get)
	g.POST("", h.Create)
	g.POST("/join", h.Join)
	g.POST("/leave", h.Leave)
	g.PUT("/attributes", h.SetAttributes)
	g.GET("/invites", h.ListInvites)
	g.POST("/invites", h.Invite)
	g.POST("/invites/:id/accept", h.AcceptInvite)
}

type joinSessionRequest struct {
	SessionID string `json:"session_id"`
}

type inviteRequest struct {
	UserID string `json:"user_id"`
}

type invitesResponse struct {
	Items []backend.InviteNotification `json:"items"`
}

// Create creates a session from the current lobby.
func (h *SessionHandler) Create(c echo.Context) error {
	ctx := operation(c, h.logger, "session.create")
	var req session.Settings
	if err := c.Bind(&req); err != nil && !errors.Is(err, io.EOF) {
		return badRequest(err.Error())
	}
	if req.MaxMembers < 0 {
		return badRequest("max_members must not be negative")
	}
	s, err := h.client.CreateSession(ctx, req)
	if err != nil {
		return failed(ctx, err)
	}
	return c.JSON(http.StatusCreated, s)
}

// Join joins a session by its handle.
func (h *SessionHandler) Join(c echo.Context) error {
	ctx := operation(c, h.logger, "session.join")
	var req joinSessionRequest
	if err := c.Bind(&req); err != nil && !errors.Is(err, io.EOF) {
		return badRequest(err.Error())
	}
	id := strings.TrimSpace(req.SessionID)
	if id == "" {
		return badRequest("session_id is required")
	}
	s, err := h.client.JoinSessionByHandle(ctx, id)
	if err != nil {
		return failed(ctx, err)
	}
	return c.JSON(http.StatusOK, s)
}

// Leave leaves the current session.
func (h *SessionHandler) Leave(c echo.Context) error {
	ctx := operation(c, h.logger, "session.leave")
	if err := h.client.LeaveSession(ctx); err != nil {
		return failed(ctx, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Get returns the current session.
func (h *SessionHandler) Get(c echo.Context) error {
	s, err := h.client.GetSession()
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, s)
}

// SetAttributes updates session attributes. Owner only.
func (h *SessionHandler) SetAttributes(c echo.Context) error {
	ctx := operation(c, h.logger, "session.attributes")
	var req attributesRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(err.Error())
	}
	res, err := h.client.SetAttributes(ctx, req.Attributes)
	if err != nil {
		return failed(ctx, err)
	}
	return c.JSON(http.StatusOK, newAttributesResponse(res))
}

// Invite sends a session invite to another player.
func (h *SessionHandler) Invite(c echo.Context) error {
	ctx := operation(c, h.logger, "session.invite")
	var req inviteRequest
	if err := c.Bind(&req); err != nil && !errors.Is(err, io.EOF) {
		return badRequest(err.Error())
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return badRequest("user_id is required")
	}
	if err := h.client.InvitePlayer(ctx, userID); err != nil {
		return failed(ctx, err)
	}
	return c.NoContent(http.StatusAccepted)
}

// ListInvites lists invites that were not auto-accepted.
func (h *SessionHandler) ListInvites(c echo.Context) error {
	items := h.client.PendingInvites()
	if items == nil {
		items = []backend.InviteNotification{}
	}
	return c.JSON(http.StatusOK, invitesResponse{Items: items})
}

// AcceptInvite joins the session of a pending invite.
func (h *SessionHandler) AcceptInvite(c echo.Context) error {
	ctx := operation(c, h.logger, "session.accept_invite")
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return badRequest("invite id is required")
	}
	s, err := h.client.AcceptInvite(ctx, id)
	if err != nil {
		return failed(ctx, err)
	}
	return c.JSON(http.StatusOK, s)
}
