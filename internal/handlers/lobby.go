package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/memohai/crossplay/internal/attrs"
	"github.com/memohai/crossplay/internal/client"
	"github.com/memohai/crossplay/internal/directory"
	"github.com/memohai/crossplay/internal/lobby"
)

// LobbyHandler serves the lobby orchestration routes.
type LobbyHandler struct {
	client *client.Client
	logger *slog.Logger
}

// NewLobbyHandler creates a LobbyHandler.
func NewLobbyHandler(log *slog.Logger, c *client.Client) *LobbyHandler {
	if log == nil {
		log = slog.Default()
	}
	return &LobbyHandler{
		client: c,
		logger: log.With(slog.String("handler", "lobby")),
	}
}

// Register registers lobby routes.
func (h *LobbyHandler) Register(e *echo.Echo) {
	g := e.Group("/lobby")
	g.GET("", h.Get)
	g.POST("", h.Create)
	g.POST("/join", h.Join)
	g.POST("/leave", h.Leave)
	g.GET("/members", h.Members)
	g.PUT("/attributes", h.SetAttributes)
}

type createLobbyRequest struct {
	MaxMembers int `json:"max_members,omitempty"`
}

type joinLobbyRequest struct {
	LobbyID string `json:"lobby_id,omitempty"`
	UserID  string `json:"user_id,omitempty"`
}

type attributesRequest struct {
	Attributes []attrs.Attribute `json:"attributes"`
}

type attributesResponse struct {
	Changed  []attrs.Attribute `json:"changed"`
	NoOp     []string          `json:"no_op,omitempty"`
	Reserved []string          `json:"reserved,omitempty"`
	Invalid  []string          `json:"invalid,omitempty"`
}

func newAttributesResponse(r attrs.FilterResult) attributesResponse {
	changed := r.Changed
	if changed == nil {
		changed = []attrs.Attribute{}
	}
	return attributesResponse{
		Changed:  changed,
		NoOp:     r.NoOp,
		Reserved: r.Reserved,
		Invalid:  r.Invalid,
	}
}

type lobbyResponse struct {
	lobby.Lobby
	MemberCount int `json:"member_count"`
}

func newLobbyResponse(l lobby.Lobby) lobbyResponse {
	return lobbyResponse{Lobby: l, MemberCount: l.MemberCount()}
}

// Create creates a lobby owned by the local player.
func (h *LobbyHandler) Create(c echo.Context) error {
	ctx := operation(c, h.logger, "lobby.create")
	var req createLobbyRequest
	if err := c.Bind(&req); err != nil && !errors.Is(err, io.EOF) {
		return badRequest(err.Error())
	}
	if req.MaxMembers < 0 {
		return badRequest("max_members must not be negative")
	}
	l, err := h.client.CreateLobby(ctx, req.MaxMembers)
	if err != nil {
		return failed(ctx, err)
	}
	return c.JSON(http.StatusCreated, newLobbyResponse(l))
}

// Join joins a lobby by lobby id or by the id of one of its members.
func (h *LobbyHandler) Join(c echo.Context) error {
	ctx := operation(c, h.logger, "lobby.join")
	var req joinLobbyRequest
	if err := c.Bind(&req); err != nil && !errors.Is(err, io.EOF) {
		return badRequest(err.Error())
	}
	lobbyID := strings.TrimSpace(req.LobbyID)
	userID := strings.TrimSpace(req.UserID)
	var (
		l   lobby.Lobby
		err error
	)
	switch {
	case lobbyID != "" && userID != "":
		return badRequest("set only one of lobby_id and user_id")
	case lobbyID != "":
		l, err = h.client.JoinLobbyByID(ctx, lobbyID)
	case userID != "":
		l, err = h.client.JoinLobbyByUserID(ctx, userID)
	default:
		return badRequest("lobby_id or user_id is required")
	}
	if err != nil {
		return failed(ctx, err)
	}
	return c.JSON(http.StatusOK, newLobbyResponse(l))
}

// Leave leaves the current lobby.
func (h *LobbyHandler) Leave(c echo.Context) error {
	ctx := operation(c, h.logger, "lobby.leave")
	if err := h.client.LeaveLobby(ctx); err != nil {
		return failed(ctx, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Get returns the current lobby.
func (h *LobbyHandler) Get(c echo.Context) error {
	l, err := h.client.GetLobby()
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, newLobbyResponse(l))
}

// Members lists the remote members of the current lobby.
func (h *LobbyHandler) Members(c echo.Context) error {
	members, err := h.client.GetMemberList()
	if err != nil {
		return toHTTPError(err)
	}
	if members == nil {
		members = []directory.OnlineUser{}
	}
	return c.JSON(http.StatusOK, usersResponse{Items: members})
}

// SetAttributes updates lobby attributes. Owner only.
func (h *LobbyHandler) SetAttributes(c echo.Context) error {
	ctx := operation(c, h.logger, "lobby.attributes")
	var req attributesRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(err.Error())
	}
	res, err := h.client.SetLobbyAttributes(ctx, req.Attributes)
	if err != nil {
		return failed(ctx, err)
	}
	return c.JSON(http.StatusOK, newAttributesResponse(res))
}
