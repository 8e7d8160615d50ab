package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/crossplay/internal/backend"
	"github.com/memohai/crossplay/internal/lobby"
	"github.com/memohai/crossplay/internal/login"
	"github.com/memohai/crossplay/internal/session"
)

// ErrorResponse is the standard API error body.
type ErrorResponse struct {
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
	Code    string `json:"code,omitempty"`
}

type errorKind struct {
	err    error
	status int
	kind   string
}

// errorKinds is checked in order; more specific kinds come first.
var errorKinds = []errorKind{
	{session.ErrInsufficientCapacity, http.StatusForbidden, "insufficient_capacity"},
	{backend.ErrPermissionDenied, http.StatusForbidden, "permission_denied"},
	{backend.ErrNotAuthenticated, http.StatusUnauthorized, "not_authenticated"},
	{login.ErrInvalidCredential, http.StatusUnauthorized, "invalid_credential"},
	{login.ErrNeedsLinking, http.StatusConflict, "needs_linking"},
	{login.ErrUserCanceled, http.StatusConflict, "user_canceled"},
	{lobby.ErrAlreadyInLobby, http.StatusConflict, "already_in_lobby"},
	{session.ErrAlreadyInSession, http.StatusConflict, "already_in_session"},
	{lobby.ErrNotInLobby, http.StatusConflict, "not_in_lobby"},
	{session.ErrNotInSession, http.StatusConflict, "not_in_session"},
	{lobby.ErrJoinIncomplete, http.StatusBadGateway, "join_incomplete"},
	{lobby.ErrSearchFailed, http.StatusBadGateway, "search_failed"},
	{backend.ErrNotFound, http.StatusNotFound, "not_found"},
	{session.ErrInviteNotFound, http.StatusNotFound, "not_found"},
	{backend.ErrBackendUnavailable, http.StatusServiceUnavailable, "backend_unavailable"},
}

// toHTTPError maps an orchestrator error onto an HTTP error with an
// ErrorResponse body.
func toHTTPError(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return echo.NewHTTPError(k.status, ErrorResponse{Message: err.Error(), Kind: k.kind})
		}
	}
	var unknown *backend.UnknownError
	if errors.As(err, &unknown) {
		return echo.NewHTTPError(http.StatusBadGateway, ErrorResponse{
			Message: err.Error(),
			Kind:    "unknown",
			Code:    unknown.Code.String(),
		})
	}
	return echo.NewHTTPError(http.StatusInternalServerError, ErrorResponse{Message: err.Error(), Kind: "internal"})
}

func badRequest(msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, ErrorResponse{Message: msg, Kind: "bad_request"})
}
