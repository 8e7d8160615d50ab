package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/crossplay/internal/client"
	"github.com/memohai/crossplay/internal/identity"
	"github.com/memohai/crossplay/internal/version"
)

// HealthHandler serves liveness checks.
type HealthHandler struct {
	client *client.Client
}

func NewHealthHandler(c *client.Client) *HealthHandler {
	return &HealthHandler{client: c}
}

func (h *HealthHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.HEAD("/health", h.Health)
}

type pingResponse struct {
	Status  string             `json:"status"`
	Version version.Info       `json:"version"`
	State   identity.LinkState `json:"state"`
}

// Ping reports the build and the local player's link state.
func (h *HealthHandler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, pingResponse{
		Status:  "ok",
		Version: version.Get(),
		State:   h.client.Identity().State(),
	})
}

func (h *HealthHandler) Health(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}
