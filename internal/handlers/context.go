package handlers

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"

	"github.com/memohai/crossplay/internal/logger"
)

// operation returns the request context carrying base tagged with op, so
// failures are logged against the orchestrator operation they came from.
func operation(c echo.Context, base *slog.Logger, op string) context.Context {
	return logger.WithOperation(logger.WithContext(c.Request().Context(), base), op)
}

// failed logs err with the operation logger of ctx and maps it onto an HTTP error.
func failed(ctx context.Context, err error) error {
	logger.FromContext(ctx).Debug("operation failed", slog.Any("error", err))
	return toHTTPError(err)
}
