package backend

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds shared by every orchestrator. Backend codes are translated into
// these by Classify; callers branch with errors.Is / errors.As.
var (
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrNotFound           = errors.New("not found")
)

// UnknownError is a backend failure with no dedicated kind.
type UnknownError struct {
	Code Code
}

func (e *UnknownError) Error() string {
	return fmt.Sprintf("unknown backend error (%s)", e.Code)
}

// Classify wraps err with the kind matching its result code. The original
// error stays in the chain so CodeOf keeps working. nil stays nil.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}
	code := CodeOf(err)
	switch {
	case code.Unavailable():
		return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	case code == CodeNotOwner:
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	case code == CodeNotFound:
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case code == CodeInvalidUser || code == CodeNotLinked:
		return fmt.Errorf("%w: %w", ErrNotAuthenticated, err)
	default:
		return fmt.Errorf("%w: %w", &UnknownError{Code: code}, err)
	}
}
