// Package login reconciles the local platform-native identity with the
// cross-play backend: login, link or create on a continuation token, relogin.
package login

import (
	"context"
	"errors"

	"github.com/memohai/crossplay/internal/backend"
)

var (
	ErrNeedsLinking      = errors.New("account needs linking")
	ErrUserCanceled      = errors.New("canceled by user")
	ErrInvalidCredential = errors.New("invalid platform credential")
)

// Flow names one of the two cross-play login interfaces.
type Flow string

const (
	// FlowConnect yields the cross-play id required by lobbies and sessions.
	FlowConnect Flow = "connect"
	// FlowAuth yields the social account id used for friends features.
	FlowAuth Flow = "auth"
)

// TicketSource issues platform-native session credentials.
type TicketSource interface {
	RequestSessionTicket(ctx context.Context) (backend.Credential, error)
}

// FailedPayload is the event payload of a failed login flow.
type FailedPayload struct {
	Flow  Flow   `json:"flow"`
	Error string `json:"error"`
}
