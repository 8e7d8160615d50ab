// Package identity holds the local player's resolved identities across the
// platform-native and cross-play backends.
package identity

import (
	"errors"

	"github.com/memohai/crossplay/internal/backend"
)

// Errors returned by continuation-token handling.
var (
	ErrNoToken       = errors.New("no continuation token pending")
	ErrTokenPending  = errors.New("another continuation token is pending")
	ErrTokenConsumed = errors.New("continuation token already consumed")
)

// LinkState summarizes how far identity reconciliation has progressed.
type LinkState string

const (
	StateUnlinked  LinkState = "unlinked"
	StateNeedsLink LinkState = "needs_link"
	StateLinked    LinkState = "linked"
)

// LocalIdentity is a point-in-time copy of the local player's identities.
// The continuation token itself never leaves the store; only its presence.
type LocalIdentity struct {
	Platform         backend.Platform `json:"platform"`
	PlatformNativeID string           `json:"platform_native_id"`
	DisplayName      string           `json:"display_name,omitempty"`
	CrossPlayID      string           `json:"cross_play_id,omitempty"`
	AccountID        string           `json:"account_id,omitempty"`
	TokenPending     bool             `json:"token_pending"`
	LobbyID          string           `json:"lobby_id,omitempty"`
	ShadowLobbyID    string           `json:"shadow_lobby_id,omitempty"`
	SessionID        string           `json:"session_id,omitempty"`
}

// State derives the link state from the snapshot.
func (l LocalIdentity) State() LinkState {
	switch {
	case l.TokenPending:
		return StateNeedsLink
	case l.CrossPlayID != "":
		return StateLinked
	default:
		return StateUnlinked
	}
}

// LoggedIn reports whether a canonical cross-play identity is available.
func (l LocalIdentity) LoggedIn() bool { return l.CrossPlayID != "" }

// InLobby reports whether the local player occupies the canonical lobby slot.
func (l LocalIdentity) InLobby() bool { return l.LobbyID != "" }
