// Package session owns the canonical in-game session: creation by the lobby
// owner, joining, invites and owner-only attribute updates.
package session

import (
	"errors"
	"fmt"
	"slices"

	"github.com/memohai/crossplay/internal/attrs"
	"github.com/memohai/crossplay/internal/backend"
	"github.com/memohai/crossplay/internal/lobby"
)

var (
	ErrAlreadyInSession = errors.New("already in a session")
	ErrNotInSession     = errors.New("not in a session")
	ErrInviteNotFound   = errors.New("invite not found")
	// ErrInsufficientCapacity is a PermissionDenied kind.
	ErrInsufficientCapacity = fmt.Errorf("%w: session capacity below lobby member count", backend.ErrPermissionDenied)
)

// Settings parameterizes CreateSession. A zero MaxMembers uses the lobby's.
type Settings struct {
	Name       string            `json:"name"`
	BucketID   string            `json:"bucket_id,omitempty"`
	MaxMembers int               `json:"max_members"`
	Attributes []attrs.Attribute `json:"attributes,omitempty"`
}

// Session is the canonical match state.
type Session struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	OwnerID    string    `json:"owner_id"`
	MaxMembers int       `json:"max_members"`
	MemberIDs  []string  `json:"member_ids,omitempty"`
	Attributes attrs.Set `json:"attributes"`
}

func (s *Session) clone() Session {
	out := *s
	out.MemberIDs = slices.Clone(s.MemberIDs)
	out.Attributes = s.Attributes.Clone()
	return out
}

// Lobbies exposes the canonical lobby the session is created from.
type Lobbies interface {
	Current() (lobby.Lobby, bool)
	IsOwner() bool
}
