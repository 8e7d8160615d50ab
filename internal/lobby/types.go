// Package lobby owns the canonical lobby: create, join, leave, membership
// reconciliation and the platform-native shadow lobby that mirrors it.
package lobby

import (
	"context"
	"errors"
	"maps"
	"sort"

	"github.com/memohai/crossplay/internal/attrs"
	"github.com/memohai/crossplay/internal/directory"
)

var (
	ErrAlreadyInLobby = errors.New("already in a lobby")
	ErrNotInLobby     = errors.New("not in a lobby")
	ErrSearchFailed   = errors.New("lobby search failed")
	ErrJoinIncomplete = errors.New("lobby details could not be loaded")
)

// Lobby is the canonical party state. Members never contains the local
// player; OwnerID may be the local player.
type Lobby struct {
	ID            string                          `json:"id"`
	OwnerID       string                          `json:"owner_id"`
	BucketID      string                          `json:"bucket_id,omitempty"`
	MaxMembers    int                             `json:"max_members"`
	Members       map[string]directory.OnlineUser `json:"members"`
	Attributes    attrs.Set                       `json:"attributes"`
	ShadowLobbyID string                          `json:"shadow_lobby_id,omitempty"`
}

func (l *Lobby) clone() Lobby {
	out := *l
	out.Members = maps.Clone(l.Members)
	if out.Members == nil {
		out.Members = map[string]directory.OnlineUser{}
	}
	out.Attributes = l.Attributes.Clone()
	return out
}

// MemberCount counts everyone in the lobby, local player included.
func (l Lobby) MemberCount() int {
	return len(l.Members) + 1
}

// SortedMembers returns the remote members ordered by display name then id.
func (l Lobby) SortedMembers() []directory.OnlineUser {
	out := make([]directory.OnlineUser, 0, len(l.Members))
	for _, m := range l.Members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].CanonicalID < out[j].CanonicalID
	})
	return out
}

// Directory resolves member profiles.
type Directory interface {
	ResolveOne(ctx context.Context, canonicalID string) (directory.OnlineUser, error)
	Resolve(ctx context.Context, canonicalIDs []string) (map[string]directory.OnlineUser, error)
}

// Options configures lobby creation and shadowing.
type Options struct {
	BucketID          string
	DefaultMaxMembers int
	PresenceEnabled   bool
	ShadowLobbies     bool
	ShadowCapacity    int
}

// MemberPayload is the payload of member events.
type MemberPayload struct {
	LobbyID string                `json:"lobby_id"`
	User    *directory.OnlineUser `json:"user,omitempty"`
}

// ClosedReason says why the local player lost the lobby without calling
// LeaveLobby.
type ClosedReason string

const (
	ReasonClosed ClosedReason = "closed"
	ReasonKicked ClosedReason = "kicked"
	ReasonLeft   ClosedReason = "left_elsewhere"
)
