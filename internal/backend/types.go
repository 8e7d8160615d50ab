package backend

import (
	"fmt"
	"strings"
	"time"

	"github.com/memohai/crossplay/internal/attrs"
)

// Platform identifies a platform-native identity provider.
type Platform string

// Declaration order is the tie-break priority used when two external
// accounts report the same last-login time.
const (
	PlatformSteam Platform = "steam"
	PlatformPSN   Platform = "psn"
	PlatformXbox  Platform = "xbox"
	PlatformEpic  Platform = "epic"
)

var platformPriority = map[Platform]int{
	PlatformSteam: 0,
	PlatformPSN:   1,
	PlatformXbox:  2,
	PlatformEpic:  3,
}

// ParsePlatform normalizes raw into a known Platform.
func ParsePlatform(raw string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := platformPriority[p]; !ok {
		return "", fmt.Errorf("unsupported platform: %q", raw)
	}
	return p, nil
}

// Priority orders platforms for deterministic tie-breaks; lower wins.
// Unknown platforms sort last.
func (p Platform) Priority() int {
	if v, ok := platformPriority[p]; ok {
		return v
	}
	return len(platformPriority)
}

func (p Platform) String() string { return string(p) }

// ContinuationToken is a single-use handle returned by a login that needs
// linking; it completes the identity in a follow-up link or create call.
type ContinuationToken string

// Credential is a platform-native session ticket presented to cross-play logins.
type Credential struct {
	Platform Platform
	UserID   string
	Ticket   string
	IssuedAt time.Time
}

// ExternalAccount is one platform account attached to a cross-play user.
type ExternalAccount struct {
	Platform    Platform  `json:"platform"`
	AccountID   string    `json:"account_id"`
	DisplayName string    `json:"display_name"`
	LastLogin   time.Time `json:"last_login"`
}

// UserInfo is the cross-play backend's view of one user.
type UserInfo struct {
	UserID      string            `json:"user_id"`
	DisplayName string            `json:"display_name"`
	Accounts    []ExternalAccount `json:"accounts"`
}

// LobbyCreateOptions parameterizes a canonical lobby create call.
type LobbyCreateOptions struct {
	MaxMembers      int
	BucketID        string
	PresenceEnabled bool
}

// LobbySearch is a one-shot search. Exactly one of LobbyID or TargetUserID is set.
type LobbySearch struct {
	LobbyID      string
	TargetUserID string
	MaxResults   int
}

// LobbyDetails is a snapshot of a canonical lobby as reported by the backend.
// MemberIDs includes every member, local user included.
type LobbyDetails struct {
	LobbyID    string
	OwnerID    string
	BucketID   string
	MaxMembers int
	MemberIDs  []string
	Attributes attrs.Set
}

// MemberStatus is the kind of a lobby membership change.
type MemberStatus int

const (
	MemberJoined MemberStatus = iota + 1
	MemberLeft
	MemberDisconnected
	MemberKicked
	MemberPromoted
	MemberClosed
)

func (s MemberStatus) String() string {
	switch s {
	case MemberJoined:
		return "joined"
	case MemberLeft:
		return "left"
	case MemberDisconnected:
		return "disconnected"
	case MemberKicked:
		return "kicked"
	case MemberPromoted:
		return "promoted"
	case MemberClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MemberStatusNotification is one event of the lobby member-status stream.
type MemberStatusNotification struct {
	LobbyID      string
	TargetUserID string
	Status       MemberStatus
}

// SessionCreateOptions parameterizes a canonical session create call.
type SessionCreateOptions struct {
	Name       string
	BucketID   string
	MaxMembers int
}

// SessionDetails is a snapshot of a canonical session.
type SessionDetails struct {
	SessionID  string
	Name       string
	OwnerID    string
	MaxMembers int
	MemberIDs  []string
	Attributes attrs.Set
}

// InviteNotification reports a session invite addressed to the local user.
type InviteNotification struct {
	InviteID   string `json:"invite_id"`
	SessionID  string `json:"session_id"`
	FromUserID string `json:"from_user_id"`
	ToUserID   string `json:"to_user_id"`
}

// NativeInviteAccepted reports that the local user accepted a platform-native
// invite to a native lobby.
type NativeInviteAccepted struct {
	NativeLobbyID    string
	FromNativeUserID string
}
