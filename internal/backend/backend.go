// Package backend defines the contracts of the two external providers the
// crossplay core coordinates: the platform-native store backend and the
// vendor-neutral cross-play backend.
//
// Every call completes exactly once, with either a payload or an *Error
// carrying a result Code. Calls are not cancellable at the backend; a
// canceled context only stops the caller from waiting. Notification streams
// are delivered in emission order per subscriber.
package backend

import (
	"context"

	"github.com/memohai/crossplay/internal/attrs"
)

// NativeBackend is the platform-native store backend (identity, native
// lobbies, friends, avatars).
type NativeBackend interface {
	Kind() Platform
	LocalUserID() string
	LocalDisplayName() string
	SupportsShadowLobbies() bool

	RequestSessionTicket(ctx context.Context) (Credential, error)

	CreateLobby(ctx context.Context, capacity int) (string, error)
	JoinLobby(ctx context.Context, nativeLobbyID string) error
	LeaveLobby(ctx context.Context, nativeLobbyID string) error
	SetLobbyData(ctx context.Context, nativeLobbyID, key, value string) error
	GetLobbyData(ctx context.Context, nativeLobbyID, key string) (string, error)

	ListFriends(ctx context.Context) ([]string, error)
	FetchAvatar(ctx context.Context, nativeUserID string) ([]byte, error)

	SubscribeInviteAccepted(buffer int) (<-chan NativeInviteAccepted, func())
}

// CrossPlayBackend is the vendor-neutral cross-play backend. The Auth*
// operations manage the social account; the Connect* operations manage the
// cross-play identity used for lobbies and sessions.
type CrossPlayBackend interface {
	AuthLogin(ctx context.Context, cred Credential) (string, error)
	AuthLinkAccount(ctx context.Context, token ContinuationToken) (string, error)
	ConnectLogin(ctx context.Context, cred Credential) (string, error)
	ConnectCreateUser(ctx context.Context, token ContinuationToken) (string, error)
	Logout(ctx context.Context, localUserID string) error

	QueryUserInfo(ctx context.Context, localUserID string, userIDs []string) ([]UserInfo, error)
	QueryExternalMappings(ctx context.Context, localUserID string, platform Platform, accountIDs []string) (map[string]string, error)

	CreateLobby(ctx context.Context, localUserID string, opts LobbyCreateOptions) (string, error)
	SearchLobbies(ctx context.Context, localUserID string, search LobbySearch) ([]LobbyDetails, error)
	JoinLobby(ctx context.Context, localUserID, lobbyID string) error
	LeaveLobby(ctx context.Context, localUserID, lobbyID string) error
	GetLobby(ctx context.Context, localUserID, lobbyID string) (LobbyDetails, error)
	UpdateLobby(ctx context.Context, localUserID, lobbyID string, set []attrs.Attribute) error
	SubscribeMemberStatus(localUserID string, buffer int) (<-chan MemberStatusNotification, func())

	CreateSession(ctx context.Context, localUserID string, opts SessionCreateOptions) (string, error)
	JoinSession(ctx context.Context, localUserID, sessionID string) (SessionDetails, error)
	LeaveSession(ctx context.Context, localUserID, sessionID string) error
	UpdateSession(ctx context.Context, localUserID, sessionID string, set []attrs.Attribute) error
	SendInvite(ctx context.Context, localUserID, sessionID, targetUserID string) error
	SubscribeInvites(localUserID string, buffer int) (<-chan InviteNotification, func())
}
