// Package backendtest provides programmable, call-recording fakes of the
// backend contracts for orchestrator tests.
package backendtest

import (
	"context"
	"slices"
	"sync"

	"github.com/memohai/crossplay/internal/attrs"
	"github.com/memohai/crossplay/internal/backend"
)

// recorder counts calls per operation name.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) record(op string) {
	r.mu.Lock()
	r.calls = append(r.calls, op)
	r.mu.Unlock()
}

// Calls returns how many times op was invoked.
func (r *recorder) Calls(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c == op {
			n++
		}
	}
	return n
}

// Log returns every recorded operation in call order.
func (r *recorder) Log() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

// TotalCalls returns the number of recorded operations.
func (r *recorder) TotalCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// stream fans values out to subscribers registered through subscribe.
type stream[T any] struct {
	mu   sync.Mutex
	subs map[int]chan T
	next int
}

func (s *stream[T]) subscribe(buffer int) (<-chan T, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = map[int]chan T{}
	}
	id := s.next
	s.next++
	ch := make(chan T, buffer)
	s.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			close(ch)
			s.mu.Unlock()
		})
	}
}

func (s *stream[T]) emit(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		ch <- v
	}
}

// Cross is a fake CrossPlayBackend. A nil hook answers with a zero value and
// no error.
type Cross struct {
	recorder

	AuthLoginFn             func(ctx context.Context, cred backend.Credential) (string, error)
	AuthLinkAccountFn       func(ctx context.Context, token backend.ContinuationToken) (string, error)
	ConnectLoginFn          func(ctx context.Context, cred backend.Credential) (string, error)
	ConnectCreateUserFn     func(ctx context.Context, token backend.ContinuationToken) (string, error)
	LogoutFn                func(ctx context.Context, localUserID string) error
	QueryUserInfoFn         func(ctx context.Context, localUserID string, userIDs []string) ([]backend.UserInfo, error)
	QueryExternalMappingsFn func(ctx context.Context, localUserID string, platform backend.Platform, accountIDs []string) (map[string]string, error)
	CreateLobbyFn           func(ctx context.Context, localUserID string, opts backend.LobbyCreateOptions) (string, error)
	SearchLobbiesFn         func(ctx context.Context, localUserID string, search backend.LobbySearch) ([]backend.LobbyDetails, error)
	JoinLobbyFn             func(ctx context.Context, localUserID, lobbyID string) error
	LeaveLobbyFn            func(ctx context.Context, localUserID, lobbyID string) error
	GetLobbyFn              func(ctx context.Context, localUserID, lobbyID string) (backend.LobbyDetails, error)
	UpdateLobbyFn           func(ctx context.Context, localUserID, lobbyID string, set []attrs.Attribute) error
	CreateSessionFn         func(ctx context.Context, localUserID string, opts backend.SessionCreateOptions) (string, error)
	JoinSessionFn           func(ctx context.Context, localUserID, sessionID string) (backend.SessionDetails, error)
	LeaveSessionFn          func(ctx context.Context, localUserID, sessionID string) error
	UpdateSessionFn         func(ctx context.Context, localUserID, sessionID string, set []attrs.Attribute) error
	SendInviteFn            func(ctx context.Context, localUserID, sessionID, targetUserID string) error

	members stream[backend.MemberStatusNotification]
	invites stream[backend.InviteNotification]
}

var _ backend.CrossPlayBackend = (*Cross)(nil)

// EmitMemberStatus delivers n to every member-status subscriber.
func (c *Cross) EmitMemberStatus(n backend.MemberStatusNotification) { c.members.emit(n) }

// EmitInvite delivers n to every invite subscriber.
func (c *Cross) EmitInvite(n backend.InviteNotification) { c.invites.emit(n) }

func (c *Cross) AuthLogin(ctx context.Context, cred backend.Credential) (string, error) {
	c.record("AuthLogin")
	if c.AuthLoginFn == nil {
		return "", nil
	}
	return c.AuthLoginFn(ctx, cred)
}

func (c *Cross) AuthLinkAccount(ctx context.Context, token backend.ContinuationToken) (string, error) {
	c.record("AuthLinkAccount")
	if c.AuthLinkAccountFn == nil {
		return "", nil
	}
	return c.AuthLinkAccountFn(ctx, token)
}

func (c *Cross) ConnectLogin(ctx context.Context, cred backend.Credential) (string, error) {
	c.record("ConnectLogin")
	if c.ConnectLoginFn == nil {
		return "", nil
	}
	return c.ConnectLoginFn(ctx, cred)
}

func (c *Cross) ConnectCreateUser(ctx context.Context, token backend.ContinuationToken) (string, error) {
	c.record("ConnectCreateUser")
	if c.ConnectCreateUserFn == nil {
		return "", nil
	}
	return c.ConnectCreateUserFn(ctx, token)
}

func (c *Cross) Logout(ctx context.Context, localUserID string) error {
	c.record("Logout")
	if c.LogoutFn == nil {
		return nil
	}
	return c.LogoutFn(ctx, localUserID)
}

func (c *Cross) QueryUserInfo(ctx context.Context, localUserID string, userIDs []string) ([]backend.UserInfo, error) {
	c.record("QueryUserInfo")
	if c.QueryUserInfoFn == nil {
		out := make([]backend.UserInfo, 0, len(userIDs))
		for _, id := range userIDs {
			out = append(out, backend.UserInfo{UserID: id, DisplayName: id})
		}
		return out, nil
	}
	return c.QueryUserInfoFn(ctx, localUserID, userIDs)
}

func (c *Cross) QueryExternalMappings(ctx context.Context, localUserID string, platform backend.Platform, accountIDs []string) (map[string]string, error) {
	c.record("QueryExternalMappings")
	if c.QueryExternalMappingsFn == nil {
		return map[string]string{}, nil
	}
	return c.QueryExternalMappingsFn(ctx, localUserID, platform, accountIDs)
}

func (c *Cross) CreateLobby(ctx context.Context, localUserID string, opts backend.LobbyCreateOptions) (string, error) {
	c.record("CreateLobby")
	if c.CreateLobbyFn == nil {
		return "", nil
	}
	return c.CreateLobbyFn(ctx, localUserID, opts)
}

func (c *Cross) SearchLobbies(ctx context.Context, localUserID string, search backend.LobbySearch) ([]backend.LobbyDetails, error) {
	c.record("SearchLobbies")
	if c.SearchLobbiesFn == nil {
		return nil, nil
	}
	return c.SearchLobbiesFn(ctx, localUserID, search)
}

func (c *Cross) JoinLobby(ctx context.Context, localUserID, lobbyID string) error {
	c.record("JoinLobby")
	if c.JoinLobbyFn == nil {
		return nil
	}
	return c.JoinLobbyFn(ctx, localUserID, lobbyID)
}

func (c *Cross) LeaveLobby(ctx context.Context, localUserID, lobbyID string) error {
	c.record("LeaveLobby")
	if c.LeaveLobbyFn == nil {
		return nil
	}
	return c.LeaveLobbyFn(ctx, localUserID, lobbyID)
}

func (c *Cross) GetLobby(ctx context.Context, localUserID, lobbyID string) (backend.LobbyDetails, error) {
	c.record("GetLobby")
	if c.GetLobbyFn == nil {
		return backend.LobbyDetails{LobbyID: lobbyID}, nil
	}
	return c.GetLobbyFn(ctx, localUserID, lobbyID)
}

func (c *Cross) UpdateLobby(ctx context.Context, localUserID, lobbyID string, set []attrs.Attribute) error {
	c.record("UpdateLobby")
	if c.UpdateLobbyFn == nil {
		return nil
	}
	return c.UpdateLobbyFn(ctx, localUserID, lobbyID, set)
}

func (c *Cross) SubscribeMemberStatus(_ string, buffer int) (<-chan backend.MemberStatusNotification, func()) {
	return c.members.subscribe(buffer)
}

func (c *Cross) CreateSession(ctx context.Context, localUserID string, opts backend.SessionCreateOptions) (string, error) {
	c.record("CreateSession")
	if c.CreateSessionFn == nil {
		return "", nil
	}
	return c.CreateSessionFn(ctx, localUserID, opts)
}

func (c *Cross) JoinSession(ctx context.Context, localUserID, sessionID string) (backend.SessionDetails, error) {
	c.record("JoinSession")
	if c.JoinSessionFn == nil {
		return backend.SessionDetails{SessionID: sessionID}, nil
	}
	return c.JoinSessionFn(ctx, localUserID, sessionID)
}

func (c *Cross) LeaveSession(ctx context.Context, localUserID, sessionID string) error {
	c.record("LeaveSession")
	if c.LeaveSessionFn == nil {
		return nil
	}
	return c.LeaveSessionFn(ctx, localUserID, sessionID)
}

func (c *Cross) UpdateSession(ctx context.Context, localUserID, sessionID string, set []attrs.Attribute) error {
	c.record("UpdateSession")
	if c.UpdateSessionFn == nil {
		return nil
	}
	return c.UpdateSessionFn(ctx, localUserID, sessionID, set)
}

func (c *Cross) SendInvite(ctx context.Context, localUserID, sessionID, targetUserID string) error {
	c.record("SendInvite")
	if c.SendInviteFn == nil {
		return nil
	}
	return c.SendInviteFn(ctx, localUserID, sessionID, targetUserID)
}

func (c *Cross) SubscribeInvites(_ string, buffer int) (<-chan backend.InviteNotification, func()) {
	return c.invites.subscribe(buffer)
}

// Native is a fake NativeBackend.
type Native struct {
	recorder

	Platform    backend.Platform
	UserID      string
	DisplayName string
	Shadowing   bool

	RequestSessionTicketFn func(ctx context.Context) (backend.Credential, error)
	CreateLobbyFn          func(ctx context.Context, capacity int) (string, error)
	JoinLobbyFn            func(ctx context.Context, nativeLobbyID string) error
	LeaveLobbyFn           func(ctx context.Context, nativeLobbyID string) error
	SetLobbyDataFn         func(ctx context.Context, nativeLobbyID, key, value string) error
	GetLobbyDataFn         func(ctx context.Context, nativeLobbyID, key string) (string, error)
	ListFriendsFn          func(ctx context.Context) ([]string, error)
	FetchAvatarFn          func(ctx context.Context, nativeUserID string) ([]byte, error)

	accepted stream[backend.NativeInviteAccepted]
}

var _ backend.NativeBackend = (*Native)(nil)

// EmitInviteAccepted delivers n to every invite-accepted subscriber.
func (n *Native) EmitInviteAccepted(v backend.NativeInviteAccepted) { n.accepted.emit(v) }

func (n *Native) Kind() backend.Platform {
	if n.Platform == "" {
		return backend.PlatformSteam
	}
	return n.Platform
}

func (n *Native) LocalUserID() string         { return n.UserID }
func (n *Native) LocalDisplayName() string    { return n.DisplayName }
func (n *Native) SupportsShadowLobbies() bool { return n.Shadowing }

func (n *Native) RequestSessionTicket(ctx context.Context) (backend.Credential, error) {
	n.record("RequestSessionTicket")
	if n.RequestSessionTicketFn == nil {
		return backend.Credential{Platform: n.Kind(), UserID: n.UserID, Ticket: "ticket"}, nil
	}
	return n.RequestSessionTicketFn(ctx)
}

func (n *Native) CreateLobby(ctx context.Context, capacity int) (string, error) {
	n.record("CreateLobby")
	if n.CreateLobbyFn == nil {
		return "native-lobby", nil
	}
	return n.CreateLobbyFn(ctx, capacity)
}

func (n *Native) JoinLobby(ctx context.Context, nativeLobbyID string) error {
	n.record("JoinLobby")
	if n.JoinLobbyFn == nil {
		return nil
	}
	return n.JoinLobbyFn(ctx, nativeLobbyID)
}

func (n *Native) LeaveLobby(ctx context.Context, nativeLobbyID string) error {
	n.record("LeaveLobby")
	if n.LeaveLobbyFn == nil {
		return nil
	}
	return n.LeaveLobbyFn(ctx, nativeLobbyID)
}

func (n *Native) SetLobbyData(ctx context.Context, nativeLobbyID, key, value string) error {
	n.record("SetLobbyData")
	if n.SetLobbyDataFn == nil {
		return nil
	}
	return n.SetLobbyDataFn(ctx, nativeLobbyID, key, value)
}

func (n *Native) GetLobbyData(ctx context.Context, nativeLobbyID, key string) (string, error) {
	n.record("GetLobbyData")
	if n.GetLobbyDataFn == nil {
		return "", nil
	}
	return n.GetLobbyDataFn(ctx, nativeLobbyID, key)
}

func (n *Native) ListFriends(ctx context.Context) ([]string, error) {
	n.record("ListFriends")
	if n.ListFriendsFn == nil {
		return nil, nil
	}
	return n.ListFriendsFn(ctx)
}

func (n *Native) FetchAvatar(ctx context.Context, nativeUserID string) ([]byte, error) {
	n.record("FetchAvatar")
	if n.FetchAvatarFn == nil {
		return nil, nil
	}
	return n.FetchAvatarFn(ctx, nativeUserID)
}

func (n *Native) SubscribeInviteAccepted(buffer int) (<-chan backend.NativeInviteAccepted, func()) {
	return n.accepted.subscribe(buffer)
}
