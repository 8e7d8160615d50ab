package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/crossplay/internal/attrs"
	"github.com/memohai/crossplay/internal/backend"
	"github.com/memohai/crossplay/internal/backend/backendtest"
	"github.com/memohai/crossplay/internal/directory"
	"github.com/memohai/crossplay/internal/event"
	"github.com/memohai/crossplay/internal/identity"
	"github.com/memohai/crossplay/internal/lobby"
	"github.com/memohai/crossplay/internal/logger"
)

const self = "puid-self"

type staticLobbies struct {
	lobby *lobby.Lobby
}

func (s *staticLobbies) Current() (lobby.Lobby, bool) {
	if s.lobby == nil {
		return lobby.Lobby{}, false
	}
	return *s.lobby, true
}

func (s *staticLobbies) IsOwner() bool {
	return s.lobby != nil && s.lobby.OwnerID == self
}

func lobbyWith(owner string, members ...string) *lobby.Lobby {
	l := &lobby.Lobby{ID: "L1", OwnerID: owner, MaxMembers: 4, Members: map[string]directory.OnlineUser{}}
	for _, m := range members {
		l.Members[m] = directory.OnlineUser{CanonicalID: m}
	}
	return l
}

func newTestService(cross *backendtest.Cross, lobbies *staticLobbies) (*Service, *identity.Store, *event.Hub) {
	store := identity.NewStore(backend.PlatformSteam, "76561", "Self")
	store.SetCrossPlayID(self)
	hub := event.NewHub()
	return NewService(logger.Discard(), store, cross, lobbies, hub, "default"), store, hub
}

func TestCreateSessionGuardsBeforeBackend(t *testing.T) {
	tests := []struct {
		name     string
		lobby    *lobby.Lobby
		max      int
		wantKind error
	}{
		{"no lobby", nil, 4, lobby.ErrNotInLobby},
		{"not owner", lobbyWith("u2", "u2"), 4, backend.ErrPermissionDenied},
		{"capacity below members", lobbyWith(self, "u2", "u3"), 2, ErrInsufficientCapacity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cross := &backendtest.Cross{}
			svc, _, _ := newTestService(cross, &staticLobbies{lobby: tt.lobby})
			_, err := svc.CreateSession(context.Background(), Settings{Name: "match", MaxMembers: tt.max})
			require.ErrorIs(t, err, tt.wantKind)
			assert.Equal(t, 0, cross.TotalCalls())
		})
	}
}

func TestInsufficientCapacityIsPermissionDenied(t *testing.T) {
	assert.ErrorIs(t, ErrInsufficientCapacity, backend.ErrPermissionDenied)
}

func TestCreateSession(t *testing.T) {
	var opts backend.SessionCreateOptions
	var sent []attrs.Attribute
	cross := &backendtest.Cross{
		CreateSessionFn: func(_ context.Context, _ string, o backend.SessionCreateOptions) (string, error) {
			opts = o
			return "S1", nil
		},
		UpdateSessionFn: func(_ context.Context, _, sessionID string, set []attrs.Attribute) error {
			assert.Equal(t, "S1", sessionID)
			sent = set
			return nil
		},
	}
	svc, store, _ := newTestService(cross, &staticLobbies{lobby: lobbyWith(self, "u2", "u3")})

	sess, err := svc.CreateSession(context.Background(), Settings{
		Name:       "match",
		MaxMembers: 3,
		Attributes: []attrs.Attribute{{Key: "map", Value: attrs.String("dust")}},
	})
	require.NoError(t, err)
	assert.Equal(t, backend.SessionCreateOptions{Name: "match", BucketID: "default", MaxMembers: 3}, opts)
	assert.Equal(t, "S1", sess.ID)
	assert.Equal(t, self, sess.OwnerID)
	assert.Equal(t, "dust", sess.Attributes["map"].AsString())
	require.Len(t, sent, 1)
	assert.Equal(t, "S1", store.Snapshot().SessionID)

	_, err = svc.CreateSession(context.Background(), Settings{})
	require.ErrorIs(t, err, ErrAlreadyInSession)
}

func TestCreateSessionDefaultsToLobbyCapacity(t *testing.T) {
	cross := &backendtest.Cross{
		CreateSessionFn: func(_ context.Context, _ string, o backend.SessionCreateOptions) (string, error) {
			assert.Equal(t, 4, o.MaxMembers)
			assert.Equal(t, "L1", o.Name)
			return "S1", nil
		},
	}
	svc, _, _ := newTestService(cross, &staticLobbies{lobby: lobbyWith(self)})
	_, err := svc.CreateSession(context.Background(), Settings{})
	require.NoError(t, err)
}

func TestSetAttributesNoOpMakesNoBackendCall(t *testing.T) {
	cross := &backendtest.Cross{
		JoinSessionFn: func(_ context.Context, _, id string) (backend.SessionDetails, error) {
			return backend.SessionDetails{
				SessionID:  id,
				OwnerID:    self,
				MaxMembers: 4,
				Attributes: attrs.Set{"map": attrs.String("dust"), "round": attrs.Int64(3)},
			}, nil
		},
	}
	svc, _, _ := newTestService(cross, &staticLobbies{})
	_, err := svc.JoinSessionByHandle(context.Background(), "S1")
	require.NoError(t, err)

	res, err := svc.SetAttributes(context.Background(), []attrs.Attribute{
		{Key: "map", Value: attrs.String("dust")},
		{Key: "round", Value: attrs.Int64(3)},
	})
	require.NoError(t, err)
	assert.True(t, res.Empty())
	assert.ElementsMatch(t, []string{"map", "round"}, res.NoOp)

	res, err = svc.SetAttributes(context.Background(), []attrs.Attribute{{Key: "CROSSPLAY_OWNER", Value: attrs.Bool(true)}})
	require.NoError(t, err)
	assert.True(t, res.Empty())
	assert.Equal(t, 0, cross.Calls("UpdateSession"))

	res, err = svc.SetAttributes(context.Background(), []attrs.Attribute{{Key: "round", Value: attrs.Int64(4)}})
	require.NoError(t, err)
	assert.Len(t, res.Changed, 1)
	assert.Equal(t, 1, cross.Calls("UpdateSession"))
}

func TestSetAttributesOwnerOnly(t *testing.T) {
	cross := &backendtest.Cross{
		JoinSessionFn: func(_ context.Context, _, id string) (backend.SessionDetails, error) {
			return backend.SessionDetails{SessionID: id, OwnerID: "u2"}, nil
		},
	}
	svc, _, _ := newTestService(cross, &staticLobbies{})
	_, err := svc.SetAttributes(context.Background(), nil)
	require.ErrorIs(t, err, ErrNotInSession)

	_, err = svc.JoinSessionByHandle(context.Background(), "S1")
	require.NoError(t, err)
	_, err = svc.SetAttributes(context.Background(), []attrs.Attribute{{Key: "map", Value: attrs.String("x")}})
	require.ErrorIs(t, err, backend.ErrPermissionDenied)
}

func TestInvitePlayerAndLeave(t *testing.T) {
	cross := &backendtest.Cross{
		CreateSessionFn: func(context.Context, string, backend.SessionCreateOptions) (string, error) { return "S1", nil },
		SendInviteFn: func(_ context.Context, _, sessionID, target string) error {
			assert.Equal(t, "S1", sessionID)
			assert.Equal(t, "u2", target)
			return nil
		},
		LeaveSessionFn: func(context.Context, string, string) error {
			return backend.Fail("session.leave", backend.CodeNotFound)
		},
	}
	svc, store, _ := newTestService(cross, &staticLobbies{lobby: lobbyWith(self, "u2")})
	require.ErrorIs(t, svc.InvitePlayer(context.Background(), "u2"), ErrNotInSession)
	require.ErrorIs(t, svc.LeaveSession(context.Background()), ErrNotInSession)

	_, err := svc.CreateSession(context.Background(), Settings{})
	require.NoError(t, err)
	require.NoError(t, svc.InvitePlayer(context.Background(), "u2"))
	require.Error(t, svc.InvitePlayer(context.Background(), self))
	assert.Equal(t, 1, cross.Calls("SendInvite"))

	require.NoError(t, svc.LeaveSession(context.Background()))
	_, ok := svc.Current()
	assert.False(t, ok)
	assert.Empty(t, store.Snapshot().SessionID)
}

func TestInviteFromLobbyOwnerAutoJoins(t *testing.T) {
	cross := &backendtest.Cross{
		JoinSessionFn: func(_ context.Context, _, id string) (backend.SessionDetails, error) {
			return backend.SessionDetails{SessionID: id, OwnerID: "owner"}, nil
		},
	}
	svc, _, hub := newTestService(cross, &staticLobbies{lobby: lobbyWith("owner", "owner")})
	_, events, cancel := hub.Subscribe(event.TopicSession, 8)
	defer cancel()

	svc.HandleInvite(context.Background(), backend.InviteNotification{InviteID: "i1", SessionID: "S7", FromUserID: "owner", ToUserID: self})

	cur, ok := svc.Current()
	require.True(t, ok)
	assert.Equal(t, "S7", cur.ID)
	assert.Empty(t, svc.PendingInvites())
	ev := <-events
	assert.Equal(t, event.TypeSessionJoined, ev.Type)

	svc.HandleInvite(context.Background(), backend.InviteNotification{InviteID: "i2", SessionID: "S7", FromUserID: "owner", ToUserID: self})
	assert.Equal(t, 1, cross.Calls("JoinSession"))
}

func TestInviteFromOwnerReplacesPreviousSession(t *testing.T) {
	cross := &backendtest.Cross{
		JoinSessionFn: func(_ context.Context, _, id string) (backend.SessionDetails, error) {
			return backend.SessionDetails{SessionID: id, OwnerID: "owner"}, nil
		},
	}
	svc, _, _ := newTestService(cross, &staticLobbies{lobby: lobbyWith("owner", "owner")})
	_, err := svc.JoinSessionByHandle(context.Background(), "S1")
	require.NoError(t, err)

	svc.HandleInvite(context.Background(), backend.InviteNotification{InviteID: "i1", SessionID: "S2", FromUserID: "owner", ToUserID: self})
	cur, _ := svc.Current()
	assert.Equal(t, "S2", cur.ID)
	assert.Equal(t, 1, cross.Calls("LeaveSession"))
}

func TestInviteFromOthersIsPending(t *testing.T) {
	cross := &backendtest.Cross{
		JoinSessionFn: func(_ context.Context, _, id string) (backend.SessionDetails, error) {
			return backend.SessionDetails{SessionID: id, OwnerID: "stranger"}, nil
		},
	}
	svc, _, hub := newTestService(cross, &staticLobbies{lobby: lobbyWith("owner", "owner")})
	_, events, cancel := hub.Subscribe(event.TopicSession, 8)
	defer cancel()

	inv := backend.InviteNotification{InviteID: "i1", SessionID: "S9", FromUserID: "stranger", ToUserID: self}
	svc.HandleInvite(context.Background(), inv)
	svc.HandleInvite(context.Background(), backend.InviteNotification{InviteID: "i2", SessionID: "S9", FromUserID: "x", ToUserID: "someone-else"})

	_, ok := svc.Current()
	assert.False(t, ok)
	assert.Equal(t, []backend.InviteNotification{inv}, svc.PendingInvites())
	ev := <-events
	assert.Equal(t, event.TypeSessionInviteReceived, ev.Type)
	assert.Equal(t, 0, cross.Calls("JoinSession"))

	_, err := svc.AcceptInvite(context.Background(), "nope")
	require.ErrorIs(t, err, ErrInviteNotFound)
	sess, err := svc.AcceptInvite(context.Background(), "i1")
	require.NoError(t, err)
	assert.Equal(t, "S9", sess.ID)
	assert.Empty(t, svc.PendingInvites())
}
