package client

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/crossplay/internal/attrs"
	"github.com/memohai/crossplay/internal/backend"
	"github.com/memohai/crossplay/internal/backend/sim"
	"github.com/memohai/crossplay/internal/event"
	"github.com/memohai/crossplay/internal/lobby"
	"github.com/memohai/crossplay/internal/logger"
	"github.com/memohai/crossplay/internal/session"
)

const waitFor = 2 * time.Second

func newClient(t *testing.T, w *sim.World, platform backend.Platform, nativeID, name string, shadowing bool) *Client {
	t.Helper()
	c := New(logger.Discard(), w.Native(platform, nativeID, name, shadowing), w.Cross(), event.NewHub(), Options{
		Lobby: lobby.Options{
			BucketID:        "default",
			PresenceEnabled: true,
			ShadowLobbies:   true,
			ShadowCapacity:  4,
		},
	})
	t.Cleanup(c.Close)
	return c
}

func TestTwoClientsLobbyAndSession(t *testing.T) {
	ctx := context.Background()
	w := sim.NewWorld(logger.Discard(), sim.Options{TicketSecret: "secret", RequireLink: true})
	alice := newClient(t, w, backend.PlatformSteam, "steam-alice", "Alice", true)
	bob := newClient(t, w, backend.PlatformXbox, "xbox-bob", "Bob", false)

	aliceID, err := alice.Login(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, aliceID.CrossPlayID)
	require.NotEmpty(t, aliceID.AccountID)
	bobID, err := bob.Login(ctx)
	require.NoError(t, err)

	_, aliceEvents, cancel := alice.Events().Subscribe(event.TopicLobby, 32)
	defer cancel()

	created, err := alice.CreateLobby(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, aliceID.CrossPlayID, created.OwnerID)
	require.NotEmpty(t, created.ShadowLobbyID)
	ref, ok := w.NativeLobbyData(created.ShadowLobbyID, attrs.NativeLobbyKey)
	require.True(t, ok)
	assert.Equal(t, created.ID, ref)
	assert.Equal(t, created.ShadowLobbyID, created.Attributes[attrs.ShadowLobbyKey].AsString())

	joined, err := bob.JoinLobbyByUserID(ctx, aliceID.CrossPlayID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, joined.ID)
	require.Contains(t, joined.Members, aliceID.CrossPlayID)
	assert.Equal(t, "Alice", joined.Members[aliceID.CrossPlayID].DisplayName)
	assert.Empty(t, bob.Identity().ShadowLobbyID)

	require.Eventually(t, func() bool {
		members, err := alice.GetMemberList()
		return err == nil && len(members) == 1 && members[0].DisplayName == "Bob"
	}, waitFor, 10*time.Millisecond)
	sawJoin := false
	for !sawJoin {
		select {
		case ev := <-aliceEvents:
			sawJoin = ev.Type == event.TypeLobbyUserJoined && ev.UserID == bobID.CrossPlayID
		case <-time.After(waitFor):
			t.Fatal("alice never saw bob join")
		}
	}

	_, err = alice.CreateSession(ctx, session.Settings{Name: "match", MaxMembers: 1})
	require.ErrorIs(t, err, session.ErrInsufficientCapacity)
	_, err = bob.CreateSession(ctx, session.Settings{Name: "match", MaxMembers: 4})
	require.ErrorIs(t, err, backend.ErrPermissionDenied)

	match, err := alice.CreateSession(ctx, session.Settings{Name: "match", MaxMembers: 2})
	require.NoError(t, err)
	require.NoError(t, alice.InvitePlayer(ctx, bobID.CrossPlayID))
	require.Eventually(t, func() bool {
		s, err := bob.GetSession()
		return err == nil && s.ID == match.ID
	}, waitFor, 10*time.Millisecond)
	assert.Empty(t, bob.PendingInvites())

	res, err := alice.SetAttributes(ctx, []attrs.Attribute{{Key: "map", Value: attrs.String("harbor")}})
	require.NoError(t, err)
	assert.Len(t, res.Changed, 1)
	res, err = alice.SetAttributes(ctx, []attrs.Attribute{{Key: "map", Value: attrs.String("harbor")}})
	require.NoError(t, err)
	assert.True(t, res.Empty())

	require.NoError(t, alice.LeaveLobby(ctx))
	_, ok = w.NativeLobbyData(created.ShadowLobbyID, attrs.NativeLobbyKey)
	assert.False(t, ok, "shadow lobby torn down with its only member")
	require.Eventually(t, func() bool {
		l, err := bob.GetLobby()
		return err == nil && l.OwnerID == bobID.CrossPlayID && len(l.Members) == 0
	}, waitFor, 10*time.Millisecond)

	require.NoError(t, w.CloseLobby(created.ID))
	require.Eventually(t, func() bool {
		_, err := bob.GetLobby()
		return err != nil
	}, waitFor, 10*time.Millisecond)
	assert.Empty(t, bob.Identity().LobbyID)

	require.NoError(t, bob.Logout(ctx))
	assert.False(t, bob.Identity().LoggedIn())
	_, err = bob.GetSession()
	require.ErrorIs(t, err, session.ErrNotInSession)
	require.ErrorIs(t, bob.Logout(ctx), backend.ErrNotAuthenticated)
}

func TestEventsAreTraced(t *testing.T) {
	var buf bytes.Buffer
	w := sim.NewWorld(logger.Discard(), sim.Options{TicketSecret: "secret"})
	c := New(logger.New(&buf, "debug", "text"), w.Native(backend.PlatformSteam, "steam-alice", "Alice", false), w.Cross(), nil, Options{})
	t.Cleanup(c.Close)

	_, err := c.Login(context.Background())
	require.NoError(t, err)
	created, err := c.CreateLobby(context.Background(), 2)
	require.NoError(t, err)

	// Close drains the trace before returning.
	c.Close()
	assert.Contains(t, buf.String(), "type=login_completed")
	assert.Contains(t, buf.String(), "type=lobby_created")
	assert.Contains(t, buf.String(), created.ID)
}

func TestNativeInviteJoinsCanonicalLobby(t *testing.T) {
	ctx := context.Background()
	w := sim.NewWorld(logger.Discard(), sim.Options{TicketSecret: "secret"})
	alice := newClient(t, w, backend.PlatformSteam, "steam-alice", "Alice", true)
	carol := newClient(t, w, backend.PlatformSteam, "steam-carol", "Carol", true)

	_, err := alice.Login(ctx)
	require.NoError(t, err)
	carolID, err := carol.Login(ctx)
	require.NoError(t, err)

	created, err := alice.CreateLobby(ctx, 4)
	require.NoError(t, err)

	w.AcceptNativeInvite(backend.PlatformSteam, "steam-carol", created.ShadowLobbyID, "steam-alice")
	require.Eventually(t, func() bool {
		l, err := carol.GetLobby()
		return err == nil && l.ID == created.ID && l.ShadowLobbyID == created.ShadowLobbyID
	}, waitFor, 10*time.Millisecond)

	members, ok := w.LobbyMembers(created.ID)
	require.True(t, ok)
	assert.Contains(t, members, carolID.CrossPlayID)
	assert.Equal(t, created.ShadowLobbyID, carol.Identity().ShadowLobbyID)
	native, ok := w.NativeLobbyMembers(created.ShadowLobbyID)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"steam-alice", "steam-carol"}, native)

	friends, err := alice.Friends(ctx)
	require.NoError(t, err)
	require.Len(t, friends, 1)
	assert.Equal(t, carolID.CrossPlayID, friends[0].CanonicalID)
	assert.Equal(t, backend.PlatformSteam, friends[0].PrimaryPlatform)

	n, err := alice.FetchAvatars(ctx, []string{carolID.CrossPlayID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	u, err := alice.User(ctx, carolID.CrossPlayID)
	require.NoError(t, err)
	assert.True(t, u.HasAvatar)

	require.NoError(t, carol.LeaveLobby(ctx))
	native, ok = w.NativeLobbyMembers(created.ShadowLobbyID)
	require.True(t, ok)
	assert.Equal(t, []string{"steam-alice"}, native)
}

func TestKickedMemberLosesLobby(t *testing.T) {
	ctx := context.Background()
	w := sim.NewWorld(logger.Discard(), sim.Options{TicketSecret: "secret"})
	alice := newClient(t, w, backend.PlatformSteam, "steam-alice", "Alice", false)
	bob := newClient(t, w, backend.PlatformPSN, "psn-bob", "Bob", false)
	aliceID, err := alice.Login(ctx)
	require.NoError(t, err)
	bobID, err := bob.Login(ctx)
	require.NoError(t, err)

	created, err := alice.CreateLobby(ctx, 4)
	require.NoError(t, err)
	_, err = bob.JoinLobbyByID(ctx, created.ID)
	require.NoError(t, err)

	require.NoError(t, w.Kick(created.ID, bobID.CrossPlayID))
	require.Eventually(t, func() bool {
		_, err := bob.GetLobby()
		return err != nil
	}, waitFor, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		l, err := alice.GetLobby()
		return err == nil && len(l.Members) == 0 && l.OwnerID == aliceID.CrossPlayID
	}, waitFor, 10*time.Millisecond)
}
