// Package client is the process-local API surface: one Client per local
// player, wiring the identity, directory, lobby and session orchestrators
// and pumping backend notifications into them.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/memohai/crossplay/internal/attrs"
	"github.com/memohai/crossplay/internal/backend"
	"github.com/memohai/crossplay/internal/directory"
	"github.com/memohai/crossplay/internal/event"
	"github.com/memohai/crossplay/internal/identity"
	"github.com/memohai/crossplay/internal/lobby"
	"github.com/memohai/crossplay/internal/login"
	"github.com/memohai/crossplay/internal/session"
)

const notificationBuffer = 64

// Options configures the orchestrators behind a Client.
type Options struct {
	Directory directory.Options
	Lobby     lobby.Options
}

// Client is the application-facing facade.
type Client struct {
	native backend.NativeBackend
	cross  backend.CrossPlayBackend
	hub    *event.Hub
	logger *slog.Logger

	store    *identity.Store
	login    *login.Service
	dir      *directory.Service
	lobbies  *lobby.Service
	sessions *session.Service

	mu        sync.Mutex
	stopRun   context.CancelFunc
	running   sync.WaitGroup
	stopTrace func()
}

// New wires a client for the local player of native.
func New(log *slog.Logger, native backend.NativeBackend, cross backend.CrossPlayBackend, hub *event.Hub, opts Options) *Client {
	if log == nil {
		log = slog.Default()
	}
	if hub == nil {
		hub = event.NewHub()
	}
	store := identity.NewStore(native.Kind(), native.LocalUserID(), native.LocalDisplayName())
	dir := directory.NewService(log, cross, native, store, opts.Directory)
	lobbies := lobby.NewService(log, store, cross, native, dir, hub, opts.Lobby)
	c := &Client{
		native:   native,
		cross:    cross,
		hub:      hub,
		logger:   log.With(slog.String("service", "client")),
		store:    store,
		login:    login.NewService(log, store, login.NewCredentialCache(native), cross, hub),
		dir:      dir,
		lobbies:  lobbies,
		sessions: session.NewService(log, store, cross, lobbies, hub, opts.Lobby.BucketID),
	}
	c.stopTrace = hub.Observe(event.TopicAll, c.trace)
	return c
}

func (c *Client) trace(ev event.Event) {
	c.logger.Debug("event",
		slog.String("type", string(ev.Type)),
		slog.String("resource_id", ev.ResourceID),
		slog.String("user_id", ev.UserID),
	)
}

// Events returns the observer registry every orchestrator publishes to.
func (c *Client) Events() *event.Hub { return c.hub }

// Identity returns the local identity snapshot.
func (c *Client) Identity() identity.LocalIdentity { return c.store.Snapshot() }

// Login reconciles the local identity and starts listening for lobby,
// session and native invite notifications addressed to it.
func (c *Client) Login(ctx context.Context) (identity.LocalIdentity, error) {
	snap, err := c.login.Login(ctx)
	if err != nil {
		return snap, err
	}
	c.startPumps(snap.CrossPlayID)
	return snap, nil
}

// startPumps subscribes synchronously so no notification emitted after
// Login returns can be missed, then pumps on background goroutines.
func (c *Client) startPumps(localID string) {
	c.stopPumps()

	ctx, cancel := context.WithCancel(context.Background())
	members, unsubMembers := c.cross.SubscribeMemberStatus(localID, notificationBuffer)
	invites, unsubInvites := c.cross.SubscribeInvites(localID, notificationBuffer)
	accepted, unsubAccepted := c.native.SubscribeInviteAccepted(notificationBuffer)

	c.mu.Lock()
	c.stopRun = func() {
		cancel()
		unsubMembers()
		unsubInvites()
		unsubAccepted()
	}
	c.mu.Unlock()

	c.running.Add(3)
	go func() {
		defer c.running.Done()
		c.lobbies.Run(ctx, members)
	}()
	go func() {
		defer c.running.Done()
		c.sessions.Run(ctx, invites)
	}()
	go func() {
		defer c.running.Done()
		c.lobbies.RunInviteAccepted(ctx, accepted)
	}()
	c.logger.Debug("notification pumps started", slog.String("cross_play_id", localID))
}

func (c *Client) stopPumps() {
	c.mu.Lock()
	stop := c.stopRun
	c.stopRun = nil
	c.mu.Unlock()
	if stop != nil {
		stop()
		c.running.Wait()
	}
}

// Logout leaves the session and lobby best-effort, stops the notification
// pumps and signs the cross-play identity out.
func (c *Client) Logout(ctx context.Context) error {
	if !c.store.Snapshot().LoggedIn() {
		return backend.ErrNotAuthenticated
	}
	if err := c.sessions.LeaveSession(ctx); err != nil && !errors.Is(err, session.ErrNotInSession) {
		c.logger.Warn("leave session on logout failed", slog.Any("error", err))
	}
	if err := c.lobbies.LeaveLobby(ctx); err != nil && !errors.Is(err, lobby.ErrNotInLobby) {
		c.logger.Warn("leave lobby on logout failed", slog.Any("error", err))
	}
	c.sessions.Reset()
	c.lobbies.Reset(ctx)
	c.stopPumps()
	return c.login.Logout(ctx)
}

// Close stops the notification pumps and the event trace.
func (c *Client) Close() {
	c.stopPumps()
	c.stopTrace()
}

func (c *Client) CreateLobby(ctx context.Context, maxMembers int) (lobby.Lobby, error) {
	return c.lobbies.CreateLobby(ctx, maxMembers)
}

func (c *Client) JoinLobbyByID(ctx context.Context, lobbyID string) (lobby.Lobby, error) {
	return c.lobbies.JoinLobbyByID(ctx, lobbyID)
}

func (c *Client) JoinLobbyByUserID(ctx context.Context, userID string) (lobby.Lobby, error) {
	return c.lobbies.JoinLobbyByUserID(ctx, userID)
}

func (c *Client) LeaveLobby(ctx context.Context) error {
	return c.lobbies.LeaveLobby(ctx)
}

// GetLobby returns the current lobby.
func (c *Client) GetLobby() (lobby.Lobby, error) {
	l, ok := c.lobbies.Current()
	if !ok {
		return lobby.Lobby{}, lobby.ErrNotInLobby
	}
	return l, nil
}

func (c *Client) GetMemberList() ([]directory.OnlineUser, error) {
	return c.lobbies.GetMemberList()
}

func (c *Client) SetLobbyAttributes(ctx context.Context, list []attrs.Attribute) (attrs.FilterResult, error) {
	return c.lobbies.SetLobbyAttributes(ctx, list)
}

func (c *Client) CreateSession(ctx context.Context, settings session.Settings) (session.Session, error) {
	return c.sessions.CreateSession(ctx, settings)
}

func (c *Client) JoinSessionByHandle(ctx context.Context, sessionID string) (session.Session, error) {
	return c.sessions.JoinSessionByHandle(ctx, sessionID)
}

func (c *Client) InvitePlayer(ctx context.Context, userID string) error {
	return c.sessions.InvitePlayer(ctx, userID)
}

// SetAttributes updates the current session's attributes.
func (c *Client) SetAttributes(ctx context.Context, list []attrs.Attribute) (attrs.FilterResult, error) {
	return c.sessions.SetAttributes(ctx, list)
}

func (c *Client) LeaveSession(ctx context.Context) error {
	return c.sessions.LeaveSession(ctx)
}

// GetSession returns the current session.
func (c *Client) GetSession() (session.Session, error) {
	s, ok := c.sessions.Current()
	if !ok {
		return session.Session{}, session.ErrNotInSession
	}
	return s, nil
}

func (c *Client) PendingInvites() []backend.InviteNotification {
	return c.sessions.PendingInvites()
}

func (c *Client) AcceptInvite(ctx context.Context, inviteID string) (session.Session, error) {
	return c.sessions.AcceptInvite(ctx, inviteID)
}

// User resolves one canonical user through the directory.
func (c *Client) User(ctx context.Context, canonicalID string) (directory.OnlineUser, error) {
	return c.dir.ResolveOne(ctx, canonicalID)
}

// Friends lists platform friends that have a cross-play identity.
func (c *Client) Friends(ctx context.Context) ([]directory.OnlineUser, error) {
	if !c.store.Snapshot().LoggedIn() {
		return nil, backend.ErrNotAuthenticated
	}
	ids, err := c.native.ListFriends(ctx)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}
	return c.dir.ResolveExternal(ctx, c.native.Kind(), ids)
}

// FetchAvatars loads avatars for already resolved users.
func (c *Client) FetchAvatars(ctx context.Context, canonicalIDs []string) (int, error) {
	return c.dir.FetchAvatars(ctx, canonicalIDs)
}
