package lobby

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/memohai/crossplay/internal/attrs"
	"github.com/memohai/crossplay/internal/backend"
	"github.com/memohai/crossplay/internal/directory"
	"github.com/memohai/crossplay/internal/event"
	"github.com/memohai/crossplay/internal/identity"
)

const (
	defaultMaxMembers     = 4
	defaultShadowCapacity = 4
	memberLoadTimeout     = 15 * time.Second
	maxDeferred           = 64
)

// Service is the lobby orchestrator. Callers must not overlap create, join
// and leave calls; notifications may arrive at any time.
type Service struct {
	store  *identity.Store
	cross  backend.CrossPlayBackend
	native backend.NativeBackend
	dir    Directory
	events event.Publisher
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	lobby   *Lobby
	pending map[string]struct{}

	// committing is set from begin until a create or join either commits
	// the lobby or fails. Notifications arriving meanwhile are deferred and
	// replayed against the committed lobby.
	committing bool
	deferred   []backend.MemberStatusNotification

	inflight sync.WaitGroup
}

// NewService creates a lobby service. native may be nil when no platform
// backend is available; shadowing is then disabled.
func NewService(log *slog.Logger, store *identity.Store, cross backend.CrossPlayBackend, native backend.NativeBackend, dir Directory, events event.Publisher, opts Options) *Service {
	if log == nil {
		log = slog.Default()
	}
	if opts.DefaultMaxMembers <= 0 {
		opts.DefaultMaxMembers = defaultMaxMembers
	}
	if opts.ShadowCapacity <= 0 {
		opts.ShadowCapacity = defaultShadowCapacity
	}
	return &Service{
		store:   store,
		cross:   cross,
		native:  native,
		dir:     dir,
		events:  events,
		opts:    opts,
		logger:  log.With(slog.String("service", "lobby")),
		pending: map[string]struct{}{},
	}
}

// Current returns a copy of the lobby, false when not in one.
func (s *Service) Current() (Lobby, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lobby == nil {
		return Lobby{}, false
	}
	return s.lobby.clone(), true
}

// GetMemberList returns the remote members sorted by display name.
func (s *Service) GetMemberList() ([]directory.OnlineUser, error) {
	l, ok := s.Current()
	if !ok {
		return nil, ErrNotInLobby
	}
	return l.SortedMembers(), nil
}

// IsOwner reports whether the local player owns the current lobby.
func (s *Service) IsOwner() bool {
	local := s.store.CrossPlayID()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ownedLocked(local)
}

func (s *Service) ownedLocked(local string) bool {
	return s.lobby != nil && local != "" && s.lobby.OwnerID == local
}

// begin checks the local player may enter a lobby and starts deferring
// notifications. Every successful begin must be paired with endCommit.
func (s *Service) begin() (string, error) {
	local := s.store.CrossPlayID()
	if local == "" {
		return "", backend.ErrNotAuthenticated
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lobby != nil {
		return "", fmt.Errorf("%w: %s", ErrAlreadyInLobby, s.lobby.ID)
	}
	s.committing = true
	s.deferred = nil
	return local, nil
}

// endCommit stops deferring. Notifications still deferred belong to a
// create or join that failed and are dropped.
func (s *Service) endCommit() {
	s.mu.Lock()
	s.committing = false
	s.deferred = nil
	s.mu.Unlock()
}

// commitLocked installs l as the current lobby and returns the deferred
// notifications addressed to it, in arrival order.
func (s *Service) commitLocked(l *Lobby) []backend.MemberStatusNotification {
	s.lobby = l
	clear(s.pending)
	var replay []backend.MemberStatusNotification
	for _, n := range s.deferred {
		if n.LobbyID == l.ID {
			replay = append(replay, n)
		}
	}
	s.committing = false
	s.deferred = nil
	return replay
}

func (s *Service) replay(list []backend.MemberStatusNotification) {
	for _, n := range list {
		s.HandleMemberStatus(n)
	}
}

// CreateLobby creates a canonical lobby owned by the local player. A stale
// presence lobby left over from a previous run is rejoined instead.
func (s *Service) CreateLobby(ctx context.Context, maxMembers int) (Lobby, error) {
	local, err := s.begin()
	if err != nil {
		return Lobby{}, err
	}
	defer s.endCommit()
	if maxMembers <= 0 {
		maxMembers = s.opts.DefaultMaxMembers
	}

	lobbyID, err := s.cross.CreateLobby(ctx, local, backend.LobbyCreateOptions{
		MaxMembers:      maxMembers,
		BucketID:        s.opts.BucketID,
		PresenceEnabled: s.opts.PresenceEnabled,
	})
	if backend.CodeOf(err) == backend.CodePresenceLobbyExists {
		s.logger.Warn("presence lobby already exists; rejoining it")
		return s.joinBySearch(ctx, local, backend.LobbySearch{TargetUserID: local, MaxResults: 1})
	}
	if err != nil {
		s.logger.Error("create lobby failed", slog.Any("error", err))
		return Lobby{}, fmt.Errorf("create lobby: %w", backend.Classify(err))
	}

	s.mu.Lock()
	deferred := s.commitLocked(&Lobby{
		ID:         lobbyID,
		OwnerID:    local,
		BucketID:   s.opts.BucketID,
		MaxMembers: maxMembers,
		Members:    map[string]directory.OnlineUser{},
		Attributes: attrs.Set{},
	})
	snap := s.lobby.clone()
	s.mu.Unlock()
	s.store.SetLobby(lobbyID)

	s.logger.Info("lobby created", slog.String("lobby_id", lobbyID), slog.Int("max_members", maxMembers))
	s.publish(event.Event{Type: event.TypeLobbyCreated, ResourceID: lobbyID, Payload: snap})
	s.replay(deferred)

	if s.shadowEnabled() {
		if _, err := s.CreateShadowLobby(ctx); err != nil {
			s.logger.Warn("shadow lobby unavailable; continuing without it", slog.Any("error", err))
		}
	}
	l, _ := s.Current()
	return l, nil
}

// JoinLobbyByID joins the lobby with the given canonical id.
func (s *Service) JoinLobbyByID(ctx context.Context, lobbyID string) (Lobby, error) {
	local, err := s.begin()
	if err != nil {
		return Lobby{}, err
	}
	defer s.endCommit()
	return s.joinBySearch(ctx, local, backend.LobbySearch{LobbyID: lobbyID, MaxResults: 1})
}

// JoinLobbyByUserID joins the lobby the given user is a member of.
func (s *Service) JoinLobbyByUserID(ctx context.Context, userID string) (Lobby, error) {
	local, err := s.begin()
	if err != nil {
		return Lobby{}, err
	}
	defer s.endCommit()
	return s.joinBySearch(ctx, local, backend.LobbySearch{TargetUserID: userID, MaxResults: 1})
}

// joinBySearch runs a one-shot search and joins the single result. Zero
// results is ErrNotFound; a failing search is ErrSearchFailed.
func (s *Service) joinBySearch(ctx context.Context, local string, search backend.LobbySearch) (Lobby, error) {
	log := s.logger.With(slog.String("lobby_id", search.LobbyID), slog.String("target_user_id", search.TargetUserID))
	found, err := s.cross.SearchLobbies(ctx, local, search)
	if err != nil {
		log.Error("lobby search failed", slog.Any("error", err))
		return Lobby{}, fmt.Errorf("%w: %w", ErrSearchFailed, backend.Classify(err))
	}
	if len(found) == 0 {
		log.Info("lobby search returned no results")
		return Lobby{}, fmt.Errorf("lobby search: %w", backend.ErrNotFound)
	}
	return s.join(ctx, local, found[0].LobbyID)
}

// join joins lobbyID and loads every member's profile before committing. If
// loading fails the lobby is left again so no half-joined state is visible.
func (s *Service) join(ctx context.Context, local, lobbyID string) (Lobby, error) {
	log := s.logger.With(slog.String("lobby_id", lobbyID))
	if err := s.cross.JoinLobby(ctx, local, lobbyID); err != nil {
		if backend.CodeOf(err) != backend.CodeAlreadyMember {
			log.Error("join lobby failed", slog.Any("error", err))
			return Lobby{}, fmt.Errorf("join lobby: %w", backend.Classify(err))
		}
		log.Info("already a member of lobby; loading details")
	}

	l, err := s.load(ctx, local, lobbyID)
	if err != nil {
		log.Error("lobby details failed to load; leaving", slog.Any("error", err))
		if leaveErr := s.cross.LeaveLobby(context.WithoutCancel(ctx), local, lobbyID); leaveErr != nil {
			log.Warn("leave after incomplete join failed", slog.Any("error", leaveErr))
		}
		return Lobby{}, fmt.Errorf("%w: %w", ErrJoinIncomplete, err)
	}

	s.mu.Lock()
	if s.lobby != nil {
		current := s.lobby.ID
		s.mu.Unlock()
		if leaveErr := s.cross.LeaveLobby(context.WithoutCancel(ctx), local, lobbyID); leaveErr != nil {
			log.Warn("leave after overlapping join failed", slog.Any("error", leaveErr))
		}
		return Lobby{}, fmt.Errorf("%w: %s", ErrAlreadyInLobby, current)
	}
	deferred := s.commitLocked(&l)
	snap := s.lobby.clone()
	s.mu.Unlock()
	s.store.SetLobby(lobbyID)

	log.Info("lobby joined", slog.Int("members", snap.MemberCount()))
	s.publish(event.Event{Type: event.TypeLobbyJoined, ResourceID: lobbyID, Payload: snap})
	if len(deferred) == 0 {
		return snap, nil
	}
	s.replay(deferred)
	current, _ := s.Current()
	return current, nil
}

func (s *Service) load(ctx context.Context, local, lobbyID string) (Lobby, error) {
	details, err := s.cross.GetLobby(ctx, local, lobbyID)
	if err != nil {
		return Lobby{}, fmt.Errorf("get lobby: %w", backend.Classify(err))
	}
	others := make([]string, 0, len(details.MemberIDs))
	for _, id := range details.MemberIDs {
		if id != local {
			others = append(others, id)
		}
	}
	users, err := s.dir.Resolve(ctx, others)
	if err != nil {
		return Lobby{}, fmt.Errorf("resolve members: %w", err)
	}
	members := make(map[string]directory.OnlineUser, len(others))
	for _, id := range others {
		u, ok := users[id]
		if !ok {
			return Lobby{}, fmt.Errorf("member %s: %w", id, backend.ErrNotFound)
		}
		members[id] = u
	}
	return Lobby{
		ID:         details.LobbyID,
		OwnerID:    details.OwnerID,
		BucketID:   details.BucketID,
		MaxMembers: details.MaxMembers,
		Members:    members,
		Attributes: details.Attributes.Clone(),
	}, nil
}

// LeaveLobby leaves the canonical lobby, then the shadow lobby best-effort.
// Local state is reset once the canonical leave succeeded, whatever happens
// to the shadow lobby.
func (s *Service) LeaveLobby(ctx context.Context) error {
	local := s.store.CrossPlayID()
	s.mu.Lock()
	if s.lobby == nil {
		s.mu.Unlock()
		return ErrNotInLobby
	}
	lobbyID := s.lobby.ID
	s.mu.Unlock()

	if err := s.cross.LeaveLobby(ctx, local, lobbyID); err != nil {
		if backend.CodeOf(err) != backend.CodeNotFound {
			s.logger.Error("leave lobby failed", slog.String("lobby_id", lobbyID), slog.Any("error", err))
			return fmt.Errorf("leave lobby: %w", backend.Classify(err))
		}
		s.logger.Info("lobby already gone at backend", slog.String("lobby_id", lobbyID))
	}

	shadowID := s.reset(lobbyID)
	s.leaveShadow(ctx, shadowID)
	s.logger.Info("lobby left", slog.String("lobby_id", lobbyID))
	s.publish(event.Event{Type: event.TypeLobbyLeft, ResourceID: lobbyID})
	return nil
}

// reset clears the lobby slot if it still holds lobbyID and returns the
// shadow lobby that was attached to it.
func (s *Service) reset(lobbyID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lobby == nil || s.lobby.ID != lobbyID {
		return ""
	}
	shadowID := s.lobby.ShadowLobbyID
	s.lobby = nil
	clear(s.pending)
	s.store.SetLobby("")
	return shadowID
}

// SetLobbyAttributes updates lobby attributes. Only the owner may call it;
// unchanged values and reserved keys are dropped before the backend call.
func (s *Service) SetLobbyAttributes(ctx context.Context, list []attrs.Attribute) (attrs.FilterResult, error) {
	local := s.store.CrossPlayID()
	s.mu.Lock()
	if s.lobby == nil {
		s.mu.Unlock()
		return attrs.FilterResult{}, ErrNotInLobby
	}
	if !s.ownedLocked(local) {
		s.mu.Unlock()
		return attrs.FilterResult{}, fmt.Errorf("set lobby attributes: %w", backend.ErrPermissionDenied)
	}
	lobbyID := s.lobby.ID
	res := attrs.Filter(s.logger, s.lobby.Attributes, list)
	s.mu.Unlock()

	if res.Empty() {
		return res, nil
	}
	if err := s.cross.UpdateLobby(ctx, local, lobbyID, res.Changed); err != nil {
		return res, fmt.Errorf("update lobby: %w", backend.Classify(err))
	}

	s.mu.Lock()
	if s.lobby != nil && s.lobby.ID == lobbyID {
		s.lobby.Attributes = s.lobby.Attributes.Apply(res.Changed)
	}
	s.mu.Unlock()
	s.publish(event.Event{Type: event.TypeLobbyAttributesUpdated, ResourceID: lobbyID, Payload: res.Changed})
	return res, nil
}

// Run feeds member-status notifications from ch into HandleMemberStatus
// until ctx is done or ch is closed.
func (s *Service) Run(ctx context.Context, ch <-chan backend.MemberStatusNotification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			s.HandleMemberStatus(n)
		}
	}
}

// HandleMemberStatus reconciles one membership notification. Notifications
// arriving while a create or join is committing are deferred until it
// commits; otherwise those for any lobby other than the current one are
// ignored.
func (s *Service) HandleMemberStatus(n backend.MemberStatusNotification) {
	local := s.store.CrossPlayID()
	log := s.logger.With(
		slog.String("lobby_id", n.LobbyID),
		slog.String("user_id", n.TargetUserID),
		slog.String("status", n.Status.String()))

	s.mu.Lock()
	if s.lobby == nil && s.committing {
		if len(s.deferred) >= maxDeferred {
			s.mu.Unlock()
			log.Warn("too many member status notifications during commit; dropped")
			return
		}
		s.deferred = append(s.deferred, n)
		s.mu.Unlock()
		log.Debug("member status deferred until lobby commit")
		return
	}
	if s.lobby == nil || s.lobby.ID != n.LobbyID {
		s.mu.Unlock()
		log.Debug("member status for inactive lobby ignored")
		return
	}
	self := n.TargetUserID == local

	switch n.Status {
	case backend.MemberJoined:
		if self {
			s.mu.Unlock()
			return
		}
		_, member := s.lobby.Members[n.TargetUserID]
		_, loading := s.pending[n.TargetUserID]
		if member || loading {
			s.mu.Unlock()
			log.Debug("duplicate join notification ignored")
			return
		}
		s.pending[n.TargetUserID] = struct{}{}
		s.inflight.Add(1)
		s.mu.Unlock()
		go s.loadJoined(n.LobbyID, n.TargetUserID)

	case backend.MemberLeft, backend.MemberDisconnected, backend.MemberKicked:
		if self {
			s.mu.Unlock()
			reason := ReasonLeft
			if n.Status == backend.MemberKicked {
				reason = ReasonKicked
			}
			s.dropLobby(n.LobbyID, reason)
			return
		}
		delete(s.lobby.Members, n.TargetUserID)
		delete(s.pending, n.TargetUserID)
		s.mu.Unlock()
		log.Info("lobby member gone")
		s.publish(event.Event{
			Type:       memberEventType(n.Status),
			ResourceID: n.LobbyID,
			UserID:     n.TargetUserID,
			Payload:    MemberPayload{LobbyID: n.LobbyID},
		})

	case backend.MemberPromoted:
		_, member := s.lobby.Members[n.TargetUserID]
		_, loading := s.pending[n.TargetUserID]
		if !self && !member && !loading {
			s.mu.Unlock()
			log.Warn("promotion of a user outside the lobby ignored")
			return
		}
		s.lobby.OwnerID = n.TargetUserID
		s.mu.Unlock()
		log.Info("lobby owner changed")
		s.publish(event.Event{
			Type:       event.TypeLobbyOwnerChanged,
			ResourceID: n.LobbyID,
			UserID:     n.TargetUserID,
			Payload:    MemberPayload{LobbyID: n.LobbyID},
		})

	case backend.MemberClosed:
		s.mu.Unlock()
		s.dropLobby(n.LobbyID, ReasonClosed)

	default:
		s.mu.Unlock()
		log.Warn("unknown member status ignored")
	}
}

// loadJoined resolves a joined member and publishes the join only if the
// member is still pending, i.e. did not leave while the lookup ran.
func (s *Service) loadJoined(lobbyID, userID string) {
	defer s.inflight.Done()
	log := s.logger.With(slog.String("lobby_id", lobbyID), slog.String("user_id", userID))

	ctx, cancel := context.WithTimeout(context.Background(), memberLoadTimeout)
	defer cancel()
	user, err := s.dir.ResolveOne(ctx, userID)

	s.mu.Lock()
	_, stillPending := s.pending[userID]
	if s.lobby == nil || s.lobby.ID != lobbyID || !stillPending {
		s.mu.Unlock()
		log.Warn("member left before profile loaded; join event suppressed")
		return
	}
	delete(s.pending, userID)
	if err != nil {
		log.Warn("member profile unavailable; using id only", slog.Any("error", err))
		user = directory.OnlineUser{CanonicalID: userID, DisplayName: userID}
	}
	s.lobby.Members[userID] = user
	s.mu.Unlock()

	log.Info("lobby member joined", slog.String("display_name", user.DisplayName))
	s.publish(event.Event{
		Type:       event.TypeLobbyUserJoined,
		ResourceID: lobbyID,
		UserID:     userID,
		Payload:    MemberPayload{LobbyID: lobbyID, User: &user},
	})
}

// dropLobby clears local state after the backend removed the local player or
// closed the lobby, and tears the shadow lobby down in the background.
func (s *Service) dropLobby(lobbyID string, reason ClosedReason) {
	shadowID := s.reset(lobbyID)
	s.logger.Info("lobby lost", slog.String("lobby_id", lobbyID), slog.String("reason", string(reason)))
	if shadowID != "" {
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			ctx, cancel := context.WithTimeout(context.Background(), memberLoadTimeout)
			defer cancel()
			s.leaveShadow(ctx, shadowID)
		}()
	}
	typ := event.TypeLobbyClosed
	if reason != ReasonClosed {
		typ = event.TypeLobbyLeft
	}
	s.publish(event.Event{Type: typ, ResourceID: lobbyID, Payload: reason})
}

// wait blocks until background member loads and shadow teardowns finish.
func (s *Service) wait() {
	s.inflight.Wait()
}

func memberEventType(status backend.MemberStatus) event.Type {
	switch status {
	case backend.MemberDisconnected:
		return event.TypeLobbyUserDisconnected
	case backend.MemberKicked:
		return event.TypeLobbyUserKicked
	default:
		return event.TypeLobbyUserLeft
	}
}

func (s *Service) publish(ev event.Event) {
	if s.events == nil {
		return
	}
	ev.Topic = event.TopicLobby
	s.events.Publish(ev)
}

// Reset drops local lobby state without a canonical backend call, e.g. after
// logout. The shadow lobby is still left best-effort.
func (s *Service) Reset(ctx context.Context) {
	s.mu.Lock()
	if s.lobby == nil {
		s.mu.Unlock()
		return
	}
	lobbyID := s.lobby.ID
	s.mu.Unlock()
	s.leaveShadow(ctx, s.reset(lobbyID))
}
