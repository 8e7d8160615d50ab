package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/memohai/crossplay/internal/attrs"
	"github.com/memohai/crossplay/internal/backend"
	"github.com/memohai/crossplay/internal/event"
	"github.com/memohai/crossplay/internal/identity"
	"github.com/memohai/crossplay/internal/lobby"
)

// Service is the session orchestrator.
type Service struct {
	store   *identity.Store
	cross   backend.CrossPlayBackend
	lobbies Lobbies
	events  event.Publisher
	bucket  string
	logger  *slog.Logger

	mu      sync.Mutex
	session *Session
	invites []backend.InviteNotification
}

// NewService creates a session service.
func NewService(log *slog.Logger, store *identity.Store, cross backend.CrossPlayBackend, lobbies Lobbies, events event.Publisher, bucketID string) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:   store,
		cross:   cross,
		lobbies: lobbies,
		events:  events,
		bucket:  bucketID,
		logger:  log.With(slog.String("service", "session")),
	}
}

// Current returns a copy of the session, false when not in one.
func (s *Service) Current() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return Session{}, false
	}
	return s.session.clone(), true
}

// PendingInvites returns invites that were not accepted automatically.
func (s *Service) PendingInvites() []backend.InviteNotification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.invites)
}

func (s *Service) begin() (string, error) {
	local := s.store.CrossPlayID()
	if local == "" {
		return "", backend.ErrNotAuthenticated
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		return "", fmt.Errorf("%w: %s", ErrAlreadyInSession, s.session.ID)
	}
	return local, nil
}

// CreateSession creates a session for the current lobby. The local player
// must own the lobby and the capacity must fit every lobby member; both are
// checked before any backend call.
func (s *Service) CreateSession(ctx context.Context, settings Settings) (Session, error) {
	local, err := s.begin()
	if err != nil {
		return Session{}, err
	}
	l, ok := s.lobbies.Current()
	if !ok {
		return Session{}, fmt.Errorf("create session: %w", lobby.ErrNotInLobby)
	}
	if !s.lobbies.IsOwner() {
		return Session{}, fmt.Errorf("create session: only the lobby owner may start a session: %w", backend.ErrPermissionDenied)
	}
	if settings.MaxMembers <= 0 {
		settings.MaxMembers = l.MaxMembers
	}
	if settings.MaxMembers < l.MemberCount() {
		s.logger.Warn("session capacity too small for lobby",
			slog.Int("max_members", settings.MaxMembers), slog.Int("lobby_members", l.MemberCount()))
		return Session{}, fmt.Errorf("create session (%d < %d): %w", settings.MaxMembers, l.MemberCount(), ErrInsufficientCapacity)
	}
	if settings.BucketID == "" {
		settings.BucketID = s.bucket
	}
	if settings.Name == "" {
		settings.Name = l.ID
	}

	id, err := s.cross.CreateSession(ctx, local, backend.SessionCreateOptions{
		Name:       settings.Name,
		BucketID:   settings.BucketID,
		MaxMembers: settings.MaxMembers,
	})
	if err != nil {
		s.logger.Error("create session failed", slog.Any("error", err))
		return Session{}, fmt.Errorf("create session: %w", backend.Classify(err))
	}

	s.mu.Lock()
	s.session = &Session{
		ID:         id,
		Name:       settings.Name,
		OwnerID:    local,
		MaxMembers: settings.MaxMembers,
		MemberIDs:  []string{local},
		Attributes: attrs.Set{},
	}
	snap := s.session.clone()
	s.mu.Unlock()
	s.store.SetSession(id)
	s.logger.Info("session created", slog.String("session_id", id), slog.Int("max_members", settings.MaxMembers))
	s.publish(event.Event{Type: event.TypeSessionCreated, ResourceID: id, Payload: snap})

	if len(settings.Attributes) > 0 {
		if _, err := s.SetAttributes(ctx, settings.Attributes); err != nil {
			s.logger.Warn("initial session attributes not applied", slog.Any("error", err))
		}
	}
	cur, _ := s.Current()
	return cur, nil
}

// JoinSessionByHandle joins the session with the given id.
func (s *Service) JoinSessionByHandle(ctx context.Context, sessionID string) (Session, error) {
	local, err := s.begin()
	if err != nil {
		return Session{}, err
	}
	return s.join(ctx, local, sessionID)
}

func (s *Service) join(ctx context.Context, local, sessionID string) (Session, error) {
	details, err := s.cross.JoinSession(ctx, local, sessionID)
	if err != nil {
		s.logger.Error("join session failed", slog.String("session_id", sessionID), slog.Any("error", err))
		return Session{}, fmt.Errorf("join session: %w", backend.Classify(err))
	}

	s.mu.Lock()
	s.session = &Session{
		ID:         details.SessionID,
		Name:       details.Name,
		OwnerID:    details.OwnerID,
		MaxMembers: details.MaxMembers,
		MemberIDs:  slices.Clone(details.MemberIDs),
		Attributes: details.Attributes.Clone(),
	}
	if s.session.Attributes == nil {
		s.session.Attributes = attrs.Set{}
	}
	s.invites = slices.DeleteFunc(s.invites, func(inv backend.InviteNotification) bool {
		return inv.SessionID == details.SessionID
	})
	snap := s.session.clone()
	s.mu.Unlock()
	s.store.SetSession(details.SessionID)

	s.logger.Info("session joined", slog.String("session_id", details.SessionID))
	s.publish(event.Event{Type: event.TypeSessionJoined, ResourceID: details.SessionID, Payload: snap})
	return snap, nil
}

// InvitePlayer invites a canonical user into the current session.
func (s *Service) InvitePlayer(ctx context.Context, targetUserID string) error {
	local := s.store.CrossPlayID()
	if local == "" {
		return backend.ErrNotAuthenticated
	}
	cur, ok := s.Current()
	if !ok {
		return ErrNotInSession
	}
	if targetUserID == "" || targetUserID == local {
		return errors.New("invite target must be another player")
	}
	if err := s.cross.SendInvite(ctx, local, cur.ID, targetUserID); err != nil {
		return fmt.Errorf("send invite: %w", backend.Classify(err))
	}
	s.logger.Info("invite sent", slog.String("session_id", cur.ID), slog.String("target_user_id", targetUserID))
	return nil
}

// SetAttributes updates session attributes. Only the session owner may call
// it. Unchanged values and reserved keys are dropped; when nothing is left no
// backend call is made.
func (s *Service) SetAttributes(ctx context.Context, list []attrs.Attribute) (attrs.FilterResult, error) {
	local := s.store.CrossPlayID()
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return attrs.FilterResult{}, ErrNotInSession
	}
	if s.session.OwnerID != local {
		s.mu.Unlock()
		return attrs.FilterResult{}, fmt.Errorf("set session attributes: %w", backend.ErrPermissionDenied)
	}
	sessionID := s.session.ID
	res := attrs.Filter(s.logger, s.session.Attributes, list)
	s.mu.Unlock()

	if res.Empty() {
		return res, nil
	}
	if err := s.cross.UpdateSession(ctx, local, sessionID, res.Changed); err != nil {
		return res, fmt.Errorf("update session: %w", backend.Classify(err))
	}
	s.mu.Lock()
	if s.session != nil && s.session.ID == sessionID {
		s.session.Attributes = s.session.Attributes.Apply(res.Changed)
	}
	s.mu.Unlock()
	s.publish(event.Event{Type: event.TypeSessionAttributesUpdated, ResourceID: sessionID, Payload: res.Changed})
	return res, nil
}

// LeaveSession leaves the current session. A session the backend no longer
// knows counts as left.
func (s *Service) LeaveSession(ctx context.Context) error {
	local := s.store.CrossPlayID()
	cur, ok := s.Current()
	if !ok {
		return ErrNotInSession
	}
	if err := s.cross.LeaveSession(ctx, local, cur.ID); err != nil && backend.CodeOf(err) != backend.CodeNotFound {
		return fmt.Errorf("leave session: %w", backend.Classify(err))
	}
	s.mu.Lock()
	if s.session != nil && s.session.ID == cur.ID {
		s.session = nil
	}
	s.mu.Unlock()
	s.store.SetSession("")
	s.logger.Info("session left", slog.String("session_id", cur.ID))
	s.publish(event.Event{Type: event.TypeSessionLeft, ResourceID: cur.ID})
	return nil
}

// HandleInvite processes an invite addressed to the local player. Invites
// from the current lobby owner are accepted without confirmation; others are
// kept as pending and published.
func (s *Service) HandleInvite(ctx context.Context, inv backend.InviteNotification) {
	local := s.store.CrossPlayID()
	log := s.logger.With(slog.String("session_id", inv.SessionID), slog.String("from_user_id", inv.FromUserID))
	if local == "" || (inv.ToUserID != "" && inv.ToUserID != local) {
		log.Debug("invite for another user ignored")
		return
	}
	if cur, ok := s.Current(); ok && cur.ID == inv.SessionID {
		log.Debug("invite for current session ignored")
		return
	}

	if l, ok := s.lobbies.Current(); ok && l.OwnerID == inv.FromUserID && inv.FromUserID != local {
		log.Info("invite from lobby owner; joining session")
		if _, ok := s.Current(); ok {
			if err := s.LeaveSession(ctx); err != nil {
				log.Warn("could not leave previous session for owner invite", slog.Any("error", err))
				return
			}
		}
		if _, err := s.join(ctx, local, inv.SessionID); err != nil {
			log.Warn("auto-join of owner invite failed", slog.Any("error", err))
		}
		return
	}

	s.mu.Lock()
	s.invites = append(s.invites, inv)
	s.mu.Unlock()
	log.Info("session invite received")
	s.publish(event.Event{
		Type:       event.TypeSessionInviteReceived,
		ResourceID: inv.SessionID,
		UserID:     inv.FromUserID,
		Payload:    inv,
	})
}

// AcceptInvite joins the session of a pending invite.
func (s *Service) AcceptInvite(ctx context.Context, inviteID string) (Session, error) {
	s.mu.Lock()
	idx := slices.IndexFunc(s.invites, func(inv backend.InviteNotification) bool { return inv.InviteID == inviteID })
	if idx < 0 {
		s.mu.Unlock()
		return Session{}, ErrInviteNotFound
	}
	inv := s.invites[idx]
	s.mu.Unlock()
	return s.JoinSessionByHandle(ctx, inv.SessionID)
}

// Reset drops local session state without a backend call, after logout.
func (s *Service) Reset() {
	s.mu.Lock()
	s.session = nil
	s.invites = nil
	s.mu.Unlock()
	s.store.SetSession("")
}

// Run feeds invites from ch into HandleInvite until ctx is done or ch is
// closed.
func (s *Service) Run(ctx context.Context, ch <-chan backend.InviteNotification) {
	for {
		select {
		case <-ctx.Done():
			return
		case inv, ok := <-ch:
			if !ok {
				return
			}
			s.HandleInvite(ctx, inv)
		}
	}
}

func (s *Service) publish(ev event.Event) {
	if s.events == nil {
		return
	}
	ev.Topic = event.TopicSession
	s.events.Publish(ev)
}
