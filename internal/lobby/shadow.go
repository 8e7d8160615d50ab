package lobby

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/memohai/crossplay/internal/attrs"
	"github.com/memohai/crossplay/internal/backend"
	"github.com/memohai/crossplay/internal/event"
)

// ShadowPayload is the payload of shadow lobby events.
type ShadowPayload struct {
	LobbyID       string `json:"lobby_id"`
	ShadowLobbyID string `json:"shadow_lobby_id"`
}

func (s *Service) shadowEnabled() bool {
	return s.opts.ShadowLobbies && s.native != nil && s.native.SupportsShadowLobbies()
}

// CreateShadowLobby mirrors the current canonical lobby on the native
// platform. The native lobby gets the canonical id in its metadata right
// away, then the canonical lobby gets the shadow id as a reserved
// attribute. The two writes are not atomic; a missing canonical attribute
// is a degraded state, not an error.
func (s *Service) CreateShadowLobby(ctx context.Context) (string, error) {
	if s.native == nil {
		return "", errors.New("native backend not configured")
	}
	s.mu.Lock()
	if s.lobby == nil {
		s.mu.Unlock()
		return "", ErrNotInLobby
	}
	lobbyID := s.lobby.ID
	s.mu.Unlock()
	log := s.logger.With(slog.String("lobby_id", lobbyID))

	shadowID, err := s.native.CreateLobby(ctx, s.opts.ShadowCapacity)
	if err != nil {
		return "", fmt.Errorf("create shadow lobby: %w", err)
	}
	log = log.With(slog.String("shadow_lobby_id", shadowID))
	if err := s.native.SetLobbyData(ctx, shadowID, attrs.NativeLobbyKey, lobbyID); err != nil {
		log.Warn("shadow lobby cross-reference not written", slog.Any("error", err))
	}

	s.mu.Lock()
	if s.lobby == nil || s.lobby.ID != lobbyID {
		s.mu.Unlock()
		log.Warn("canonical lobby left while shadow lobby was created; discarding it")
		s.leaveShadow(ctx, shadowID)
		return "", ErrNotInLobby
	}
	s.lobby.ShadowLobbyID = shadowID
	s.store.SetShadowLobby(shadowID)
	s.mu.Unlock()

	log.Info("shadow lobby created")
	s.publish(event.Event{
		Type:       event.TypeShadowLobbyCreated,
		ResourceID: lobbyID,
		Payload:    ShadowPayload{LobbyID: lobbyID, ShadowLobbyID: shadowID},
	})

	if err := s.AddShadowLobbyIDAttribute(ctx, shadowID); err != nil {
		log.Warn("shadow lobby id not published on canonical lobby", slog.Any("error", err))
	}
	return shadowID, nil
}

// AddShadowLobbyIDAttribute writes the shadow lobby id onto the canonical
// lobby under the reserved key. This bypasses the generic attribute filter.
func (s *Service) AddShadowLobbyIDAttribute(ctx context.Context, shadowID string) error {
	local := s.store.CrossPlayID()
	s.mu.Lock()
	if s.lobby == nil {
		s.mu.Unlock()
		return ErrNotInLobby
	}
	lobbyID := s.lobby.ID
	s.mu.Unlock()

	set := []attrs.Attribute{{Key: attrs.ShadowLobbyKey, Value: attrs.String(shadowID)}}
	if err := s.cross.UpdateLobby(ctx, local, lobbyID, set); err != nil {
		return fmt.Errorf("update lobby: %w", backend.Classify(err))
	}
	s.mu.Lock()
	if s.lobby != nil && s.lobby.ID == lobbyID {
		s.lobby.Attributes = s.lobby.Attributes.Apply(set)
	}
	s.mu.Unlock()
	return nil
}

// JoinShadowLobbyFromInvite follows an accepted native invite: it reads the
// canonical lobby id off the native lobby and joins that lobby unless the
// local player is already in it. After a canonical join the native lobby is
// joined too, best-effort, so the platform overlay shows the group; it is
// left again with the canonical lobby.
func (s *Service) JoinShadowLobbyFromInvite(ctx context.Context, nativeLobbyID string) (Lobby, error) {
	if s.native == nil {
		return Lobby{}, errors.New("native backend not configured")
	}
	log := s.logger.With(slog.String("shadow_lobby_id", nativeLobbyID))
	lobbyID, err := s.native.GetLobbyData(ctx, nativeLobbyID, attrs.NativeLobbyKey)
	if err != nil {
		log.Error("read shadow lobby cross-reference failed", slog.Any("error", err))
		return Lobby{}, fmt.Errorf("read shadow lobby data: %w", err)
	}
	if lobbyID == "" {
		log.Warn("shadow lobby has no canonical lobby reference")
		return Lobby{}, fmt.Errorf("shadow lobby %s: %w", nativeLobbyID, backend.ErrNotFound)
	}
	if current, ok := s.Current(); ok && current.ID == lobbyID {
		log.Info("already in the invited lobby")
		return current, nil
	}
	if _, err := s.JoinLobbyByID(ctx, lobbyID); err != nil {
		return Lobby{}, err
	}
	s.joinShadow(ctx, lobbyID, nativeLobbyID)
	l, ok := s.Current()
	if !ok {
		return Lobby{}, ErrNotInLobby
	}
	return l, nil
}

// joinShadow joins the native lobby mirroring lobbyID and records it as the
// shadow lobby. Failures leave the canonical lobby without a shadow.
func (s *Service) joinShadow(ctx context.Context, lobbyID, nativeLobbyID string) {
	log := s.logger.With(slog.String("lobby_id", lobbyID), slog.String("shadow_lobby_id", nativeLobbyID))
	if err := s.native.JoinLobby(ctx, nativeLobbyID); err != nil {
		log.Warn("native lobby join failed; continuing without it", slog.Any("error", err))
		return
	}
	s.mu.Lock()
	if s.lobby == nil || s.lobby.ID != lobbyID || s.lobby.ShadowLobbyID != "" {
		s.mu.Unlock()
		log.Warn("canonical lobby changed while joining native lobby; leaving it")
		s.leaveShadow(ctx, nativeLobbyID)
		return
	}
	s.lobby.ShadowLobbyID = nativeLobbyID
	s.store.SetShadowLobby(nativeLobbyID)
	s.mu.Unlock()
	log.Info("native lobby joined")
}

// RunInviteAccepted follows every accepted native invite read from ch until
// ctx is done or ch is closed.
func (s *Service) RunInviteAccepted(ctx context.Context, ch <-chan backend.NativeInviteAccepted) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			if _, err := s.JoinShadowLobbyFromInvite(ctx, n.NativeLobbyID); err != nil {
				s.logger.Warn("accepted native invite could not be followed",
					slog.String("shadow_lobby_id", n.NativeLobbyID), slog.Any("error", err))
			}
		}
	}
}

// leaveShadow leaves a shadow lobby; failures are only logged.
func (s *Service) leaveShadow(ctx context.Context, shadowID string) {
	if shadowID == "" || s.native == nil {
		return
	}
	if err := s.native.LeaveLobby(ctx, shadowID); err != nil {
		s.logger.Warn("leave shadow lobby failed", slog.String("shadow_lobby_id", shadowID), slog.Any("error", err))
	}
}
