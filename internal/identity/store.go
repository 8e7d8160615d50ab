package identity

import (
	"strings"
	"sync"

	"github.com/memohai/crossplay/internal/backend"
)

// Store is the single process-wide LocalIdentity. It is constructed once at
// startup and injected into the orchestrators that mutate it.
type Store struct {
	mu       sync.RWMutex
	id       LocalIdentity
	token    backend.ContinuationToken
	consumed map[backend.ContinuationToken]struct{}
}

// NewStore creates a store for the given platform-native identity. The
// native id is immutable for the life of the store.
func NewStore(platform backend.Platform, nativeID, displayName string) *Store {
	return &Store{
		id: LocalIdentity{
			Platform:         platform,
			PlatformNativeID: strings.TrimSpace(nativeID),
			DisplayName:      strings.TrimSpace(displayName),
		},
		consumed: map[backend.ContinuationToken]struct{}{},
	}
}

// Snapshot returns a copy of the current identity.
func (s *Store) Snapshot() LocalIdentity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// CrossPlayID returns the canonical id, empty when not logged in.
func (s *Store) CrossPlayID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id.CrossPlayID
}

func (s *Store) SetCrossPlayID(id string) {
	s.mu.Lock()
	s.id.CrossPlayID = strings.TrimSpace(id)
	s.mu.Unlock()
}

func (s *Store) SetAccountID(id string) {
	s.mu.Lock()
	s.id.AccountID = strings.TrimSpace(id)
	s.mu.Unlock()
}

// StashContinuationToken records the token returned by a login that needs
// linking. A token already consumed can never be stashed again.
func (s *Store) StashContinuationToken(token backend.ContinuationToken) error {
	token = backend.ContinuationToken(strings.TrimSpace(string(token)))
	if token == "" {
		return ErrNoToken
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, used := s.consumed[token]; used {
		return ErrTokenConsumed
	}
	if s.token != "" && s.token != token {
		return ErrTokenPending
	}
	s.token = token
	s.id.TokenPending = true
	return nil
}

// TakeContinuationToken removes and returns the pending token. The token is
// remembered as consumed so it cannot be reused.
func (s *Store) TakeContinuationToken() (backend.ContinuationToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" {
		return "", ErrNoToken
	}
	token := s.token
	s.token = ""
	s.id.TokenPending = false
	s.consumed[token] = struct{}{}
	return token, nil
}

// DiscardContinuationToken drops a pending token without using it, e.g. when
// the owning flow failed before reaching the link call.
func (s *Store) DiscardContinuationToken() {
	s.mu.Lock()
	if s.token != "" {
		s.consumed[s.token] = struct{}{}
	}
	s.token = ""
	s.id.TokenPending = false
	s.mu.Unlock()
}

// SetLobby records the canonical lobby slot. An empty id leaves the lobby and
// also clears the shadow lobby.
func (s *Store) SetLobby(lobbyID string) {
	s.mu.Lock()
	s.id.LobbyID = strings.TrimSpace(lobbyID)
	if s.id.LobbyID == "" {
		s.id.ShadowLobbyID = ""
	}
	s.mu.Unlock()
}

// SetShadowLobby records the native shadow lobby. It is ignored while the
// local player is not in a canonical lobby.
func (s *Store) SetShadowLobby(nativeLobbyID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id.LobbyID == "" && nativeLobbyID != "" {
		return false
	}
	s.id.ShadowLobbyID = strings.TrimSpace(nativeLobbyID)
	return true
}

func (s *Store) SetSession(sessionID string) {
	s.mu.Lock()
	s.id.SessionID = strings.TrimSpace(sessionID)
	s.mu.Unlock()
}

// ClearLogin forgets backend identities and room slots. The platform-native
// identity is kept.
func (s *Store) ClearLogin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" {
		s.consumed[s.token] = struct{}{}
	}
	s.token = ""
	s.id = LocalIdentity{
		Platform:         s.id.Platform,
		PlatformNativeID: s.id.PlatformNativeID,
		DisplayName:      s.id.DisplayName,
	}
}
