package sim

import (
	"github.com/memohai/crossplay/internal/backend"
)

// Kick removes userID from a lobby as a backend-side moderation action.
func (w *World) Kick(lobbyID, userID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.lobbies[lobbyID]
	if !ok {
		return backend.Fail("admin.kick", backend.CodeNotFound)
	}
	w.removeMemberLocked(l, userID, backend.MemberKicked)
	return nil
}

// CloseLobby force-closes a lobby and notifies every member.
func (w *World) CloseLobby(lobbyID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.lobbies[lobbyID]
	if !ok {
		return backend.Fail("admin.close", backend.CodeNotFound)
	}
	w.notifyLocked(l, "", backend.MemberClosed)
	for _, m := range l.members {
		if w.presence[m] == l.id {
			delete(w.presence, m)
		}
	}
	delete(w.lobbies, lobbyID)
	return nil
}

// Disconnect drops userID from every lobby as if its connection was lost.
func (w *World) Disconnect(userID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, l := range w.lobbies {
		for _, m := range l.members {
			if m == userID {
				w.removeMemberLocked(l, userID, backend.MemberDisconnected)
				break
			}
		}
	}
}

// LobbyMembers returns the canonical members of a lobby.
func (w *World) LobbyMembers(lobbyID string) ([]string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.lobbies[lobbyID]
	if !ok {
		return nil, false
	}
	return l.details().MemberIDs, true
}

// NativeLobbyData returns one metadata value of a native lobby.
func (w *World) NativeLobbyData(nativeLobbyID, key string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.nativeLobbies[nativeLobbyID]
	if !ok {
		return "", false
	}
	v, ok := l.data[key]
	return v, ok
}

// NativeLobbyMembers returns the platform-native members of a native lobby.
func (w *World) NativeLobbyMembers(nativeLobbyID string) ([]string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.nativeLobbies[nativeLobbyID]
	if !ok {
		return nil, false
	}
	return append([]string(nil), l.members...), true
}

// CanonicalID returns the cross-play id linked to a platform account.
func (w *World) CanonicalID(platform backend.Platform, nativeID string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id, ok := w.connect[externalKey{platform: platform, nativeID: nativeID}]
	return id, ok
}
