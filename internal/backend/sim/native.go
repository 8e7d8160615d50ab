package sim

import (
	"context"
	"crypto/sha256"
	"slices"

	"github.com/google/uuid"

	"github.com/memohai/crossplay/internal/backend"
	"github.com/memohai/crossplay/internal/event"
)

// Native is one local player's view of the simulated platform backend.
type Native struct {
	w         *World
	key       externalKey
	name      string
	shadowing bool
}

var _ backend.NativeBackend = (*Native)(nil)

// Native registers a local platform user and returns its backend view.
// shadowing reports whether this platform supports native lobbies.
func (w *World) Native(platform backend.Platform, nativeID, displayName string, shadowing bool) *Native {
	key := externalKey{platform: platform, nativeID: nativeID}
	w.mu.Lock()
	w.natives[key] = displayName
	w.mu.Unlock()
	return &Native{w: w, key: key, name: displayName, shadowing: shadowing}
}

func (n *Native) Kind() backend.Platform      { return n.key.platform }
func (n *Native) LocalUserID() string         { return n.key.nativeID }
func (n *Native) LocalDisplayName() string    { return n.name }
func (n *Native) SupportsShadowLobbies() bool { return n.shadowing }

func (n *Native) RequestSessionTicket(ctx context.Context) (backend.Credential, error) {
	if err := n.w.call(ctx, "native.request_ticket"); err != nil {
		return backend.Credential{}, err
	}
	return n.w.issueTicket(n.key, n.name)
}

func (n *Native) CreateLobby(ctx context.Context, capacity int) (string, error) {
	const op = "native.create_lobby"
	w := n.w
	if err := w.call(ctx, op); err != nil {
		return "", err
	}
	if !n.shadowing {
		return "", backend.Fail(op, backend.CodeInvalidParameters)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	l := &nativeLobby{
		id:       string(n.key.platform) + "-" + uuid.NewString(),
		platform: n.key.platform,
		owner:    n.key.nativeID,
		capacity: capacity,
		members:  []string{n.key.nativeID},
		data:     map[string]string{},
	}
	w.nativeLobbies[l.id] = l
	return l.id, nil
}

func (n *Native) lobbyLocked(op, id string) (*nativeLobby, error) {
	l, ok := n.w.nativeLobbies[id]
	if !ok || l.platform != n.key.platform {
		return nil, backend.Fail(op, backend.CodeNotFound)
	}
	return l, nil
}

func (n *Native) JoinLobby(ctx context.Context, nativeLobbyID string) error {
	const op = "native.join_lobby"
	if err := n.w.call(ctx, op); err != nil {
		return err
	}
	n.w.mu.Lock()
	defer n.w.mu.Unlock()
	l, err := n.lobbyLocked(op, nativeLobbyID)
	if err != nil {
		return err
	}
	if slices.Contains(l.members, n.key.nativeID) {
		return nil
	}
	if len(l.members) >= l.capacity {
		return backend.Fail(op, backend.CodeLobbyFull)
	}
	l.members = append(l.members, n.key.nativeID)
	return nil
}

func (n *Native) LeaveLobby(ctx context.Context, nativeLobbyID string) error {
	const op = "native.leave_lobby"
	if err := n.w.call(ctx, op); err != nil {
		return err
	}
	n.w.mu.Lock()
	defer n.w.mu.Unlock()
	l, err := n.lobbyLocked(op, nativeLobbyID)
	if err != nil {
		return err
	}
	l.members = slices.DeleteFunc(l.members, func(m string) bool { return m == n.key.nativeID })
	if len(l.members) == 0 {
		delete(n.w.nativeLobbies, l.id)
	} else if l.owner == n.key.nativeID {
		l.owner = l.members[0]
	}
	return nil
}

func (n *Native) SetLobbyData(ctx context.Context, nativeLobbyID, key, value string) error {
	const op = "native.set_lobby_data"
	if err := n.w.call(ctx, op); err != nil {
		return err
	}
	n.w.mu.Lock()
	defer n.w.mu.Unlock()
	l, err := n.lobbyLocked(op, nativeLobbyID)
	if err != nil {
		return err
	}
	if l.owner != n.key.nativeID {
		return backend.Fail(op, backend.CodeNotOwner)
	}
	l.data[key] = value
	return nil
}

func (n *Native) GetLobbyData(ctx context.Context, nativeLobbyID, key string) (string, error) {
	const op = "native.get_lobby_data"
	if err := n.w.call(ctx, op); err != nil {
		return "", err
	}
	n.w.mu.Lock()
	defer n.w.mu.Unlock()
	l, err := n.lobbyLocked(op, nativeLobbyID)
	if err != nil {
		return "", err
	}
	return l.data[key], nil
}

// ListFriends treats every other known user of the same platform as a friend.
func (n *Native) ListFriends(ctx context.Context) ([]string, error) {
	if err := n.w.call(ctx, "native.list_friends"); err != nil {
		return nil, err
	}
	n.w.mu.Lock()
	defer n.w.mu.Unlock()
	var out []string
	for key := range n.w.natives {
		if key.platform == n.key.platform && key.nativeID != n.key.nativeID {
			out = append(out, key.nativeID)
		}
	}
	slices.Sort(out)
	return out, nil
}

// FetchAvatar returns a deterministic placeholder image payload.
func (n *Native) FetchAvatar(ctx context.Context, nativeUserID string) ([]byte, error) {
	const op = "native.fetch_avatar"
	if err := n.w.call(ctx, op); err != nil {
		return nil, err
	}
	n.w.mu.Lock()
	_, ok := n.w.natives[externalKey{platform: n.key.platform, nativeID: nativeUserID}]
	n.w.mu.Unlock()
	if !ok {
		return nil, backend.Fail(op, backend.CodeNotFound)
	}
	sum := sha256.Sum256([]byte(string(n.key.platform) + "/" + nativeUserID))
	return sum[:], nil
}

func (n *Native) SubscribeInviteAccepted(buffer int) (<-chan backend.NativeInviteAccepted, func()) {
	return relay[backend.NativeInviteAccepted](n.w.hub, acceptedTopic(n.key), buffer)
}

// AcceptNativeInvite simulates the local platform user accepting a friend's
// invite to a native lobby through the platform overlay.
func (w *World) AcceptNativeInvite(platform backend.Platform, nativeID, nativeLobbyID, fromNativeID string) {
	w.hub.Publish(event.Event{
		Topic: acceptedTopic(externalKey{platform: platform, nativeID: nativeID}),
		Payload: backend.NativeInviteAccepted{
			NativeLobbyID:    nativeLobbyID,
			FromNativeUserID: fromNativeID,
		},
	})
}
