// Package sim is an in-process simulation of both backends. One World is
// shared by any number of local players; each player gets its own Native
// view and all players share the Cross view.
package sim

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/memohai/crossplay/internal/attrs"
	"github.com/memohai/crossplay/internal/backend"
	"github.com/memohai/crossplay/internal/event"
)

// Options configures a World.
type Options struct {
	// TicketSecret signs platform session tickets.
	TicketSecret string
	// RequireLink makes first logins answer "needs linking" with a
	// continuation token instead of creating identities implicitly.
	RequireLink bool
	// Latency is added to every backend call.
	Latency time.Duration
	Now     func() time.Time
}

// Peer is a pre-registered, already linked player.
type Peer struct {
	Platform    backend.Platform
	NativeID    string
	DisplayName string
}

type externalKey struct {
	platform backend.Platform
	nativeID string
}

type pendingLink struct {
	flow string
	key  externalKey
	name string
}

type user struct {
	id       string
	name     string
	accounts map[backend.Platform]backend.ExternalAccount
}

type lobbyState struct {
	id       string
	owner    string
	bucket   string
	max      int
	presence bool
	members  []string
	attrs    attrs.Set
}

type sessionState struct {
	id      string
	name    string
	owner   string
	max     int
	members []string
	attrs   attrs.Set
}

type nativeLobby struct {
	id       string
	platform backend.Platform
	owner    string
	capacity int
	members  []string
	data     map[string]string
}

// World is the shared simulated backend state.
type World struct {
	opts   Options
	logger *slog.Logger
	hub    *event.Hub

	mu           sync.Mutex
	users        map[string]*user
	connect      map[externalKey]string
	auth         map[externalKey]string
	natives      map[externalKey]string
	tokens       map[backend.ContinuationToken]pendingLink
	lobbies      map[string]*lobbyState
	presence     map[string]string
	sessions     map[string]*sessionState
	nativeLobbies map[string]*nativeLobby
	failures     map[string][]backend.Code
}

// NewWorld creates an empty world.
func NewWorld(log *slog.Logger, opts Options) *World {
	if log == nil {
		log = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &World{
		opts:         opts,
		logger:       log.With(slog.String("service", "sim")),
		hub:          event.NewHub(),
		users:        map[string]*user{},
		connect:      map[externalKey]string{},
		auth:         map[externalKey]string{},
		natives:      map[externalKey]string{},
		tokens:       map[backend.ContinuationToken]pendingLink{},
		lobbies:      map[string]*lobbyState{},
		presence:     map[string]string{},
		sessions:     map[string]*sessionState{},
		nativeLobbies: map[string]*nativeLobby{},
		failures:     map[string][]backend.Code{},
	}
}

// AddPeer registers a linked player that never logs in locally. It returns
// the peer's canonical id.
func (w *World) AddPeer(p Peer) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := externalKey{platform: p.Platform, nativeID: p.NativeID}
	w.natives[key] = p.DisplayName
	id := w.ensureUserLocked(key, p.DisplayName)
	w.auth[key] = accountIDFor(key)
	return id
}

// FailNext makes the next call of op answer with code. Ops are named
// "<backend>.<operation>", e.g. "lobby.join" or "native.create_lobby".
func (w *World) FailNext(op string, code backend.Code) {
	w.mu.Lock()
	w.failures[op] = append(w.failures[op], code)
	w.mu.Unlock()
}

// call applies latency and injected failures to op.
func (w *World) call(ctx context.Context, op string) error {
	if w.opts.Latency > 0 {
		t := time.NewTimer(w.opts.Latency)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if queue := w.failures[op]; len(queue) > 0 {
		code := queue[0]
		w.failures[op] = queue[1:]
		return backend.Fail(op, code)
	}
	return nil
}

func canonicalIDFor(key externalKey) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("connect/"+string(key.platform)+"/"+key.nativeID)).String()
}

func accountIDFor(key externalKey) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("auth/"+string(key.platform)+"/"+key.nativeID)).String()
}

// ensureUserLocked creates or refreshes the canonical user behind key.
func (w *World) ensureUserLocked(key externalKey, name string) string {
	id, ok := w.connect[key]
	if !ok {
		id = canonicalIDFor(key)
		w.connect[key] = id
	}
	u, ok := w.users[id]
	if !ok {
		u = &user{id: id, name: name, accounts: map[backend.Platform]backend.ExternalAccount{}}
		w.users[id] = u
	}
	if name != "" && u.name == "" {
		u.name = name
	}
	u.accounts[key.platform] = backend.ExternalAccount{
		Platform:    key.platform,
		AccountID:   key.nativeID,
		DisplayName: name,
		LastLogin:   w.opts.Now().UTC(),
	}
	return id
}

func (w *World) knownUserLocked(id string) bool {
	_, ok := w.users[id]
	return ok
}

func memberTopic(userID string) event.Topic { return event.Topic("members/" + userID) }
func inviteTopic(userID string) event.Topic { return event.Topic("invites/" + userID) }
func acceptedTopic(key externalKey) event.Topic {
	return event.Topic("native-invites/" + string(key.platform) + "/" + key.nativeID)
}

// notifyLocked publishes a member-status change to every member of l.
func (w *World) notifyLocked(l *lobbyState, target string, status backend.MemberStatus, extra ...string) {
	n := backend.MemberStatusNotification{LobbyID: l.id, TargetUserID: target, Status: status}
	recipients := append(append([]string(nil), l.members...), extra...)
	for _, m := range recipients {
		w.hub.Publish(event.Event{Topic: memberTopic(m), Payload: n})
	}
}

// relay adapts a hub subscription to a typed channel. The returned cancel
// stops delivery and closes the channel.
func relay[T any](hub *event.Hub, topic event.Topic, buffer int) (<-chan T, func()) {
	_, in, cancel := hub.Subscribe(topic, buffer)
	out := make(chan T, max(buffer, 1))
	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			cancel()
		})
	}
	go func() {
		defer close(out)
		for ev := range in {
			v, ok := ev.Payload.(T)
			if !ok {
				continue
			}
			select {
			case out <- v:
			case <-done:
				return
			}
		}
	}()
	return out, stop
}

// requireUserLocked rejects calls made on behalf of an unknown canonical id.
func (w *World) requireUserLocked(op, id string) error {
	if !w.knownUserLocked(id) {
		return backend.Fail(op, backend.CodeInvalidUser)
	}
	return nil
}
