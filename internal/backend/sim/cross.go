package sim

import (
	"context"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/memohai/crossplay/internal/attrs"
	"github.com/memohai/crossplay/internal/backend"
	"github.com/memohai/crossplay/internal/event"
)

// Cross is the simulated cross-play backend. It is stateless; all state
// lives in the World.
type Cross struct {
	w *World
}

var _ backend.CrossPlayBackend = (*Cross)(nil)

// Cross returns the cross-play view of the world.
func (w *World) Cross() *Cross {
	return &Cross{w: w}
}

func (c *Cross) AuthLogin(ctx context.Context, cred backend.Credential) (string, error) {
	return c.login(ctx, "auth.login", "auth", cred)
}

func (c *Cross) ConnectLogin(ctx context.Context, cred backend.Credential) (string, error) {
	return c.login(ctx, "connect.login", "connect", cred)
}

func (c *Cross) login(ctx context.Context, op, flow string, cred backend.Credential) (string, error) {
	w := c.w
	if err := w.call(ctx, op); err != nil {
		return "", err
	}
	key, name, err := w.verifyTicket(cred)
	if err != nil {
		w.logger.Debug("ticket rejected", slog.String("op", op), slog.Any("error", err))
		return "", backend.Fail(op, backend.CodeInvalidCredentials)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	registry := w.connect
	if flow == "auth" {
		registry = w.auth
	}
	if _, linked := registry[key]; !linked {
		if w.opts.RequireLink {
			token := backend.ContinuationToken(uuid.NewString())
			w.tokens[token] = pendingLink{flow: flow, key: key, name: name}
			code := backend.CodeInvalidUser
			if flow == "auth" {
				code = backend.CodeNotLinked
			}
			return "", &backend.Error{Op: op, Code: code, ContinuationToken: token}
		}
		w.linkLocked(flow, key, name)
	}
	if flow == "auth" {
		return w.auth[key], nil
	}
	return w.ensureUserLocked(key, name), nil
}

func (c *Cross) AuthLinkAccount(ctx context.Context, token backend.ContinuationToken) (string, error) {
	return c.link(ctx, "auth.link_account", "auth", token)
}

func (c *Cross) ConnectCreateUser(ctx context.Context, token backend.ContinuationToken) (string, error) {
	return c.link(ctx, "connect.create_user", "connect", token)
}

func (c *Cross) link(ctx context.Context, op, flow string, token backend.ContinuationToken) (string, error) {
	w := c.w
	if err := w.call(ctx, op); err != nil {
		return "", err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	pending, ok := w.tokens[token]
	if !ok || pending.flow != flow {
		return "", backend.Fail(op, backend.CodeInvalidParameters)
	}
	delete(w.tokens, token)
	return w.linkLocked(flow, pending.key, pending.name), nil
}

func (w *World) linkLocked(flow string, key externalKey, name string) string {
	w.natives[key] = name
	if flow == "auth" {
		id := accountIDFor(key)
		w.auth[key] = id
		return id
	}
	return w.ensureUserLocked(key, name)
}

func (c *Cross) Logout(ctx context.Context, localUserID string) error {
	w := c.w
	if err := w.call(ctx, "connect.logout"); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.requireUserLocked("connect.logout", localUserID)
}

func (c *Cross) QueryUserInfo(ctx context.Context, localUserID string, userIDs []string) ([]backend.UserInfo, error) {
	w := c.w
	if err := w.call(ctx, "connect.query_user_info"); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.requireUserLocked("connect.query_user_info", localUserID); err != nil {
		return nil, err
	}
	out := make([]backend.UserInfo, 0, len(userIDs))
	for _, id := range userIDs {
		u, ok := w.users[id]
		if !ok {
			continue
		}
		info := backend.UserInfo{UserID: u.id, DisplayName: u.name}
		for _, p := range []backend.Platform{backend.PlatformSteam, backend.PlatformPSN, backend.PlatformXbox, backend.PlatformEpic} {
			if acc, ok := u.accounts[p]; ok {
				info.Accounts = append(info.Accounts, acc)
			}
		}
		out = append(out, info)
	}
	return out, nil
}

func (c *Cross) QueryExternalMappings(ctx context.Context, localUserID string, platform backend.Platform, accountIDs []string) (map[string]string, error) {
	w := c.w
	if err := w.call(ctx, "connect.query_external_mappings"); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.requireUserLocked("connect.query_external_mappings", localUserID); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(accountIDs))
	for _, accountID := range accountIDs {
		if id, ok := w.connect[externalKey{platform: platform, nativeID: accountID}]; ok {
			out[accountID] = id
		}
	}
	return out, nil
}

func (c *Cross) CreateLobby(ctx context.Context, localUserID string, opts backend.LobbyCreateOptions) (string, error) {
	const op = "lobby.create"
	w := c.w
	if err := w.call(ctx, op); err != nil {
		return "", err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.requireUserLocked(op, localUserID); err != nil {
		return "", err
	}
	if opts.MaxMembers <= 0 {
		return "", backend.Fail(op, backend.CodeInvalidParameters)
	}
	if opts.PresenceEnabled {
		if existing, ok := w.presence[localUserID]; ok {
			if l, ok := w.lobbies[existing]; ok && slices.Contains(l.members, localUserID) {
				return "", backend.Fail(op, backend.CodePresenceLobbyExists)
			}
			delete(w.presence, localUserID)
		}
	}
	l := &lobbyState{
		id:       uuid.NewString(),
		owner:    localUserID,
		bucket:   opts.BucketID,
		max:      opts.MaxMembers,
		presence: opts.PresenceEnabled,
		members:  []string{localUserID},
		attrs:    attrs.Set{},
	}
	w.lobbies[l.id] = l
	if l.presence {
		w.presence[localUserID] = l.id
	}
	w.logger.Debug("lobby created", slog.String("lobby_id", l.id), slog.String("owner", localUserID))
	return l.id, nil
}

func (c *Cross) SearchLobbies(ctx context.Context, localUserID string, search backend.LobbySearch) ([]backend.LobbyDetails, error) {
	const op = "lobby.search"
	w := c.w
	if err := w.call(ctx, op); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.requireUserLocked(op, localUserID); err != nil {
		return nil, err
	}
	if (search.LobbyID == "") == (search.TargetUserID == "") {
		return nil, backend.Fail(op, backend.CodeInvalidParameters)
	}
	var out []backend.LobbyDetails
	if search.LobbyID != "" {
		if l, ok := w.lobbies[search.LobbyID]; ok {
			out = append(out, l.details())
		}
	} else {
		ids := make([]string, 0, len(w.lobbies))
		for id, l := range w.lobbies {
			if slices.Contains(l.members, search.TargetUserID) {
				ids = append(ids, id)
			}
		}
		slices.Sort(ids)
		for _, id := range ids {
			out = append(out, w.lobbies[id].details())
		}
	}
	if search.MaxResults > 0 && len(out) > search.MaxResults {
		out = out[:search.MaxResults]
	}
	return out, nil
}

func (c *Cross) JoinLobby(ctx context.Context, localUserID, lobbyID string) error {
	const op = "lobby.join"
	w := c.w
	if err := w.call(ctx, op); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.requireUserLocked(op, localUserID); err != nil {
		return err
	}
	l, ok := w.lobbies[lobbyID]
	if !ok {
		return backend.Fail(op, backend.CodeNotFound)
	}
	if slices.Contains(l.members, localUserID) {
		return backend.Fail(op, backend.CodeAlreadyMember)
	}
	if len(l.members) >= l.max {
		return backend.Fail(op, backend.CodeLobbyFull)
	}
	w.notifyLocked(l, localUserID, backend.MemberJoined)
	l.members = append(l.members, localUserID)
	if l.presence {
		w.presence[localUserID] = l.id
	}
	return nil
}

func (c *Cross) LeaveLobby(ctx context.Context, localUserID, lobbyID string) error {
	const op = "lobby.leave"
	w := c.w
	if err := w.call(ctx, op); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.lobbies[lobbyID]
	if !ok || !slices.Contains(l.members, localUserID) {
		return backend.Fail(op, backend.CodeNotFound)
	}
	w.removeMemberLocked(l, localUserID, backend.MemberLeft)
	return nil
}

// removeMemberLocked drops userID from l, notifies the remaining members and
// hands ownership on when the owner leaves. An empty lobby is destroyed.
func (w *World) removeMemberLocked(l *lobbyState, userID string, status backend.MemberStatus) {
	l.members = slices.DeleteFunc(l.members, func(m string) bool { return m == userID })
	if w.presence[userID] == l.id {
		delete(w.presence, userID)
	}
	if len(l.members) == 0 {
		delete(w.lobbies, l.id)
		return
	}
	extra := []string(nil)
	if status == backend.MemberKicked {
		extra = []string{userID}
	}
	w.notifyLocked(l, userID, status, extra...)
	if l.owner == userID {
		l.owner = l.members[0]
		w.notifyLocked(l, l.owner, backend.MemberPromoted)
	}
}

func (c *Cross) GetLobby(ctx context.Context, localUserID, lobbyID string) (backend.LobbyDetails, error) {
	const op = "lobby.get"
	w := c.w
	if err := w.call(ctx, op); err != nil {
		return backend.LobbyDetails{}, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.requireUserLocked(op, localUserID); err != nil {
		return backend.LobbyDetails{}, err
	}
	l, ok := w.lobbies[lobbyID]
	if !ok {
		return backend.LobbyDetails{}, backend.Fail(op, backend.CodeNotFound)
	}
	return l.details(), nil
}

func (c *Cross) UpdateLobby(ctx context.Context, localUserID, lobbyID string, set []attrs.Attribute) error {
	const op = "lobby.update"
	w := c.w
	if err := w.call(ctx, op); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.lobbies[lobbyID]
	if !ok {
		return backend.Fail(op, backend.CodeNotFound)
	}
	if l.owner != localUserID {
		return backend.Fail(op, backend.CodeNotOwner)
	}
	l.attrs = l.attrs.Apply(set)
	return nil
}

func (c *Cross) SubscribeMemberStatus(localUserID string, buffer int) (<-chan backend.MemberStatusNotification, func()) {
	return relay[backend.MemberStatusNotification](c.w.hub, memberTopic(localUserID), buffer)
}

func (c *Cross) CreateSession(ctx context.Context, localUserID string, opts backend.SessionCreateOptions) (string, error) {
	const op = "session.create"
	w := c.w
	if err := w.call(ctx, op); err != nil {
		return "", err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.requireUserLocked(op, localUserID); err != nil {
		return "", err
	}
	if opts.MaxMembers <= 0 {
		return "", backend.Fail(op, backend.CodeInvalidParameters)
	}
	s := &sessionState{
		id:      uuid.NewString(),
		name:    opts.Name,
		owner:   localUserID,
		max:     opts.MaxMembers,
		members: []string{localUserID},
		attrs:   attrs.Set{},
	}
	w.sessions[s.id] = s
	return s.id, nil
}

func (c *Cross) JoinSession(ctx context.Context, localUserID, sessionID string) (backend.SessionDetails, error) {
	const op = "session.join"
	w := c.w
	if err := w.call(ctx, op); err != nil {
		return backend.SessionDetails{}, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.requireUserLocked(op, localUserID); err != nil {
		return backend.SessionDetails{}, err
	}
	s, ok := w.sessions[sessionID]
	if !ok {
		return backend.SessionDetails{}, backend.Fail(op, backend.CodeNotFound)
	}
	if !slices.Contains(s.members, localUserID) {
		if len(s.members) >= s.max {
			return backend.SessionDetails{}, backend.Fail(op, backend.CodeLobbyFull)
		}
		s.members = append(s.members, localUserID)
	}
	return s.details(), nil
}

func (c *Cross) LeaveSession(ctx context.Context, localUserID, sessionID string) error {
	const op = "session.leave"
	w := c.w
	if err := w.call(ctx, op); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.sessions[sessionID]
	if !ok || !slices.Contains(s.members, localUserID) {
		return backend.Fail(op, backend.CodeNotFound)
	}
	s.members = slices.DeleteFunc(s.members, func(m string) bool { return m == localUserID })
	switch {
	case len(s.members) == 0:
		delete(w.sessions, s.id)
	case s.owner == localUserID:
		s.owner = s.members[0]
	}
	return nil
}

func (c *Cross) UpdateSession(ctx context.Context, localUserID, sessionID string, set []attrs.Attribute) error {
	const op = "session.update"
	w := c.w
	if err := w.call(ctx, op); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.sessions[sessionID]
	if !ok {
		return backend.Fail(op, backend.CodeNotFound)
	}
	if s.owner != localUserID {
		return backend.Fail(op, backend.CodeNotOwner)
	}
	s.attrs = s.attrs.Apply(set)
	return nil
}

func (c *Cross) SendInvite(ctx context.Context, localUserID, sessionID, targetUserID string) error {
	const op = "session.send_invite"
	w := c.w
	if err := w.call(ctx, op); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.sessions[sessionID]
	if !ok || !slices.Contains(s.members, localUserID) {
		return backend.Fail(op, backend.CodeNotFound)
	}
	if !w.knownUserLocked(targetUserID) {
		return backend.Fail(op, backend.CodeInvalidUser)
	}
	w.hub.Publish(event.Event{
		Topic: inviteTopic(targetUserID),
		Payload: backend.InviteNotification{
			InviteID:   uuid.NewString(),
			SessionID:  sessionID,
			FromUserID: localUserID,
			ToUserID:   targetUserID,
		},
	})
	return nil
}

func (c *Cross) SubscribeInvites(localUserID string, buffer int) (<-chan backend.InviteNotification, func()) {
	return relay[backend.InviteNotification](c.w.hub, inviteTopic(localUserID), buffer)
}

func (l *lobbyState) details() backend.LobbyDetails {
	return backend.LobbyDetails{
		LobbyID:    l.id,
		OwnerID:    l.owner,
		BucketID:   l.bucket,
		MaxMembers: l.max,
		MemberIDs:  slices.Clone(l.members),
		Attributes: l.attrs.Clone(),
	}
}

func (s *sessionState) details() backend.SessionDetails {
	return backend.SessionDetails{
		SessionID:  s.id,
		Name:       s.name,
		OwnerID:    s.owner,
		MaxMembers: s.max,
		MemberIDs:  slices.Clone(s.members),
		Attributes: s.attrs.Clone(),
	}
}
