package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/crossplay/internal/backend"
	"github.com/memohai/crossplay/internal/backend/sim"
	"github.com/memohai/crossplay/internal/client"
	"github.com/memohai/crossplay/internal/event"
	"github.com/memohai/crossplay/internal/lobby"
	"github.com/memohai/crossplay/internal/logger"
	"github.com/memohai/crossplay/internal/login"
	"github.com/memohai/crossplay/internal/session"
)

const waitFor = 2 * time.Second

type fixture struct {
	e      *echo.Echo
	client *client.Client
}

func newFixture(t *testing.T, w *sim.World, platform backend.Platform, nativeID, name string) *fixture {
	t.Helper()
	log := logger.Discard()
	c := client.New(log, w.Native(platform, nativeID, name, true), w.Cross(), event.NewHub(), client.Options{
		Lobby: lobby.Options{
			BucketID:        "default",
			PresenceEnabled: true,
			ShadowLobbies:   true,
			ShadowCapacity:  4,
		},
	})
	t.Cleanup(c.Close)

	e := echo.New()
	NewHealthHandler(c).Register(e)
	NewIdentityHandler(log, c).Register(e)
	NewLobbyHandler(log, c).Register(e)
	NewSessionHandler(log, c).Register(e)
	NewEventsHandler(log, c.Events()).Register(e)
	return &fixture{e: e, client: c}
}

func newWorld() *sim.World {
	return sim.NewWorld(logger.Discard(), sim.Options{TicketSecret: "secret", RequireLink: true})
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func requireKind(t *testing.T, rec *httptest.ResponseRecorder, status int, kind string) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	assert.Equal(t, kind, decode(t, rec)["kind"])
}

func TestToHTTPError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"capacity before permission", session.ErrInsufficientCapacity, http.StatusForbidden, "insufficient_capacity"},
		{"permission", fmt.Errorf("update: %w", backend.ErrPermissionDenied), http.StatusForbidden, "permission_denied"},
		{"not authenticated", backend.ErrNotAuthenticated, http.StatusUnauthorized, "not_authenticated"},
		{"invalid credential", login.ErrInvalidCredential, http.StatusUnauthorized, "invalid_credential"},
		{"needs linking", login.ErrNeedsLinking, http.StatusConflict, "needs_linking"},
		{"already in lobby", lobby.ErrAlreadyInLobby, http.StatusConflict, "already_in_lobby"},
		{"not in session", session.ErrNotInSession, http.StatusConflict, "not_in_session"},
		{"join incomplete", fmt.Errorf("%w: %w", lobby.ErrJoinIncomplete, backend.ErrNotFound), http.StatusBadGateway, "join_incomplete"},
		{"not found", backend.ErrNotFound, http.StatusNotFound, "not_found"},
		{"invite not found", session.ErrInviteNotFound, http.StatusNotFound, "not_found"},
		{"unavailable", backend.Classify(context.DeadlineExceeded), http.StatusServiceUnavailable, "backend_unavailable"},
		{"unknown code", &backend.UnknownError{Code: backend.CodeInvalidParameters}, http.StatusBadGateway, "unknown"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var he *echo.HTTPError
			require.ErrorAs(t, toHTTPError(tc.err), &he)
			assert.Equal(t, tc.status, he.Code)
			body, ok := he.Message.(ErrorResponse)
			require.True(t, ok)
			assert.Equal(t, tc.kind, body.Kind)
		})
	}
	assert.NoError(t, toHTTPError(nil))
}

func TestPing(t *testing.T) {
	f := newFixture(t, newWorld(), backend.PlatformSteam, "steam-alice", "Alice")

	rec := f.do(t, http.MethodGet, "/ping", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "unlinked", body["state"])
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodHead, "/health", "").Code)
}

func TestFailuresLogOperation(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(&buf, "debug", "text")
	w := newWorld()
	c := client.New(logger.Discard(), w.Native(backend.PlatformSteam, "steam-alice", "Alice", true), w.Cross(), event.NewHub(), client.Options{})
	t.Cleanup(c.Close)
	f := &fixture{e: echo.New(), client: c}
	NewLobbyHandler(log, c).Register(f.e)

	requireKind(t, f.do(t, http.MethodPost, "/lobby/join", `{"lobby_id":"nope"}`), http.StatusUnauthorized, "not_authenticated")
	assert.Contains(t, buf.String(), "op=lobby.join")
	assert.Contains(t, buf.String(), "handler=lobby")
}

func TestIdentityRoutes(t *testing.T) {
	f := newFixture(t, newWorld(), backend.PlatformSteam, "steam-alice", "Alice")

	rec := f.do(t, http.MethodGet, "/me", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "steam-alice", decode(t, rec)["platform_native_id"])

	requireKind(t, f.do(t, http.MethodPost, "/logout", ""), http.StatusUnauthorized, "not_authenticated")
	requireKind(t, f.do(t, http.MethodGet, "/friends", ""), http.StatusUnauthorized, "not_authenticated")

	rec = f.do(t, http.MethodPost, "/login", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	me := decode(t, rec)
	id, _ := me["cross_play_id"].(string)
	require.NotEmpty(t, id)

	rec = f.do(t, http.MethodGet, "/users/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Alice", decode(t, rec)["display_name"])

	requireKind(t, f.do(t, http.MethodPost, "/avatars", `{}`), http.StatusBadRequest, "bad_request")
	rec = f.do(t, http.MethodPost, "/avatars", fmt.Sprintf(`{"user_ids":[%q]}`, id))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, decode(t, rec)["fetched"])

	rec = f.do(t, http.MethodGet, "/friends", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, "/logout", "").Code)
	assert.Empty(t, f.client.Identity().CrossPlayID)
}

func TestLobbyRoutes(t *testing.T) {
	f := newFixture(t, newWorld(), backend.PlatformSteam, "steam-alice", "Alice")

	requireKind(t, f.do(t, http.MethodPost, "/lobby", `{"max_members":4}`), http.StatusUnauthorized, "not_authenticated")
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/login", "").Code)

	rec := f.do(t, http.MethodPost, "/lobby", `{"max_members":4}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode(t, rec)
	assert.EqualValues(t, 1, created["member_count"])
	assert.NotEmpty(t, created["shadow_lobby_id"])

	requireKind(t, f.do(t, http.MethodPost, "/lobby", ""), http.StatusConflict, "already_in_lobby")
	requireKind(t, f.do(t, http.MethodPost, "/lobby", `{"max_members":-1}`), http.StatusBadRequest, "bad_request")

	rec = f.do(t, http.MethodPut, "/lobby/attributes",
		`{"attributes":[{"key":"mode","value":{"type":"string","value":"ranked"}},{"key":"CROSSPLAY_SHADOW_LOBBY_ID","value":{"type":"string","value":"x"}}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode(t, rec)
	assert.Len(t, res["changed"], 1)
	assert.Len(t, res["reserved"], 1)

	rec = f.do(t, http.MethodGet, "/lobby", "")
	require.Equal(t, http.StatusOK, rec.Code)
	attributes, _ := decode(t, rec)["attributes"].(map[string]any)
	assert.Contains(t, attributes, "mode")

	rec = f.do(t, http.MethodGet, "/lobby/members", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode(t, rec)["items"])

	requireKind(t, f.do(t, http.MethodPost, "/lobby/join", `{"lobby_id":"a","user_id":"b"}`), http.StatusBadRequest, "bad_request")
	requireKind(t, f.do(t, http.MethodPost, "/lobby/join", `{}`), http.StatusBadRequest, "bad_request")

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, "/lobby/leave", "").Code)
	requireKind(t, f.do(t, http.MethodGet, "/lobby", ""), http.StatusConflict, "not_in_lobby")
	requireKind(t, f.do(t, http.MethodPost, "/lobby/leave", ""), http.StatusConflict, "not_in_lobby")
}

func TestSessionRoutes(t *testing.T) {
	w := newWorld()
	alice := newFixture(t, w, backend.PlatformSteam, "steam-alice", "Alice")
	bob := newFixture(t, w, backend.PlatformXbox, "xbox-bob", "Bob")

	rec := alice.do(t, http.MethodPost, "/login", "")
	require.Equal(t, http.StatusOK, rec.Code)
	aliceID := decode(t, rec)["cross_play_id"].(string)
	rec = bob.do(t, http.MethodPost, "/login", "")
	require.Equal(t, http.StatusOK, rec.Code)
	bobID := decode(t, rec)["cross_play_id"].(string)

	requireKind(t, alice.do(t, http.MethodPost, "/session", `{"name":"m"}`), http.StatusConflict, "not_in_lobby")

	require.Equal(t, http.StatusCreated, alice.do(t, http.MethodPost, "/lobby", `{"max_members":4}`).Code)
	rec = bob.do(t, http.MethodPost, "/lobby/join", fmt.Sprintf(`{"user_id":%q}`, aliceID))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Eventually(t, func() bool {
		members, err := alice.client.GetMemberList()
		return err == nil && len(members) == 1
	}, waitFor, 10*time.Millisecond)

	requireKind(t, alice.do(t, http.MethodPost, "/session", `{"name":"m","max_members":1}`), http.StatusForbidden, "insufficient_capacity")
	requireKind(t, bob.do(t, http.MethodPost, "/session", `{"name":"m"}`), http.StatusForbidden, "permission_denied")

	rec = alice.do(t, http.MethodPost, "/session", `{"name":"match","attributes":[{"key":"map","value":{"type":"string","value":"dust"}}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sessionID := decode(t, rec)["id"].(string)

	requireKind(t, alice.do(t, http.MethodPost, "/session/invites", `{}`), http.StatusBadRequest, "bad_request")
	rec = alice.do(t, http.MethodPost, "/session/invites", fmt.Sprintf(`{"user_id":%q}`, bobID))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	require.Eventually(t, func() bool {
		rec := bob.do(t, http.MethodGet, "/session", "")
		if rec.Code != http.StatusOK {
			return false
		}
		var s session.Session
		return json.Unmarshal(rec.Body.Bytes(), &s) == nil && s.ID == sessionID
	}, waitFor, 10*time.Millisecond)

	rec = bob.do(t, http.MethodGet, "/session/invites", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode(t, rec)["items"], "owner invites are accepted, not queued")
	requireKind(t, bob.do(t, http.MethodPost, "/session/invites/nope/accept", ""), http.StatusNotFound, "not_found")

	rec = alice.do(t, http.MethodPut, "/session/attributes", `{"attributes":[{"key":"map","value":{"type":"string","value":"dust"}}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, decode(t, rec)["changed"])

	assert.Equal(t, http.StatusNoContent, bob.do(t, http.MethodPost, "/session/leave", "").Code)
	requireKind(t, bob.do(t, http.MethodGet, "/session", ""), http.StatusConflict, "not_in_session")
}

func TestEventStreamSSE(t *testing.T) {
	f := newFixture(t, newWorld(), backend.PlatformSteam, "steam-alice", "Alice")
	srv := httptest.NewServer(f.e)
	defer srv.Close()

	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/events?topic=bogus", "").Code)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events?topic=identity", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get(echo.HeaderContentType))

	_, err = f.client.Login(context.Background())
	require.NoError(t, err)

	scanner := bufio.NewScanner(resp.Body)
	var got event.Event
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		require.NoError(t, json.Unmarshal([]byte(data), &got))
		if got.Type == event.TypeLoginCompleted {
			break
		}
	}
	assert.Equal(t, event.TypeLoginCompleted, got.Type)
	assert.Equal(t, event.TopicIdentity, got.Topic)
}

func TestEventStreamWebSocket(t *testing.T) {
	f := newFixture(t, newWorld(), backend.PlatformSteam, "steam-alice", "Alice")
	srv := httptest.NewServer(f.e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events/ws?topic=lobby"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	_, err = f.client.Login(context.Background())
	require.NoError(t, err)
	created, err := f.client.CreateLobby(context.Background(), 4)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	for {
		var ev event.Event
		require.NoError(t, conn.ReadJSON(&ev))
		assert.Equal(t, event.TopicLobby, ev.Topic)
		if ev.Type == event.TypeLobbyCreated {
			assert.Equal(t, created.ID, ev.ResourceID)
			return
		}
	}
}
