// Package event is the in-process observer registry for identity, lobby and
// session events.
package event

import "time"

// Topic scopes a subscription. The empty topic receives every event.
type Topic string

const (
	TopicAll      Topic = ""
	TopicIdentity Topic = "identity"
	TopicLobby    Topic = "lobby"
	TopicSession  Topic = "session"
)

// Type identifies what happened.
type Type string

const (
	TypeLoginCompleted Type = "login_completed"
	TypeLoginFailed    Type = "login_failed"
	TypeLoggedOut      Type = "logged_out"

	TypeLobbyCreated           Type = "lobby_created"
	TypeLobbyJoined            Type = "lobby_joined"
	TypeLobbyLeft              Type = "lobby_left"
	TypeLobbyClosed            Type = "lobby_closed"
	TypeLobbyUserJoined        Type = "lobby_user_joined"
	TypeLobbyUserLeft          Type = "lobby_user_left"
	TypeLobbyUserDisconnected  Type = "lobby_user_disconnected"
	TypeLobbyUserKicked        Type = "lobby_user_kicked"
	TypeLobbyOwnerChanged      Type = "lobby_owner_changed"
	TypeLobbyAttributesUpdated Type = "lobby_attributes_updated"
	TypeShadowLobbyCreated     Type = "shadow_lobby_created"

	TypeSessionCreated           Type = "session_created"
	TypeSessionJoined            Type = "session_joined"
	TypeSessionLeft              Type = "session_left"
	TypeSessionInviteReceived    Type = "session_invite_received"
	TypeSessionAttributesUpdated Type = "session_attributes_updated"
)

// Event is one notification delivered to observers. ResourceID is the lobby
// or session id; UserID is the member the event is about, when any.
type Event struct {
	Type       Type      `json:"type"`
	Topic      Topic     `json:"topic"`
	ResourceID string    `json:"resource_id,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	Payload    any       `json:"payload,omitempty"`
	At         time.Time `json:"at"`
}
