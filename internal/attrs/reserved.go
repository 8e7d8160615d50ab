package attrs

import "strings"

// ShadowLobbyKey is the canonical-lobby attribute holding the platform-native
// shadow lobby id. It is written only by the shadow lobby synchronizer.
const ShadowLobbyKey = "CROSSPLAY_SHADOW_LOBBY_ID"

// NativeLobbyKey is the native lobby metadata key pointing back at the
// canonical lobby id.
const NativeLobbyKey = "crossplay_lobby_id"

// reservedPrefix marks every key owned by the orchestrators themselves.
const reservedPrefix = "CROSSPLAY_"

// IsReserved reports whether key may not be written through the generic
// attribute update APIs.
func IsReserved(key string) bool {
	return strings.HasPrefix(strings.ToUpper(normalizeKey(key)), reservedPrefix)
}
