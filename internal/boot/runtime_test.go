package boot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/crossplay/internal/backend"
	"github.com/memohai/crossplay/internal/config"
)

func TestProvideRuntimeConfig(t *testing.T) {
	cfg := config.Config{
		Server:   config.ServerConfig{Addr: "127.0.0.1:1"},
		Platform: config.PlatformConfig{Kind: "PSN", UserID: " alice "},
	}

	rc, err := ProvideRuntimeConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, backend.PlatformPSN, rc.Platform)
	assert.Equal(t, "alice", rc.UserID)
	assert.Equal(t, "alice", rc.DisplayName)
	assert.Equal(t, "127.0.0.1:1", rc.ServerAddr)
}

func TestProvideRuntimeConfigEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9000")
	t.Setenv("PLATFORM_USER_ID", "bob")
	t.Setenv("CROSSPLAY_API_TOKEN", "tok")

	rc, err := ProvideRuntimeConfig(config.Config{Platform: config.PlatformConfig{Kind: "steam"}})
	require.NoError(t, err)
	assert.Equal(t, ":9000", rc.ServerAddr)
	assert.Equal(t, "bob", rc.UserID)
	assert.Equal(t, "tok", rc.APIToken)
}

func TestProvideRuntimeConfigRejects(t *testing.T) {
	t.Setenv("PLATFORM_USER_ID", "")

	_, err := ProvideRuntimeConfig(config.Config{Platform: config.PlatformConfig{Kind: "dreamcast", UserID: "a"}})
	require.Error(t, err)

	_, err = ProvideRuntimeConfig(config.Config{Platform: config.PlatformConfig{Kind: "steam"}})
	require.Error(t, err)
}
