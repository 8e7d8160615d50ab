package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultHTTPAddr, cfg.Server.Addr)
	assert.Equal(t, DefaultPlatformKind, cfg.Platform.Kind)
	assert.True(t, cfg.Platform.ShadowLobbies)
	assert.Equal(t, DefaultShadowCapacity, cfg.Platform.ShadowCapacity)
	assert.Equal(t, DefaultDirectoryBatchSize, cfg.Directory.BatchSize)
	assert.Equal(t, DefaultMaxMembers, cfg.Lobby.DefaultMaxMembers)
	assert.True(t, cfg.Sim.RequireLink)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[log]
level = "debug"

[platform]
kind = "psn"
user_id = "psn-42"
shadow_lobbies = false

[directory]
batch_size = 8

[[sim.peers]]
user_id = "steam-7"
platform = "steam"
display_name = "Remote"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "psn", cfg.Platform.Kind)
	assert.Equal(t, "psn-42", cfg.Platform.UserID)
	assert.False(t, cfg.Platform.ShadowLobbies)
	assert.Equal(t, 8, cfg.Directory.BatchSize)
	assert.Equal(t, DefaultLookupBurst, cfg.Directory.Burst)
	require.Len(t, cfg.Sim.Peers, 1)
	assert.Equal(t, "Remote", cfg.Sim.Peers[0].DisplayName)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[platform\nkind="), 0o600))
	_, err := Load(path)
	require.Error(t, err)
}
