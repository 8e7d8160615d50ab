// Package config loads the crossplay client configuration (TOML).
package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath         = "config.toml"
	DefaultHTTPAddr           = "127.0.0.1:7350"
	DefaultPlatformKind       = "steam"
	DefaultShadowCapacity     = 4
	DefaultCrossPlayBackend   = "sim"
	DefaultDirectoryBatchSize = 16
	DefaultLookupsPerSecond   = 5.0
	DefaultLookupBurst        = 2
	DefaultBucketID           = "default"
	DefaultMaxMembers         = 4
	DefaultTicketSecret       = "change-me-sim-ticket-secret"
)

// Config is the root configuration loaded from TOML.
type Config struct {
	Log       LogConfig       `toml:"log"`
	Server    ServerConfig    `toml:"server"`
	Platform  PlatformConfig  `toml:"platform"`
	CrossPlay CrossPlayConfig `toml:"crossplay"`
	Directory DirectoryConfig `toml:"directory"`
	Lobby     LobbyConfig     `toml:"lobby"`
	Sim       SimConfig       `toml:"sim"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ServerConfig holds the local control API listen address and optional bearer token.
type ServerConfig struct {
	Addr     string `toml:"addr"`
	APIToken string `toml:"api_token"`
}

// PlatformConfig describes the platform-native backend the local player is signed into.
type PlatformConfig struct {
	Kind           string `toml:"kind"`
	UserID         string `toml:"user_id"`
	DisplayName    string `toml:"display_name"`
	ShadowLobbies  bool   `toml:"shadow_lobbies"`
	ShadowCapacity int    `toml:"shadow_capacity"`
}

// CrossPlayConfig selects and parameterizes the cross-play backend.
type CrossPlayConfig struct {
	Backend      string `toml:"backend"`
	ProductID    string `toml:"product_id"`
	SandboxID    string `toml:"sandbox_id"`
	DeploymentID string `toml:"deployment_id"`
}

// DirectoryConfig bounds the Online User Directory's batched lookups.
type DirectoryConfig struct {
	BatchSize        int     `toml:"batch_size"`
	LookupsPerSecond float64 `toml:"lookups_per_second"`
	Burst            int     `toml:"burst"`
}

// LobbyConfig holds lobby creation defaults.
type LobbyConfig struct {
	BucketID          string `toml:"bucket_id"`
	DefaultMaxMembers int    `toml:"default_max_members"`
	PresenceEnabled   bool   `toml:"presence_enabled"`
}

// SimConfig parameterizes the in-process simulated backends.
type SimConfig struct {
	TicketSecret string    `toml:"ticket_secret"`
	RequireLink  bool      `toml:"require_link"`
	Peers        []SimPeer `toml:"peers"`
}

// SimPeer is a pre-seeded remote player known to the simulated backends.
type SimPeer struct {
	UserID      string `toml:"user_id"`
	Platform    string `toml:"platform"`
	DisplayName string `toml:"display_name"`
}

// Load reads and parses the TOML config file at path and applies default values for missing fields.
// A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Platform: PlatformConfig{
			Kind:           DefaultPlatformKind,
			ShadowLobbies:  true,
			ShadowCapacity: DefaultShadowCapacity,
		},
		CrossPlay: CrossPlayConfig{
			Backend: DefaultCrossPlayBackend,
		},
		Directory: DirectoryConfig{
			BatchSize:        DefaultDirectoryBatchSize,
			LookupsPerSecond: DefaultLookupsPerSecond,
			Burst:            DefaultLookupBurst,
		},
		Lobby: LobbyConfig{
			BucketID:          DefaultBucketID,
			DefaultMaxMembers: DefaultMaxMembers,
			PresenceEnabled:   true,
		},
		Sim: SimConfig{
			TicketSecret: DefaultTicketSecret,
			RequireLink:  true,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
