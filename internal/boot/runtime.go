// Package boot provides runtime configuration and dependency wiring for crossplayd.
package boot

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/memohai/crossplay/internal/backend"
	"github.com/memohai/crossplay/internal/config"
)

// RuntimeConfig holds parsed runtime settings (listen address, api token,
// local platform identity). Values may be overridden by environment
// variables (HTTP_ADDR, CROSSPLAY_API_TOKEN, PLATFORM_USER_ID,
// PLATFORM_DISPLAY_NAME).
type RuntimeConfig struct {
	ServerAddr  string
	APIToken    string
	Platform    backend.Platform
	UserID      string
	DisplayName string
}

// ProvideRuntimeConfig builds RuntimeConfig from the given config and applies env overrides.
func ProvideRuntimeConfig(cfg config.Config) (*RuntimeConfig, error) {
	platform, err := backend.ParsePlatform(cfg.Platform.Kind)
	if err != nil {
		return nil, fmt.Errorf("invalid platform kind: %w", err)
	}

	ret := &RuntimeConfig{
		ServerAddr:  cfg.Server.Addr,
		APIToken:    cfg.Server.APIToken,
		Platform:    platform,
		UserID:      strings.TrimSpace(cfg.Platform.UserID),
		DisplayName: strings.TrimSpace(cfg.Platform.DisplayName),
	}

	if value := os.Getenv("HTTP_ADDR"); value != "" {
		ret.ServerAddr = value
	}
	if value := os.Getenv("CROSSPLAY_API_TOKEN"); value != "" {
		ret.APIToken = value
	}
	if value := os.Getenv("PLATFORM_USER_ID"); value != "" {
		ret.UserID = strings.TrimSpace(value)
	}
	if value := os.Getenv("PLATFORM_DISPLAY_NAME"); value != "" {
		ret.DisplayName = strings.TrimSpace(value)
	}

	if ret.UserID == "" {
		return nil, errors.New("platform user id is required")
	}
	if ret.DisplayName == "" {
		ret.DisplayName = ret.UserID
	}
	return ret, nil
}
