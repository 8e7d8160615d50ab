package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/memohai/crossplay/internal/config"
	"github.com/memohai/crossplay/internal/version"
)

type cliOptions struct {
	configPath string
	apiBaseURL string
	token      string
	timeout    time.Duration
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}
	defaultConfig := os.Getenv("CONFIG_PATH")
	if strings.TrimSpace(defaultConfig) == "" {
		defaultConfig = config.DefaultConfigPath
	}

	root := &cobra.Command{
		Use:           "crossplayctl",
		Short:         "Drive a running crossplayd over its control API",
		Version:       version.GetInfo(),
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfig, "Path to config.toml")
	root.PersistentFlags().StringVar(&opts.apiBaseURL, "api-url", "", "Control API base URL (e.g. http://127.0.0.1:7350)")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("CROSSPLAY_API_TOKEN"), "Control API token")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Request timeout")

	root.AddCommand(
		newLoginCmd(opts),
		newLogoutCmd(opts),
		newMeCmd(opts),
		newFriendsCmd(opts),
		newUserCmd(opts),
		newAvatarsCmd(opts),
		newLobbyCmd(opts),
		newSessionCmd(opts),
		newEventsCmd(opts),
	)
	return root
}

// api resolves the base URL from flags or the config file and builds a client.
func (o *cliOptions) api() (*apiClient, error) {
	base := strings.TrimSpace(o.apiBaseURL)
	token := strings.TrimSpace(o.token)
	if base == "" || token == "" {
		cfg, err := config.Load(o.configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		if base == "" {
			base = defaultAPIBaseURL(cfg.Server.Addr)
		}
		if token == "" {
			token = cfg.Server.APIToken
		}
	}
	if base == "" {
		return nil, fmt.Errorf("api url is required")
	}
	return newAPIClient(normalizeBaseURL(base), token, o.timeout), nil
}

func normalizeBaseURL(value string) string {
	return strings.TrimRight(strings.TrimSpace(value), "/")
}

func defaultAPIBaseURL(addr string) string {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		return normalizeBaseURL(trimmed)
	}
	if strings.HasPrefix(trimmed, ":") {
		return "http://127.0.0.1" + trimmed
	}
	return "http://" + trimmed
}
