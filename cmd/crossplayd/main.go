package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/memohai/crossplay/internal/backend"
	"github.com/memohai/crossplay/internal/backend/sim"
	"github.com/memohai/crossplay/internal/boot"
	"github.com/memohai/crossplay/internal/client"
	"github.com/memohai/crossplay/internal/config"
	"github.com/memohai/crossplay/internal/directory"
	"github.com/memohai/crossplay/internal/event"
	"github.com/memohai/crossplay/internal/handlers"
	"github.com/memohai/crossplay/internal/lobby"
	"github.com/memohai/crossplay/internal/logger"
	"github.com/memohai/crossplay/internal/server"
	"github.com/memohai/crossplay/internal/version"
)

func provideConfig() (config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return config.Config{}, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideWorld(log *slog.Logger, cfg config.Config) (*sim.World, error) {
	if cfg.CrossPlay.Backend != config.DefaultCrossPlayBackend {
		return nil, fmt.Errorf("unsupported crossplay backend %q", cfg.CrossPlay.Backend)
	}
	world := sim.NewWorld(log, sim.Options{
		TicketSecret: cfg.Sim.TicketSecret,
		RequireLink:  cfg.Sim.RequireLink,
	})
	for _, p := range cfg.Sim.Peers {
		platform, err := backend.ParsePlatform(p.Platform)
		if err != nil {
			return nil, fmt.Errorf("sim peer %q: %w", p.UserID, err)
		}
		id := world.AddPeer(sim.Peer{Platform: platform, NativeID: p.UserID, DisplayName: p.DisplayName})
		log.Debug("sim peer added", slog.String("user_id", p.UserID), slog.String("cross_play_id", id))
	}
	return world, nil
}

func provideNative(world *sim.World, rc *boot.RuntimeConfig, cfg config.Config) backend.NativeBackend {
	return world.Native(rc.Platform, rc.UserID, rc.DisplayName, cfg.Platform.ShadowLobbies)
}

func provideCross(world *sim.World) backend.CrossPlayBackend {
	return world.Cross()
}

func provideClient(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, native backend.NativeBackend, cross backend.CrossPlayBackend) *client.Client {
	c := client.New(log, native, cross, event.NewHub(), client.Options{
		Directory: directory.Options{
			BatchSize:        cfg.Directory.BatchSize,
			LookupsPerSecond: cfg.Directory.LookupsPerSecond,
			Burst:            cfg.Directory.Burst,
		},
		Lobby: lobby.Options{
			BucketID:          cfg.Lobby.BucketID,
			DefaultMaxMembers: cfg.Lobby.DefaultMaxMembers,
			PresenceEnabled:   cfg.Lobby.PresenceEnabled,
			ShadowLobbies:     cfg.Platform.ShadowLobbies,
			ShadowCapacity:    cfg.Platform.ShadowCapacity,
		},
	})
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if c.Identity().LoggedIn() {
				if err := c.Logout(ctx); err != nil {
					log.Warn("logout on shutdown failed", slog.Any("error", err))
				}
			}
			c.Close()
			return nil
		},
	})
	return c
}

func provideEventsHandler(log *slog.Logger, c *client.Client) *handlers.EventsHandler {
	return handlers.NewEventsHandler(log, c.Events())
}

func main() {
	fx.New(
		fx.Provide(
			provideConfig,
			boot.ProvideRuntimeConfig,
			provideLogger,

			provideWorld,
			provideNative,
			provideCross,
			provideClient,

			provideServerHandler(handlers.NewHealthHandler),
			provideServerHandler(handlers.NewIdentityHandler),
			provideServerHandler(handlers.NewLobbyHandler),
			provideServerHandler(handlers.NewSessionHandler),
			provideServerHandler(provideEventsHandler),

			provideServer,
		),
		fx.Invoke(
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	RuntimeConfig  *boot.RuntimeConfig
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.RuntimeConfig.ServerAddr, params.RuntimeConfig.APIToken, params.ServerHandlers...)
}

func startServer(
	lc fx.Lifecycle,
	logger *slog.Logger,
	srv *server.Server,
	rc *boot.RuntimeConfig,
	shutdowner fx.Shutdowner,
) {
	fmt.Printf("Starting crossplayd %s\n", version.GetInfo())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("local player",
				slog.String("platform", rc.Platform.String()),
				slog.String("user_id", rc.UserID),
			)
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
