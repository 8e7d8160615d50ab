package login

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/memohai/crossplay/internal/backend"
	"github.com/memohai/crossplay/internal/event"
	"github.com/memohai/crossplay/internal/identity"
)

// Service is the identity reconciliation orchestrator. Login calls are
// serialized because both flows share the store's single continuation-token
// slot.
type Service struct {
	store  *identity.Store
	creds  *CredentialCache
	cross  backend.CrossPlayBackend
	events event.Publisher
	logger *slog.Logger

	mu sync.Mutex
}

// NewService creates a login service.
func NewService(log *slog.Logger, store *identity.Store, creds *CredentialCache, cross backend.CrossPlayBackend, events event.Publisher) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:  store,
		creds:  creds,
		cross:  cross,
		events: events,
		logger: log.With(slog.String("service", "login")),
	}
}

// flow binds one login interface to the store field it fills.
type flow struct {
	name  Flow
	login func(ctx context.Context, cred backend.Credential) (string, error)
	link  func(ctx context.Context, token backend.ContinuationToken) (string, error)
	apply func(id string)
}

func (s *Service) connectFlow() flow {
	return flow{
		name:  FlowConnect,
		login: s.cross.ConnectLogin,
		link:  s.cross.ConnectCreateUser,
		apply: s.store.SetCrossPlayID,
	}
}

func (s *Service) authFlow() flow {
	return flow{
		name:  FlowAuth,
		login: s.cross.AuthLogin,
		link:  s.cross.AuthLinkAccount,
		apply: s.store.SetAccountID,
	}
}

// Login brings the local identity to a logged-in state. The connect flow is
// required and its failure is returned. The auth flow runs afterwards; its
// failure only disables social features and is logged and published.
func (s *Service) Login(ctx context.Context) (identity.LocalIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.run(ctx, s.connectFlow()); err != nil {
		s.publishFailure(FlowConnect, err)
		return s.store.Snapshot(), err
	}
	if _, err := s.run(ctx, s.authFlow()); err != nil {
		s.logger.Warn("auth login failed; social features disabled", slog.Any("error", err))
		s.publishFailure(FlowAuth, err)
	}

	snap := s.store.Snapshot()
	s.logger.Info("logged in",
		slog.String("cross_play_id", snap.CrossPlayID),
		slog.String("account_id", snap.AccountID))
	s.publish(event.Event{Type: event.TypeLoginCompleted, UserID: snap.CrossPlayID, Payload: snap})
	return snap, nil
}

// run drives start -> credential ready -> logged in, with at most one
// link/create round on a needs-linking answer.
func (s *Service) run(ctx context.Context, f flow) (string, error) {
	log := s.logger.With(slog.String("flow", string(f.name)))

	cred, err := s.creds.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: request session ticket: %w", f.name, translate(err))
	}

	linked := false
	for {
		id, err := f.login(ctx, cred)
		if err == nil {
			f.apply(id)
			log.Info("login succeeded", slog.String("id", id), slog.Bool("after_link", linked))
			return id, nil
		}
		if !needsLinking(err) {
			log.Error("login failed", slog.Any("error", err))
			return "", fmt.Errorf("%s login: %w", f.name, translate(err))
		}
		if linked {
			log.Error("login still needs linking after link", slog.Any("error", err))
			return "", fmt.Errorf("%s relogin: %w: %w", f.name, ErrNeedsLinking, err)
		}

		token, err := s.consumeToken(ctx, err)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("login abandoned before link")
				return "", fmt.Errorf("%s link: %w", f.name, translate(err))
			}
			log.Error("continuation token unusable", slog.Any("error", err))
			return "", fmt.Errorf("%s login: %w: %w", f.name, ErrNeedsLinking, err)
		}
		log.Info("identity needs linking; linking account")
		linkedID, err := f.link(ctx, token)
		if err != nil {
			if backend.CodeOf(err) == backend.CodeCanceled {
				log.Info("link canceled by user")
			} else {
				log.Error("link failed", slog.Any("error", err))
			}
			return "", fmt.Errorf("%s link: %w", f.name, translate(err))
		}
		log.Info("account linked; logging in again", slog.String("id", linkedID))
		linked = true
	}
}

// consumeToken stashes the token carried by loginErr and takes it back out
// for the link call, marking it consumed. A token stashed by a flow whose
// ctx ended is discarded so it can never reach a later link.
func (s *Service) consumeToken(ctx context.Context, loginErr error) (backend.ContinuationToken, error) {
	token, ok := backend.TokenOf(loginErr)
	if !ok {
		return "", identity.ErrNoToken
	}
	if err := s.store.StashContinuationToken(token); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		s.store.DiscardContinuationToken()
		return "", err
	}
	return s.store.TakeContinuationToken()
}

// Logout signs the cross-play identity out and clears the store. The cached
// session credential is kept.
func (s *Service) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.store.CrossPlayID()
	if id == "" {
		return backend.ErrNotAuthenticated
	}
	if err := s.cross.Logout(ctx, id); err != nil {
		s.logger.Warn("backend logout failed; clearing local identity anyway", slog.Any("error", err))
	}
	s.store.ClearLogin()
	s.logger.Info("logged out", slog.String("cross_play_id", id))
	s.publish(event.Event{Type: event.TypeLoggedOut, UserID: id})
	return nil
}

func (s *Service) publishFailure(name Flow, err error) {
	s.publish(event.Event{
		Type:    event.TypeLoginFailed,
		Payload: FailedPayload{Flow: name, Error: err.Error()},
	})
}

func (s *Service) publish(ev event.Event) {
	if s.events == nil {
		return
	}
	ev.Topic = event.TopicIdentity
	s.events.Publish(ev)
}

func needsLinking(err error) bool {
	code := backend.CodeOf(err)
	return code == backend.CodeInvalidUser || code == backend.CodeNotLinked
}

// translate maps a backend failure onto the login error kinds.
func translate(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", backend.ErrBackendUnavailable, err)
	}
	var be *backend.Error
	if !errors.As(err, &be) {
		return err
	}
	switch be.Code {
	case backend.CodeInvalidCredentials:
		return fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	case backend.CodeCanceled:
		return fmt.Errorf("%w: %w", ErrUserCanceled, err)
	case backend.CodeInvalidUser, backend.CodeNotLinked:
		return fmt.Errorf("%w: %w", ErrNeedsLinking, err)
	default:
		return backend.Classify(err)
	}
}
