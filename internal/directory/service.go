package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/memohai/crossplay/internal/backend"
	"github.com/memohai/crossplay/internal/identity"
)

const (
	defaultBatchSize     = 16
	defaultAvatarWorkers = 4
	defaultLookupTimeout = 15 * time.Second
)

// Options tunes batched lookups. A zero LookupsPerSecond disables throttling.
// LookupTimeout bounds one shared batch lookup; callers leaving early do not
// cancel it.
type Options struct {
	BatchSize        int
	LookupsPerSecond float64
	Burst            int
	LookupTimeout    time.Duration
}

// Service resolves canonical ids to OnlineUser profiles. Entries are
// published to the cache only once a whole batch has been built, so readers
// never observe a partial entry. Entries are never invalidated.
type Service struct {
	cross   backend.CrossPlayBackend
	native  backend.NativeBackend
	store   *identity.Store
	logger  *slog.Logger
	limiter *rate.Limiter
	batch   int
	timeout time.Duration
	group   singleflight.Group

	mu    sync.RWMutex
	users map[string]OnlineUser

	lookups atomic.Int64
}

// NewService creates a directory service.
func NewService(log *slog.Logger, cross backend.CrossPlayBackend, native backend.NativeBackend, store *identity.Store, opts Options) *Service {
	if log == nil {
		log = slog.Default()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = defaultLookupTimeout
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.LookupsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.LookupsPerSecond), burst)
	}
	return &Service{
		cross:   cross,
		native:  native,
		store:   store,
		logger:  log.With(slog.String("service", "directory")),
		limiter: limiter,
		batch:   opts.BatchSize,
		timeout: opts.LookupTimeout,
		users:   map[string]OnlineUser{},
	}
}

// Get returns a cached user without any backend call.
func (s *Service) Get(canonicalID string) (OnlineUser, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[canonicalID]
	if !ok {
		return OnlineUser{}, false
	}
	return s.decorate(u.clone()), true
}

// Lookups returns how many batched backend lookups have been issued.
func (s *Service) Lookups() int64 {
	return s.lookups.Load()
}

// ResolveOne resolves a single user.
func (s *Service) ResolveOne(ctx context.Context, canonicalID string) (OnlineUser, error) {
	users, err := s.Resolve(ctx, []string{canonicalID})
	if err != nil {
		return OnlineUser{}, err
	}
	return users[canonicalID], nil
}

// Resolve returns profiles for every id, querying the backend in batches for
// the ones not cached yet. It fails if any id cannot be resolved.
func (s *Service) Resolve(ctx context.Context, canonicalIDs []string) (map[string]OnlineUser, error) {
	out := make(map[string]OnlineUser, len(canonicalIDs))
	var missing []string
	s.mu.RLock()
	for _, id := range canonicalIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if u, ok := s.users[id]; ok {
			out[id] = s.decorate(u.clone())
		} else if !slices.Contains(missing, id) {
			missing = append(missing, id)
		}
	}
	s.mu.RUnlock()
	if len(missing) == 0 {
		return out, nil
	}

	localID := s.store.CrossPlayID()
	if localID == "" {
		return nil, backend.ErrNotAuthenticated
	}
	slices.Sort(missing)
	for batch := range slices.Chunk(missing, s.batch) {
		users, err := s.lookup(ctx, localID, batch)
		if err != nil {
			return nil, err
		}
		for id, u := range users {
			out[id] = s.decorate(u.clone())
		}
	}
	return out, nil
}

// lookup runs one batch through singleflight so identical concurrent batches
// share a single backend call. The call runs detached from ctx under its own
// timeout; a canceled ctx only stops this caller from waiting.
func (s *Service) lookup(ctx context.Context, localID string, batch []string) (map[string]OnlineUser, error) {
	key := strings.Join(batch, ",")
	ch := s.group.DoChan(key, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("directory lookup throttled: %w", err)
		}
		s.lookups.Add(1)
		infos, err := s.cross.QueryUserInfo(ctx, localID, batch)
		if err != nil {
			return nil, fmt.Errorf("query user info: %w", backend.Classify(err))
		}
		built := make(map[string]OnlineUser, len(infos))
		for _, info := range infos {
			if !slices.Contains(batch, info.UserID) {
				continue
			}
			built[info.UserID] = fromUserInfo(info)
		}
		for _, id := range batch {
			if _, ok := built[id]; !ok {
				return nil, fmt.Errorf("user %s: %w", id, backend.ErrNotFound)
			}
		}

		s.mu.Lock()
		for id, u := range built {
			if prev, ok := s.users[id]; ok && prev.HasAvatar {
				u.Avatar, u.HasAvatar = prev.Avatar, true
			}
			s.users[id] = u
		}
		s.mu.Unlock()
		s.logger.Debug("directory batch resolved", slog.Int("count", len(built)))
		return built, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(map[string]OnlineUser), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// decorate attaches local-only fields when u is the local player.
func (s *Service) decorate(u OnlineUser) OnlineUser {
	snap := s.store.Snapshot()
	if snap.CrossPlayID == "" || u.CanonicalID != snap.CrossPlayID {
		return u
	}
	u.Local = &LocalOnlyFields{
		PlatformNativeID: snap.PlatformNativeID,
		AccountID:        snap.AccountID,
		Platform:         snap.Platform,
	}
	return u
}

// Local resolves the local player.
func (s *Service) Local(ctx context.Context) (OnlineUser, error) {
	id := s.store.CrossPlayID()
	if id == "" {
		return OnlineUser{}, backend.ErrNotAuthenticated
	}
	return s.ResolveOne(ctx, id)
}

// ResolveExternal maps platform account ids to canonical users. Accounts
// without a cross-play identity are skipped.
func (s *Service) ResolveExternal(ctx context.Context, platform backend.Platform, accountIDs []string) ([]OnlineUser, error) {
	if len(accountIDs) == 0 {
		return nil, nil
	}
	localID := s.store.CrossPlayID()
	if localID == "" {
		return nil, backend.ErrNotAuthenticated
	}
	mappings, err := s.cross.QueryExternalMappings(ctx, localID, platform, accountIDs)
	if err != nil {
		return nil, fmt.Errorf("query external mappings: %w", backend.Classify(err))
	}
	ids := make([]string, 0, len(mappings))
	for _, accountID := range accountIDs {
		if id, ok := mappings[accountID]; ok && id != "" {
			ids = append(ids, id)
		}
	}
	users, err := s.Resolve(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]OnlineUser, 0, len(users))
	for _, id := range ids {
		if u, ok := users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

// FetchAvatars loads avatars for the given cached users through the native
// backend. Only users with an account on the local platform qualify. Avatars
// are optional: individual failures are logged and skipped. It returns the
// number of avatars stored once every fetch has completed.
func (s *Service) FetchAvatars(ctx context.Context, canonicalIDs []string) (int, error) {
	if s.native == nil {
		return 0, errors.New("native backend not configured")
	}
	platform := s.native.Kind()

	type target struct{ canonicalID, nativeID string }
	var targets []target
	s.mu.RLock()
	for _, id := range canonicalIDs {
		u, ok := s.users[id]
		if !ok || u.HasAvatar {
			continue
		}
		if acc, ok := u.ExternalAccounts[platform]; ok && acc.AccountID != "" {
			targets = append(targets, target{canonicalID: id, nativeID: acc.AccountID})
		}
	}
	s.mu.RUnlock()

	var stored atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultAvatarWorkers)
	for _, t := range targets {
		g.Go(func() error {
			img, err := s.native.FetchAvatar(gctx, t.nativeID)
			if err != nil {
				s.logger.Warn("avatar fetch failed",
					slog.String("user_id", t.canonicalID), slog.Any("error", err))
				return nil
			}
			if len(img) == 0 {
				return nil
			}
			s.mu.Lock()
			if u, ok := s.users[t.canonicalID]; ok {
				u.Avatar, u.HasAvatar = img, true
				s.users[t.canonicalID] = u
				stored.Add(1)
			}
			s.mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(stored.Load()), err
	}
	return int(stored.Load()), ctx.Err()
}
