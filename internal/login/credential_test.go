package login

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/crossplay/internal/backend"
)

type blockingSource struct {
	calls   atomic.Int32
	release chan struct{}
	cred    backend.Credential
	err     error
}

func (s *blockingSource) RequestSessionTicket(context.Context) (backend.Credential, error) {
	s.calls.Add(1)
	<-s.release
	return s.cred, s.err
}

func TestCredentialCacheSharesInFlightRequest(t *testing.T) {
	src := &blockingSource{
		release: make(chan struct{}),
		cred:    backend.Credential{Platform: backend.PlatformSteam, UserID: "76561", Ticket: "t-1"},
	}
	cache := NewCredentialCache(src)

	var wg sync.WaitGroup
	results := make([]backend.Credential, 2)
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = cache.Get(context.Background())
		}()
	}

	require.Eventually(t, func() bool {
		return src.calls.Load() == 1 && cache.waiters() == 2
	}, time.Second, 5*time.Millisecond)
	close(src.release)
	wg.Wait()

	assert.Equal(t, int32(1), src.calls.Load())
	for i := range 2 {
		require.NoError(t, errs[i])
		assert.Equal(t, "t-1", results[i].Ticket)
	}
	assert.Equal(t, results[0], results[1])

	cached, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, results[0], cached)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestCredentialCacheDoesNotCacheFailures(t *testing.T) {
	src := &blockingSource{release: make(chan struct{}), err: errors.New("overlay offline")}
	close(src.release)
	cache := NewCredentialCache(src)

	_, err := cache.Get(context.Background())
	require.Error(t, err)
	_, ok := cache.Cached()
	assert.False(t, ok)

	src.err = nil
	src.cred = backend.Credential{Ticket: "t-2"}
	cred, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "t-2", cred.Ticket)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestCredentialCacheCanceledWaiterStillPopulatesCache(t *testing.T) {
	src := &blockingSource{release: make(chan struct{}), cred: backend.Credential{Ticket: "t-3"}}
	cache := NewCredentialCache(src)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := cache.Get(ctx)
		done <- err
	}()
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	close(src.release)
	require.Eventually(t, func() bool {
		_, ok := cache.Cached()
		return ok
	}, time.Second, 5*time.Millisecond)
}

type hangingSource struct{}

func (hangingSource) RequestSessionTicket(ctx context.Context) (backend.Credential, error) {
	<-ctx.Done()
	return backend.Credential{}, ctx.Err()
}

func TestCredentialCacheRequestTimesOut(t *testing.T) {
	cache := NewCredentialCache(hangingSource{})
	cache.timeout = 20 * time.Millisecond

	_, err := cache.Get(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	_, ok := cache.Cached()
	assert.False(t, ok)
}
