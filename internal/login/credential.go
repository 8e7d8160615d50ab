package login

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/memohai/crossplay/internal/backend"
)

const (
	credentialKey     = "session-ticket"
	credentialTimeout = 30 * time.Second
)

// CredentialCache requests the platform session credential at most once at a
// time and reuses the first successful result until process exit. Concurrent
// requesters share the in-flight request.
type CredentialCache struct {
	source  TicketSource
	timeout time.Duration
	group   singleflight.Group

	mu     sync.RWMutex
	cached *backend.Credential

	waiting atomic.Int32
}

func NewCredentialCache(source TicketSource) *CredentialCache {
	return &CredentialCache{source: source, timeout: credentialTimeout}
}

// Get returns the cached credential or joins the single in-flight request.
// A canceled ctx stops the caller from waiting; the request itself runs on
// under its own timeout and still populates the cache.
func (c *CredentialCache) Get(ctx context.Context) (backend.Credential, error) {
	if cred, ok := c.Cached(); ok {
		return cred, nil
	}
	c.waiting.Add(1)
	defer c.waiting.Add(-1)

	ch := c.group.DoChan(credentialKey, func() (any, error) {
		if cred, ok := c.Cached(); ok {
			return cred, nil
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		cred, err := c.source.RequestSessionTicket(ctx)
		if err != nil {
			return backend.Credential{}, err
		}
		c.mu.Lock()
		c.cached = &cred
		c.mu.Unlock()
		return cred, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return backend.Credential{}, res.Err
		}
		return res.Val.(backend.Credential), nil
	case <-ctx.Done():
		return backend.Credential{}, ctx.Err()
	}
}

// Cached returns the credential if one has been obtained.
func (c *CredentialCache) Cached() (backend.Credential, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cached == nil {
		return backend.Credential{}, false
	}
	return *c.cached, true
}

// waiters counts callers currently blocked in Get.
func (c *CredentialCache) waiters() int {
	return int(c.waiting.Load())
}
