package client

import (
	"context"
	"sync"
	"time"
)

// DefaultRefreshInterval is how often the cache re-reads session state
// when no interval is configured.
const DefaultRefreshInterval = 5 * time.Minute

// CacheState is an immutable snapshot of the cached session.
type CacheState struct {
	IsAuthenticated    bool
	User               *SessionUser
	NeedsPasswordSetup bool
	IsLoading          bool
	Err                error
}

// SessionCache is an optimistic client-side mirror of session state. It
// refreshes on Start, on a fixed interval, and after every mutating auth
// action. Overlapping refreshes are tolerated: the underlying read is
// idempotent and last-write-wins on the cache is acceptable, since the
// service re-derives provisioning state on every read anyway.
type SessionCache struct {
	client   *Client
	interval time.Duration

	mu    sync.RWMutex
	state CacheState
}

// NewSessionCache creates a SessionCache around an SDK client.
// interval <= 0 selects DefaultRefreshInterval.
func NewSessionCache(c *Client, interval time.Duration) *SessionCache {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &SessionCache{client: c, interval: interval}
}

// Snapshot returns a copy of the current cache state.
func (sc *SessionCache) Snapshot() CacheState {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.state
}

// Start refreshes once immediately and then on every interval tick until
// ctx is cancelled. Run it on its own goroutine.
func (sc *SessionCache) Start(ctx context.Context) {
	sc.Refresh(ctx)

	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			sc.Refresh(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Refresh re-reads session state from the service. Calls are not
// coalesced; concurrent refreshes race harmlessly.
func (sc *SessionCache) Refresh(ctx context.Context) {
	sc.setLoading(true)

	state, err := sc.client.Session(ctx)

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.state.IsLoading = false
	if err != nil {
		// Keep the previous view on transient errors; just surface them.
		sc.state.Err = err
		return
	}
	sc.state = CacheState{
		IsAuthenticated:    state.Authenticated,
		User:               state.Account,
		NeedsPasswordSetup: state.NeedsPasswordSetup,
	}
}

// Login signs in with credentials and refreshes the cache.
func (sc *SessionCache) Login(ctx context.Context, email, password string) error {
	sc.setLoading(true)
	_, err := sc.client.Login(ctx, email, password)
	if err != nil {
		sc.setErr(err)
		return err
	}
	sc.Refresh(ctx)
	return nil
}

// Register creates an account, signs in, and refreshes the cache.
func (sc *SessionCache) Register(ctx context.Context, name, email, password string) error {
	sc.setLoading(true)
	_, err := sc.client.Register(ctx, name, email, password)
	if err != nil {
		sc.setErr(err)
		return err
	}
	sc.Refresh(ctx)
	return nil
}

// SetPassword sets the account password and refreshes the cache, which
// observes the cleared provisioning flag.
func (sc *SessionCache) SetPassword(ctx context.Context, password string) error {
	sc.setLoading(true)
	if err := sc.client.SetPassword(ctx, password); err != nil {
		sc.setErr(err)
		return err
	}
	sc.Refresh(ctx)
	return nil
}

// Logout discards the session and resets the cache.
func (sc *SessionCache) Logout(ctx context.Context) error {
	err := sc.client.Logout(ctx)

	sc.mu.Lock()
	sc.state = CacheState{}
	sc.mu.Unlock()
	return err
}

func (sc *SessionCache) setLoading(loading bool) {
	sc.mu.Lock()
	sc.state.IsLoading = loading
	sc.state.Err = nil
	sc.mu.Unlock()
}

func (sc *SessionCache) setErr(err error) {
	sc.mu.Lock()
	sc.state.IsLoading = false
	sc.state.Err = err
	sc.mu.Unlock()
}
