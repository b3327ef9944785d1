// Package registry owns live RemoteClient handles keyed by mobile, creating,
// disconnecting, validating, and exposing a thread-safe lookup.
package registry

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tgpromoter/engine/internal/domain"
	"github.com/tgpromoter/engine/internal/ports"
)

// ActiveConnection is the registry's live handle on a mobile's transport
// client.
type ActiveConnection struct {
	Mobile          domain.Mobile
	Client          ports.RemoteClient
	CreatedAt       time.Time
	LastHealthCheck time.Time
	LastDeepProbe   time.Time
	IsActive        bool
}

// Factory creates a new RemoteClient for m.
type Factory func(ctx context.Context, m domain.Mobile) (ports.RemoteClient, error)

type slot struct {
	mu       sync.Mutex
	conn     *ActiveConnection
	inflight chan struct{} // non-nil while a creation is in flight; closed on completion
}

// Registry is the ClientRegistry.
type Registry struct {
	factory           Factory
	accounts          ports.AccountStore
	log               *slog.Logger
	connectTimeout    time.Duration
	disconnectTimeout time.Duration
	maxConnections    int

	mu    sync.Mutex
	slots map[domain.Mobile]*slot
}

func New(factory Factory, accounts ports.AccountStore, log *slog.Logger, connectTimeout, disconnectTimeout time.Duration, maxConnections int) *Registry {
	return &Registry{
		factory:           factory,
		accounts:          accounts,
		log:               log,
		connectTimeout:    connectTimeout,
		disconnectTimeout: disconnectTimeout,
		maxConnections:    maxConnections,
		slots:             make(map[domain.Mobile]*slot),
	}
}

func (r *Registry) slotFor(m domain.Mobile) *slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	sl, ok := r.slots[m]
	if !ok {
		sl = &slot{}
		r.slots[m] = sl
	}
	return sl
}

func (r *Registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, sl := range r.slots {
		sl.mu.Lock()
		if sl.conn != nil && sl.conn.IsActive {
			n++
		}
		sl.mu.Unlock()
	}
	return n
}

// Acquire returns the existing healthy connection for m, or creates one via
// the transport factory. Concurrent callers for the same m share one
// in-flight creation.
func (r *Registry) Acquire(ctx context.Context, m domain.Mobile) (*ActiveConnection, error) {
	sl := r.slotFor(m)

	sl.mu.Lock()
	if sl.conn != nil && sl.conn.IsActive {
		conn := sl.conn
		sl.mu.Unlock()
		return conn, nil
	}
	if sl.inflight != nil {
		wait := sl.inflight
		sl.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		sl.mu.Lock()
		if sl.conn != nil && sl.conn.IsActive {
			conn := sl.conn
			sl.mu.Unlock()
			return conn, nil
		}
		sl.mu.Unlock()
		return nil, domain.ErrTransport
	}

	sl.inflight = make(chan struct{})
	sl.mu.Unlock()

	conn, err := r.create(ctx, m)

	sl.mu.Lock()
	if err == nil {
		sl.conn = conn
	}
	close(sl.inflight)
	sl.inflight = nil
	sl.mu.Unlock()

	return conn, err
}

func (r *Registry) create(ctx context.Context, m domain.Mobile) (*ActiveConnection, error) {
	if r.maxConnections > 0 && r.count() >= r.maxConnections {
		return nil, domain.ErrLimitReached
	}

	cctx, cancel := context.WithTimeout(ctx, r.connectTimeout)
	defer cancel()

	client, err := r.factory(cctx, m)
	if err != nil {
		return nil, r.classifyAndExpire(ctx, m, err)
	}
	if err := client.Connect(cctx); err != nil {
		return nil, r.classifyAndExpire(ctx, m, err)
	}

	now := time.Now()
	return &ActiveConnection{
		Mobile:    m,
		Client:    client,
		CreatedAt: now,
		IsActive:  true,
	}, nil
}

// classifyAndExpire maps a factory/Connect failure into the closed
// connection-error sentinel set, mirroring tdlib's send-side classifyError.
// A permanent classification marks the account expired so RotationEngine
// selection stops retrying it.
func (r *Registry) classifyAndExpire(ctx context.Context, m domain.Mobile, err error) error {
	classified := classifyConnectError(err)
	if domain.IsAccountPermanentErr(classified) && r.accounts != nil {
		if merr := r.accounts.MarkExpired(ctx, func(candidate domain.Mobile) bool { return candidate == m }); merr != nil {
			r.log.Warn("registry: MarkExpired failed", "mobile", m, "error", merr)
		}
	}
	return classified
}

// classifyConnectError maps a raw factory/Connect error into the closed
// connection sentinel set declared in domain/errors.go.
func classifyConnectError(err error) error {
	msg := strings.ToUpper(err.Error())
	switch {
	case strings.Contains(msg, "USER_DEACTIVATED"):
		return domain.ErrUserDeactivated
	case strings.Contains(msg, "AUTH_KEY_UNREGISTERED"):
		return domain.ErrAuthKeyUnregistered
	case strings.Contains(msg, "SESSION_REVOKED"):
		return domain.ErrSessionRevoked
	case strings.Contains(msg, "PHONE_NUMBER_BANNED"):
		return domain.ErrPhoneBanned
	default:
		return domain.ErrTransport
	}
}

// Get is a non-creating lookup; returns nil if absent or disconnected.
func (r *Registry) Get(m domain.Mobile) ports.RemoteClient {
	sl := r.slotFor(m)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.conn == nil || !sl.conn.IsActive {
		return nil
	}
	return sl.conn.Client
}

// Release disconnects and evicts m's connection. Idempotent.
func (r *Registry) Release(m domain.Mobile) {
	sl := r.slotFor(m)

	sl.mu.Lock()
	conn := sl.conn
	if conn == nil {
		sl.mu.Unlock()
		return
	}
	conn.IsActive = false
	sl.conn = nil
	sl.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.disconnectTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- conn.Client.Disconnect(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			r.log.Warn("disconnect returned error", "mobile", m, "error", err)
		}
	case <-ctx.Done():
		r.log.Warn("disconnect timed out, forcing eviction", "mobile", m)
	}
}

// ReleaseAll evicts every connection in parallel, each bounded by the
// disconnect timeout.
func (r *Registry) ReleaseAll() {
	r.mu.Lock()
	mobiles := make([]domain.Mobile, 0, len(r.slots))
	for m := range r.slots {
		mobiles = append(mobiles, m)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, m := range mobiles {
		wg.Add(1)
		go func(m domain.Mobile) {
			defer wg.Done()
			r.Release(m)
		}(m)
	}
	wg.Wait()
}

// HealthMap returns, for every tracked mobile, whether it holds an active
// connection whose client reports itself connected.
func (r *Registry) HealthMap() map[domain.Mobile]bool {
	r.mu.Lock()
	mobiles := make([]domain.Mobile, 0, len(r.slots))
	for m := range r.slots {
		mobiles = append(mobiles, m)
	}
	r.mu.Unlock()

	out := make(map[domain.Mobile]bool, len(mobiles))
	for _, m := range mobiles {
		sl := r.slotFor(m)
		sl.mu.Lock()
		out[m] = sl.conn != nil && sl.conn.IsActive && sl.conn.Client.IsConnected()
		sl.mu.Unlock()
	}
	return out
}

// MarkUnhealthy evicts m through Release (disconnect bounded by the
// disconnect timeout), used by HealthChecker when the client is gone or
// broken.
func (r *Registry) MarkUnhealthy(m domain.Mobile) {
	r.Release(m)
}

// Snapshot exposes the ActiveConnection for m, for HealthChecker's
// lastHealthCheck/lastDeepProbe bookkeeping.
func (r *Registry) Snapshot(m domain.Mobile) (*ActiveConnection, bool) {
	sl := r.slotFor(m)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.conn == nil {
		return nil, false
	}
	cp := *sl.conn
	return &cp, true
}

// TouchHealthCheck updates LastHealthCheck (and, if deep, LastDeepProbe)
// for m's connection in place.
func (r *Registry) TouchHealthCheck(m domain.Mobile, deep bool, at time.Time) {
	sl := r.slotFor(m)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.conn == nil {
		return
	}
	sl.conn.LastHealthCheck = at
	if deep {
		sl.conn.LastDeepProbe = at
	}
}

// Mobiles lists every mobile the registry currently tracks a slot for
// (connected or not).
func (r *Registry) Mobiles() []domain.Mobile {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Mobile, 0, len(r.slots))
	for m := range r.slots {
		out = append(out, m)
	}
	return out
}
