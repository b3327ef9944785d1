// Package rotation implements RotationEngine: maintains the
// available-mobile pool and the bounded active subset, and on jittered
// intervals selects a new active subset and issues connect/disconnect
// deltas to ClientRegistry.
package rotation

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tgpromoter/engine/internal/domain"
	"github.com/tgpromoter/engine/internal/randutil"
	"github.com/tgpromoter/engine/internal/registry"
)

// HistoryEntry is one retained rotation decision, tagged with a correlation
// id so an operator can grep one rotation's registry connect/disconnect log
// lines.
type HistoryEntry struct {
	ID        string
	Timestamp time.Time
	Selected  []domain.Mobile
}

// CandidatePool supplies the universe of mobiles eligible for rotation:
// active is always a subset of available, which is always a subset of
// what this pool returns.
type CandidatePool func(ctx context.Context) []domain.Mobile

// Engine is the RotationEngine.
type Engine struct {
	reg           *registry.Registry
	log           *slog.Logger
	candidatePool CandidatePool

	activeSlots     int
	baseInterval    time.Duration
	minInterval     time.Duration
	maxInterval     time.Duration
	jitterPct       float64
	maxHistory      int

	rng   *rand.Rand
	rngMu sync.Mutex

	mu        sync.Mutex
	available []domain.Mobile
	active    []domain.Mobile
	history   []HistoryEntry

	timer *time.Timer
}

func New(reg *registry.Registry, log *slog.Logger, candidatePool CandidatePool, activeSlots int, base, min, max time.Duration, jitterPct float64, maxHistory int, rng *rand.Rand) *Engine {
	return &Engine{
		reg:           reg,
		log:           log,
		candidatePool: candidatePool,
		activeSlots:   activeSlots,
		baseInterval:  base,
		minInterval:   min,
		maxInterval:   max,
		jitterPct:     jitterPct,
		maxHistory:    maxHistory,
		rng:           rng,
	}
}

// Initialize seeds the available pool from the candidate pool and picks the
// initial active subset. It schedules nothing; later rotations are driven
// by Run.
func (e *Engine) Initialize(ctx context.Context) {
	pool := e.candidatePool(ctx)

	e.mu.Lock()
	e.available = pool
	e.mu.Unlock()

	e.rotateLocked(ctx)
}

// Run schedules rotations until ctx is cancelled. Jittered interval is
// recomputed after every rotation.
func (e *Engine) Run(ctx context.Context) {
	for {
		d := e.nextInterval()
		timer := time.NewTimer(d)

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			e.Rotate(ctx)
		}
	}
}

func (e *Engine) nextInterval() time.Duration {
	e.rngMu.Lock()
	jitter := 1 + e.jitterPct*(2*e.rng.Float64()-1)
	e.rngMu.Unlock()

	d := time.Duration(float64(e.baseInterval) * jitter)
	if d < e.minInterval {
		d = e.minInterval
	}
	if d > e.maxInterval {
		d = e.maxInterval
	}
	return d
}

// Rotate picks a new active subset and issues release-then-acquire deltas.
func (e *Engine) Rotate(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rotateLocked(ctx)
}

func (e *Engine) rotateLocked(ctx context.Context) {
	newActive := e.selectActiveLocked()
	oldActive := e.active

	oldSet := toSet(oldActive)
	newSet := toSet(newActive)

	var toRemove, toAdd []domain.Mobile
	for _, m := range oldActive {
		if !newSet[m] {
			toRemove = append(toRemove, m)
		}
	}
	for _, m := range newActive {
		if !oldSet[m] {
			toAdd = append(toAdd, m)
		}
	}

	for _, m := range toRemove {
		e.reg.Release(m)
	}
	for _, m := range toAdd {
		if _, err := e.reg.Acquire(ctx, m); err != nil {
			e.log.Warn("rotation: acquire failed", "mobile", m, "error", err)
		}
	}

	e.active = newActive
	e.recordHistoryLocked(newActive)
}

func (e *Engine) selectActiveLocked() []domain.Mobile {
	pool := append([]domain.Mobile(nil), e.available...)

	e.rngMu.Lock()
	randutil.Shuffle(e.rng, len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	e.rngMu.Unlock()

	n := e.activeSlots
	if n > len(pool) {
		n = len(pool)
	}
	return pool[:n]
}

func (e *Engine) recordHistoryLocked(selected []domain.Mobile) {
	entry := HistoryEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Selected:  append([]domain.Mobile(nil), selected...),
	}
	e.history = append(e.history, entry)
	if len(e.history) > e.maxHistory {
		e.history = e.history[len(e.history)-e.maxHistory:]
	}
}

// RefreshAvailable recomputes available as the intersection of the
// candidate pool and the registry's healthy mobiles, dropping any mobile
// that left available from active.
func (e *Engine) RefreshAvailable(ctx context.Context) {
	candidates := e.candidatePool(ctx)
	healthMap := e.reg.HealthMap()

	healthySet := make(map[domain.Mobile]bool, len(healthMap))
	for m, ok := range healthMap {
		if ok {
			healthySet[m] = true
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var newAvailable []domain.Mobile
	for _, m := range candidates {
		// A mobile with no registry entry at all has never been probed;
		// still eligible to be drawn into available, within one rotation
		// tick of establishing a connection.
		if _, tracked := healthMap[m]; !tracked || healthySet[m] {
			newAvailable = append(newAvailable, m)
		}
	}
	e.available = newAvailable

	availSet := toSet(newAvailable)
	var stillActive []domain.Mobile
	for _, m := range e.active {
		if availSet[m] {
			stillActive = append(stillActive, m)
		}
	}
	e.active = stillActive
}

func toSet(ms []domain.Mobile) map[domain.Mobile]bool {
	out := make(map[domain.Mobile]bool, len(ms))
	for _, m := range ms {
		out[m] = true
	}
	return out
}

// CurrentActive returns a copy of the active set.
func (e *Engine) CurrentActive() []domain.Mobile {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.Mobile(nil), e.active...)
}

// Available returns a copy of the available pool.
func (e *Engine) Available() []domain.Mobile {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.Mobile(nil), e.available...)
}

// Status is a diagnostic snapshot.
type Status struct {
	ActiveCount    int
	AvailableCount int
	LastRotation   time.Time
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	var last time.Time
	if len(e.history) > 0 {
		last = e.history[len(e.history)-1].Timestamp
	}
	return Status{
		ActiveCount:    len(e.active),
		AvailableCount: len(e.available),
		LastRotation:   last,
	}
}

// Patterns returns the retained rotation history.
func (e *Engine) Patterns() []HistoryEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]HistoryEntry(nil), e.history...)
}
