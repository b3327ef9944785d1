// Package session implements SessionState: the per-mobile
// in-memory record of counters, cooldowns, channel cursor, and per-channel
// outcome history, plus the derived "healthy for scheduling" predicate.
package session

import (
	"math/rand"
	"sync"
	"time"

	"github.com/tgpromoter/engine/internal/domain"
)

// Clock abstracts time.Now for deterministic tests.
type Clock func() int64

func WallClock() int64 { return time.Now().UnixMilli() }

type entry struct {
	mu    sync.Mutex
	state *domain.SessionState
}

// Store is the mobilePromotionStates map.
// Per-mobile mutations are serialized through entry.mu; reads of other
// mobiles proceed concurrently.
type Store struct {
	mu      sync.RWMutex
	entries map[domain.Mobile]*entry
	clock   Clock
	rng     *rand.Rand
	rngMu   sync.Mutex
}

func New(clock Clock, rng *rand.Rand) *Store {
	if clock == nil {
		clock = WallClock
	}
	return &Store{
		entries: make(map[domain.Mobile]*entry),
		clock:   clock,
		rng:     rng,
	}
}

// ensure returns the entry for m, creating a fresh SessionState if needed.
func (s *Store) ensure(m domain.Mobile) *entry {
	s.mu.RLock()
	e, ok := s.entries[m]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[m]; ok {
		return e
	}
	e = &entry{state: domain.NewSessionState(m)}
	s.entries[m] = e
	return e
}

// with runs fn on m's state while holding m's entry lock, creating the
// entry first if needed. Every read and mutation in this package goes
// through it.
func (s *Store) with(m domain.Mobile, fn func(*domain.SessionState)) {
	e := s.ensure(m)
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.state)
}

// Purge removes a mobile's session state entirely.
func (s *Store) Purge(m domain.Mobile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, m)
}

// Snapshot returns a best-effort read-only copy of the state for
// persistence or diagnostics.
func (s *Store) Snapshot(m domain.Mobile) domain.SessionState {
	var out domain.SessionState
	s.with(m, func(st *domain.SessionState) {
		out = *st
		out.Channels = append([]domain.ChannelID(nil), st.Channels...)
		out.PromotionResults = cloneResults(st.PromotionResults)
		out.PromoteMsgs = clonePromoteMsgs(st.PromoteMsgs)
	})
	return out
}

// Restore overwrites a mobile's counters/results from a persisted
// snapshot.
func (s *Store) Restore(m domain.Mobile, stats domain.MobileStatsSnapshot, results map[domain.ChannelID]domain.PromotionOutcome) {
	s.with(m, func(st *domain.SessionState) {
		st.MessageCount = stats.MessageCount
		st.SuccessCount = stats.SuccessCount
		st.FailedCount = stats.FailedCount
		st.DaysLeft = stats.DaysLeft
		st.LastCheckedTime = stats.LastCheckedTime
		st.SleepTime = stats.SleepTime
		st.ReleaseTime = stats.ReleaseTime
		st.LastMessageTime = stats.LastMessageTime
		st.Converted = stats.Converted
		st.PromotionResults = cloneResults(results)
	})
}

func cloneResults(in map[domain.ChannelID]domain.PromotionOutcome) map[domain.ChannelID]domain.PromotionOutcome {
	out := make(map[domain.ChannelID]domain.PromotionOutcome, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func clonePromoteMsgs(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Mobiles lists every mobile currently tracked.
func (s *Store) Mobiles() []domain.Mobile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Mobile, 0, len(s.entries))
	for m := range s.entries {
		out = append(out, m)
	}
	return out
}
