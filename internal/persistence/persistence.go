// Package persistence snapshots and restores SessionState to per-mobile
// JSON files, with periodic autosave and a best-effort shutdown flush.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tgpromoter/engine/internal/domain"
	"github.com/tgpromoter/engine/internal/session"
)

// Store handles reading and writing per-mobile snapshot files under
// baseDir.
type Store struct {
	baseDir string
	log     *slog.Logger
}

func New(baseDir string, log *slog.Logger) *Store {
	return &Store{baseDir: baseDir, log: log}
}

func (s *Store) pathFor(m domain.Mobile) string {
	return filepath.Join(s.baseDir, fmt.Sprintf("mobileStats-%s.json", m))
}

// Save writes st's snapshot to disk, pretty-printed.
func (s *Store) Save(m domain.Mobile, st domain.SessionState, now time.Time) error {
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", s.baseDir, err)
	}

	snap := domain.StateSnapshot{
		MobileStats: domain.MobileStatsSnapshot{
			MessageCount:    st.MessageCount,
			SuccessCount:    st.SuccessCount,
			FailedCount:     st.FailedCount,
			DaysLeft:        st.DaysLeft,
			LastCheckedTime: st.LastCheckedTime,
			SleepTime:       st.SleepTime,
			ReleaseTime:     st.ReleaseTime,
			LastMessageTime: st.LastMessageTime,
			Converted:       st.Converted,
		},
		PromotionResults: st.PromotionResults,
		SavedAt:          now.UTC().Format(time.RFC3339),
		Version:          domain.SnapshotVersion,
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot for %s: %w", m, err)
	}

	path := s.pathFor(m)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

// Load reads m's snapshot. A missing file is normal (first run): it
// returns (nil, nil). A parse error is logged and treated as missing.
func (s *Store) Load(m domain.Mobile) (*domain.StateSnapshot, error) {
	data, err := os.ReadFile(s.pathFor(m))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", s.pathFor(m), err)
	}

	var snap domain.StateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.log.Warn("persistence: snapshot parse error, treating as missing", "mobile", m, "error", err)
		return nil, nil
	}
	return &snap, nil
}

// AutoSaver drives periodic snapshotting of every mobile in a
// session.Store, plus a bounded shutdown flush.
type AutoSaver struct {
	store    *Store
	sessions *session.Store
	log      *slog.Logger
	interval time.Duration
}

func NewAutoSaver(store *Store, sessions *session.Store, log *slog.Logger, interval time.Duration) *AutoSaver {
	return &AutoSaver{store: store, sessions: sessions, log: log, interval: interval}
}

// Run saves every tracked mobile's state every interval, in parallel,
// until ctx is cancelled.
func (a *AutoSaver) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.saveAll(context.Background())
		}
	}
}

func (a *AutoSaver) saveAll(ctx context.Context) {
	mobiles := a.sessions.Mobiles()
	var wg sync.WaitGroup
	now := time.Now()
	for _, m := range mobiles {
		wg.Add(1)
		go func(m domain.Mobile) {
			defer wg.Done()
			snap := a.sessions.Snapshot(m)
			if err := a.store.Save(m, snap, now); err != nil {
				a.log.Warn("autosave failed", "mobile", m, "error", err)
			}
		}(m)
	}
	wg.Wait()
}

// Flush runs one final parallel save of every mobile, bounded by timeout,
// used on shutdown.
func (a *AutoSaver) Flush(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		a.saveAll(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		a.log.Warn("shutdown flush timed out", "timeout", timeout)
	}
}

// LoadAll restores the on-disk snapshot of each of the given mobiles into
// sessions, skipping mobiles without one; used at startup.
func LoadAll(store *Store, sessions *session.Store, mobiles []domain.Mobile) {
	for _, m := range mobiles {
		snap, err := store.Load(m)
		if err != nil || snap == nil {
			continue
		}
		sessions.Restore(m, snap.MobileStats, snap.PromotionResults)
	}
}
