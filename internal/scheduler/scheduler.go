// Package scheduler implements PromotionScheduler: a
// fixed-interval global tick that selects healthy sessions, picks the
// next channel for each, composes and sends a message, and records the
// outcome.
package scheduler

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/tgpromoter/engine/internal/domain"
	"github.com/tgpromoter/engine/internal/ports"
	"github.com/tgpromoter/engine/internal/registry"
	"github.com/tgpromoter/engine/internal/session"
	"github.com/tgpromoter/engine/internal/verification"
)

// ActiveLister supplies the mobiles currently eligible to be scheduled
// (rotation.Engine.CurrentActive).
type ActiveLister interface {
	CurrentActive() []domain.Mobile
}

// Scheduler is the PromotionScheduler.
type Scheduler struct {
	reg      *registry.Registry
	sessions *session.Store
	queue    *verification.Queue
	active   ActiveLister

	channels  ports.ChannelStore
	templates ports.TemplateStore
	notifier  ports.Notifier
	accounts  ports.AccountStore

	bannedChannelsFetcher func(ctx context.Context) ([]domain.ChannelID, error)

	log *slog.Logger
	cfg Config

	rng   *rand.Rand
	rngMu sync.Mutex
}

func New(
	reg *registry.Registry,
	sessions *session.Store,
	queue *verification.Queue,
	active ActiveLister,
	channels ports.ChannelStore,
	templates ports.TemplateStore,
	notifier ports.Notifier,
	accounts ports.AccountStore,
	bannedChannelsFetcher func(ctx context.Context) ([]domain.ChannelID, error),
	log *slog.Logger,
	cfg Config,
	rng *rand.Rand,
) *Scheduler {
	return &Scheduler{
		reg:                   reg,
		sessions:              sessions,
		queue:                 queue,
		active:                active,
		channels:              channels,
		templates:             templates,
		notifier:              notifier,
		accounts:              accounts,
		bannedChannelsFetcher: bannedChannelsFetcher,
		log:                   log,
		cfg:                   cfg,
		rng:                   rng,
	}
}

// Run drives the global promotion tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PromotionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs exactly one global promotion tick.
func (s *Scheduler) Tick(ctx context.Context) {
	now := nowMillis()

	healthy := s.healthyMobiles(now)
	s.runBatches(ctx, healthy)

	s.queue.Drain(ctx, now, s.verificationDeps)
}

func (s *Scheduler) healthyMobiles(now int64) []domain.Mobile {
	var out []domain.Mobile
	for _, m := range s.active.CurrentActive() {
		if s.sessions.IsHealthy(m, now, s.cfg.ExpiringIdleGap.Milliseconds(), s.cfg.ActiveIdleGap.Milliseconds()) {
			out = append(out, m)
		}
	}
	return out
}

// runBatches partitions mobiles into batches of up to BatchSize, running
// each batch concurrently with a small per-mobile start stagger.
func (s *Scheduler) runBatches(ctx context.Context, mobiles []domain.Mobile) {
	batchSize := s.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}

	for i := 0; i < len(mobiles); i += batchSize {
		end := i + batchSize
		if end > len(mobiles) {
			end = len(mobiles)
		}
		batch := mobiles[i:end]

		var wg sync.WaitGroup
		for _, m := range batch {
			wg.Add(1)
			go func(m domain.Mobile) {
				defer wg.Done()
				if d := s.stagger(); d > 0 {
					select {
					case <-time.After(d):
					case <-ctx.Done():
						return
					}
				}
				s.stepOne(ctx, m)
			}(m)
		}
		wg.Wait()
	}
}

// stagger returns a random delay in [0, StartStagger] to decorrelate API
// access across a batch.
func (s *Scheduler) stagger() time.Duration {
	if s.cfg.StartStagger <= 0 {
		return 0
	}
	s.rngMu.Lock()
	frac := s.rng.Float64()
	s.rngMu.Unlock()
	return time.Duration(frac * float64(s.cfg.StartStagger))
}

func nowMillis() int64 { return time.Now().UnixMilli() }
