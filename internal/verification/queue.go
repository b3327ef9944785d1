// Package verification implements a per-mobile FIFO of recently-sent
// messages that, after a fixed delay, are probed for survival and drive
// ChannelStore mutations on deletion.
package verification

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/tgpromoter/engine/internal/domain"
	"github.com/tgpromoter/engine/internal/ports"
)

const (
	defaultMaxQueueSize = 1000
)

type mobileQueue struct {
	mu    sync.Mutex
	items []domain.PendingVerification
}

// Queue holds independent per-mobile verification queues; push and drain
// are exclusive on a per-mobile basis.
type Queue struct {
	mu       sync.RWMutex
	queues   map[domain.Mobile]*mobileQueue
	maxSize  int
	delayMs  int64
	log      *slog.Logger
}

func New(maxSize int, delayMs int64, log *slog.Logger) *Queue {
	if maxSize <= 0 {
		maxSize = defaultMaxQueueSize
	}
	return &Queue{
		queues:  make(map[domain.Mobile]*mobileQueue),
		maxSize: maxSize,
		delayMs: delayMs,
		log:     log,
	}
}

func (q *Queue) queueFor(m domain.Mobile) *mobileQueue {
	q.mu.RLock()
	mq, ok := q.queues[m]
	q.mu.RUnlock()
	if ok {
		return mq
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if mq, ok = q.queues[m]; ok {
		return mq
	}
	mq = &mobileQueue{}
	q.queues[m] = mq
	return mq
}

// Push enqueues item, dropping the oldest 10% on overflow.
func (q *Queue) Push(m domain.Mobile, item domain.PendingVerification) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	mq := q.queueFor(m)
	mq.mu.Lock()
	defer mq.mu.Unlock()

	mq.items = append(mq.items, item)
	if len(mq.items) > q.maxSize {
		drop := q.maxSize / 10
		if drop < 1 {
			drop = 1
		}
		if drop > len(mq.items) {
			drop = len(mq.items)
		}
		mq.items = mq.items[drop:]
	}
}

// Len reports the current queue length for m (tests/diagnostics).
func (q *Queue) Len(m domain.Mobile) int {
	mq := q.queueFor(m)
	mq.mu.Lock()
	defer mq.mu.Unlock()
	return len(mq.items)
}

// Mobiles lists every mobile that has a queue, including mobiles whose
// queue is currently empty.
func (q *Queue) Mobiles() []domain.Mobile {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]domain.Mobile, 0, len(q.queues))
	for m := range q.queues {
		out = append(out, m)
	}
	return out
}

// Deps bundles the Drain-time collaborators.
type Deps struct {
	Client       ports.RemoteClient
	ChannelStore ports.ChannelStore
	Notifier     ports.Notifier
}

// Drain walks every mobile's queue, probing every entry whose age has
// crossed the verification delay. now is epoch millis.
func (q *Queue) Drain(ctx context.Context, now int64, depsFor func(domain.Mobile) (Deps, bool)) {
	for _, m := range q.Mobiles() {
		q.drainMobile(ctx, m, now, depsFor)
	}
}

func (q *Queue) drainMobile(ctx context.Context, m domain.Mobile, now int64, depsFor func(domain.Mobile) (Deps, bool)) {
	mq := q.queueFor(m)

	mq.mu.Lock()
	var due []domain.PendingVerification
	remaining := make([]domain.PendingVerification, 0, len(mq.items))
	for _, it := range mq.items {
		if now-it.Timestamp >= q.delayMs {
			due = append(due, it)
		} else {
			remaining = append(remaining, it)
		}
	}
	mq.items = remaining
	mq.mu.Unlock()

	if len(due) == 0 {
		return
	}

	deps, ok := depsFor(m)
	if !ok {
		q.log.Warn("verification drain: no deps for mobile, dropping batch", "mobile", m)
		return
	}

	for _, it := range due {
		q.verifyOne(ctx, m, it, now, deps)
	}
}

func (q *Queue) verifyOne(ctx context.Context, m domain.Mobile, it domain.PendingVerification, now int64, deps Deps) {
	msgs, err := deps.Client.GetMessages(ctx, it.ChannelID, it.MessageID-2)
	if err != nil {
		q.log.Warn("verification probe failed, dropping entry", "mobile", m, "channel", it.ChannelID, "verification_id", it.ID, "error", err)
		return
	}

	if len(msgs) > 0 && msgs[0].ID == it.MessageID {
		if err := deps.ChannelStore.Update(ctx, it.ChannelID, ports.ChannelPatch{LastMessageTime: &now}); err != nil {
			q.log.Warn("verification survived: refresh channel lastMessageTime failed", "mobile", m, "channel", it.ChannelID, "error", err)
		}
		return
	}

	q.handleDeletion(ctx, m, it, deps)
}

// handleDeletion implements the deletion policy: canary-variant
// failure bans the channel; any other variant loss just shrinks
// AvailableMsgs.
func (q *Queue) handleDeletion(ctx context.Context, m domain.Mobile, it domain.PendingVerification, deps Deps) {
	ch, err := deps.ChannelStore.FindOne(ctx, it.ChannelID)
	if err != nil || ch == nil {
		q.log.Warn("verification deletion: channel lookup failed", "mobile", m, "channel", it.ChannelID, "error", err)
		return
	}

	remaining := domain.RemoveVariant(ch.AvailableMsgs, it.VariantIndex)

	if it.VariantIndex == domain.FallbackVariant && len(remaining) == 0 {
		banned := true
		if err := deps.ChannelStore.Update(ctx, it.ChannelID, ports.ChannelPatch{Banned: &banned}); err != nil {
			q.log.Error("mark channel banned failed", "channel", it.ChannelID, "error", err)
			return
		}
		if deps.Notifier != nil {
			deps.Notifier.Notify(ctx, ports.NotifyEvent{
				Kind:      ports.EventChannelBanned,
				Mobile:    m,
				ChannelID: it.ChannelID,
				Detail:    "canary variant deleted with no remaining variants",
			})
		}
		return
	}

	if err := deps.ChannelStore.RemoveFromAvailableMsgs(ctx, it.ChannelID, it.VariantIndex); err != nil {
		q.log.Error("remove variant failed", "channel", it.ChannelID, "variant", it.VariantIndex, "error", err)
		return
	}
	if deps.Notifier != nil {
		deps.Notifier.Notify(ctx, ports.NotifyEvent{
			Kind:      ports.EventVariantRemoved,
			Mobile:    m,
			ChannelID: it.ChannelID,
			Detail:    it.VariantIndex,
		})
	}
}
