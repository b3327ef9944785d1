// Package redischannels decorates a ports.ChannelStore with a Redis
// read-through cache on the channel-lookup hot path exercised by every
// promotion tick.
package redischannels

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tgpromoter/engine/internal/domain"
	"github.com/tgpromoter/engine/internal/ports"
)

// Store wraps a backing ports.ChannelStore with a Redis cache, keyed by
// normalized channel id. Reads check the cache first. Update and
// RemoveFromAvailableMsgs write to the backing store then invalidate the
// cache entry, so stale data never outlives a partial mutation; Upsert
// writes the full channel to the backing store then populates the cache
// with it.
type Store struct {
	backing ports.ChannelStore
	rdb     *redis.Client
	ttl     time.Duration
	log     *slog.Logger
}

func New(backing ports.ChannelStore, rdb *redis.Client, ttl time.Duration, log *slog.Logger) *Store {
	return &Store{backing: backing, rdb: rdb, ttl: ttl, log: log}
}

func (s *Store) key(id domain.ChannelID) string {
	return fmt.Sprintf("channel:%s", domain.NormalizeChannelID(string(id)))
}

func (s *Store) FindOne(ctx context.Context, id domain.ChannelID) (*domain.Channel, error) {
	cached, err := s.rdb.Get(ctx, s.key(id)).Bytes()
	if err == nil {
		var ch domain.Channel
		if jsonErr := json.Unmarshal(cached, &ch); jsonErr == nil {
			return &ch, nil
		}
	} else if err != redis.Nil {
		s.log.Warn("redischannels: cache read failed, falling through", "channel_id", id, "error", err)
	}

	ch, err := s.backing.FindOne(ctx, id)
	if err != nil || ch == nil {
		return ch, err
	}
	s.populate(ctx, *ch)
	return ch, nil
}

func (s *Store) populate(ctx context.Context, ch domain.Channel) {
	data, err := json.Marshal(ch)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, s.key(ch.ChannelID), data, s.ttl).Err(); err != nil {
		s.log.Warn("redischannels: cache populate failed", "channel_id", ch.ChannelID, "error", err)
	}
}

func (s *Store) invalidate(ctx context.Context, id domain.ChannelID) {
	if err := s.rdb.Del(ctx, s.key(id)).Err(); err != nil {
		s.log.Warn("redischannels: cache invalidate failed", "channel_id", id, "error", err)
	}
}

func (s *Store) Update(ctx context.Context, id domain.ChannelID, patch ports.ChannelPatch) error {
	if err := s.backing.Update(ctx, id, patch); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	return nil
}

func (s *Store) RemoveFromAvailableMsgs(ctx context.Context, id domain.ChannelID, variantIndex string) error {
	if err := s.backing.RemoveFromAvailableMsgs(ctx, id, variantIndex); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	return nil
}

func (s *Store) ActiveChannels(ctx context.Context, limit, skip int, excludeIDs []domain.ChannelID) ([]domain.Channel, error) {
	return s.backing.ActiveChannels(ctx, limit, skip, excludeIDs)
}

func (s *Store) Upsert(ctx context.Context, channel domain.Channel) error {
	if err := s.backing.Upsert(ctx, channel); err != nil {
		return err
	}
	s.populate(ctx, channel)
	return nil
}
