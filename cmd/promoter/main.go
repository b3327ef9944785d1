package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tgpromoter/engine/internal/adapters/jsonstore"
	"github.com/tgpromoter/engine/internal/adapters/redischannels"
	"github.com/tgpromoter/engine/internal/adapters/tdlib"
	"github.com/tgpromoter/engine/internal/adapters/webhook"
	"github.com/tgpromoter/engine/internal/config"
	"github.com/tgpromoter/engine/internal/domain"
	"github.com/tgpromoter/engine/internal/health"
	"github.com/tgpromoter/engine/internal/persistence"
	"github.com/tgpromoter/engine/internal/ports"
	"github.com/tgpromoter/engine/internal/registry"
	"github.com/tgpromoter/engine/internal/rotation"
	"github.com/tgpromoter/engine/internal/scheduler"
	"github.com/tgpromoter/engine/internal/session"
	"github.com/tgpromoter/engine/internal/verification"
)

const (
	envDev  = "dev"
	envProd = "prod"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := setupLogger(cfg.Env)
	eng := cfg.Engine

	accounts := jsonstore.NewAccountStore(filepath.Join(cfg.BaseDir, "accounts"))
	templates := jsonstore.NewTemplateStore(filepath.Join(cfg.BaseDir, "templates.json"))

	var channels ports.ChannelStore = jsonstore.NewChannelStore(filepath.Join(cfg.BaseDir, "channels"))
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		channels = redischannels.New(channels, rdb, cfg.RedisTTL, logger)
		logger.Info("redis channel cache enabled", "addr", cfg.RedisAddr)
	}

	notifier := webhook.New(cfg.WebhookURL, logger)

	sessions := session.New(session.WallClock, rand.New(rand.NewSource(time.Now().UnixNano())))
	queue := verification.New(eng.MaxQueueSize, eng.MessageCheckDelay.Milliseconds(), logger)

	factory := func(ctx context.Context, m domain.Mobile) (ports.RemoteClient, error) {
		params := tdlib.SessionParams{
			Mobile:  m,
			Phone:   string(m), // PromoteMobile entries are phone numbers
			ApiID:   cfg.ApiID,
			ApiHash: cfg.ApiHash,
			BaseDir: filepath.Join(cfg.BaseDir, "tdlib-sessions"),
		}
		return tdlib.New(params, logger.With("mobile", m)), nil
	}

	reg := registry.New(factory, accounts, logger, eng.ConnectionTimeout, eng.DisconnectTimeout, eng.MaxConcurrentConnections)

	candidatePool := func(ctx context.Context) []domain.Mobile {
		records, err := accounts.GetActiveClients(ctx)
		if err != nil {
			logger.Warn("candidate pool: GetActiveClients failed", "error", err)
			return nil
		}
		var out []domain.Mobile
		for _, rec := range records {
			for _, m := range rec.PromoteMobile {
				sessions.SetDaysLeft(m, rec.DaysLeft)
				out = append(out, m)
			}
		}
		return out
	}

	rotEngine := rotation.New(
		reg, logger, candidatePool,
		eng.ActiveSlots, eng.RotationInterval, eng.MinRotationInterval, eng.MaxRotationInterval,
		eng.RotationJitterPercentage, eng.MaxRotationHistory,
		rand.New(rand.NewSource(time.Now().UnixNano())),
	)

	healthChecker := health.New(reg, logger, eng.HealthCheckInterval, eng.ConnectionTimeout, eng.DeepProbeInterval, rotEngine)

	var bannedFetcher func(ctx context.Context) ([]domain.ChannelID, error)
	if cfg.BannedChannelsURL != "" {
		bannedFetcher = remoteBannedChannelsFetcher(cfg.BannedChannelsURL)
	}

	sched := scheduler.New(
		reg, sessions, queue, rotEngine,
		channels, templates, notifier, accounts,
		bannedFetcher,
		logger,
		scheduler.Config{
			PromotionInterval: eng.PromotionInterval,
			BatchSize:         eng.PromotionBatchSize,
			StartStagger:      eng.StartStagger,
			DeepProbeInterval: eng.DeepProbeInterval,
			ExpiringIdleGap:   12 * time.Minute,
			ActiveIdleGap:     3 * time.Minute,
			BannedWindow:      eng.BannedForMobileWindow,
			ConnectTimeout:    eng.ConnectionTimeout,
		},
		rand.New(rand.NewSource(time.Now().UnixNano())),
	)

	store := persistence.New(cfg.BaseDir, logger)
	autosaver := persistence.NewAutoSaver(store, sessions, logger, eng.AutoSaveInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	bootstrap(ctx, accounts, templates, sessions, store, logger)

	rotEngine.Initialize(ctx)

	go rotEngine.Run(ctx)
	go healthChecker.Run(ctx)
	go sched.Run(ctx)
	go autosaver.Run(ctx)

	<-sigCh
	logger.Info("shutdown signal received")
	cancel()

	reg.ReleaseAll()
	autosaver.Flush(eng.ShutdownFlushTimeout)

	logger.Info("exit")
}

// bootstrap seeds session state for every currently-known mobile: loads
// persisted snapshots and the shared template catalog.
func bootstrap(ctx context.Context, accounts ports.AccountStore, templates ports.TemplateStore, sessions *session.Store, store *persistence.Store, logger *slog.Logger) {
	records, err := accounts.GetActiveClients(ctx)
	if err != nil {
		logger.Warn("bootstrap: GetActiveClients failed", "error", err)
		return
	}

	msgs, err := templates.FindOne(ctx)
	if err != nil {
		logger.Warn("bootstrap: TemplateStore.FindOne failed", "error", err)
		msgs = map[string]string{}
	}

	var mobiles []domain.Mobile
	for _, rec := range records {
		for _, m := range rec.PromoteMobile {
			mobiles = append(mobiles, m)
			sessions.SetPromoteMsgs(m, msgs)
			sessions.SetDaysLeft(m, rec.DaysLeft)
		}
	}

	persistence.LoadAll(store, sessions, mobiles)
}

// remoteBannedChannelsFetcher fetches a remotely maintained list of banned
// channel IDs from a JSON array endpoint.
func remoteBannedChannelsFetcher(url string) func(ctx context.Context) ([]domain.ChannelID, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	return func(ctx context.Context) ([]domain.ChannelID, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("new request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch banned channels: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("banned channels: status %d", resp.StatusCode)
		}

		var ids []domain.ChannelID
		if err := json.NewDecoder(resp.Body).Decode(&ids); err != nil {
			return nil, fmt.Errorf("decode banned channels: %w", err)
		}
		return ids, nil
	}
}

func setupLogger(env string) *slog.Logger {
	var logger *slog.Logger

	switch env {
	case envProd:
		logger = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	case envDev:
		fallthrough
	default:
		logger = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	}

	return logger
}
