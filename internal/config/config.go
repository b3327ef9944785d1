package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// EngineConfig holds every runtime tunable for the rotation, scheduling,
// and health-check loops.
type EngineConfig struct {
	ActiveSlots               int           `yaml:"active_slots" env:"PROMOTER_ACTIVE_SLOTS" env-default:"4"`
	RotationInterval          time.Duration `yaml:"rotation_interval" env:"PROMOTER_ROTATION_INTERVAL" env-default:"4h"`
	MinRotationInterval       time.Duration `yaml:"min_rotation_interval" env:"PROMOTER_MIN_ROTATION_INTERVAL" env-default:"3h"`
	MaxRotationInterval       time.Duration `yaml:"max_rotation_interval" env:"PROMOTER_MAX_ROTATION_INTERVAL" env-default:"6h"`
	RotationJitterPercentage  float64       `yaml:"rotation_jitter_percentage" env:"PROMOTER_ROTATION_JITTER_PERCENTAGE" env-default:"0.30"`
	HealthCheckInterval       time.Duration `yaml:"health_check_interval" env:"PROMOTER_HEALTH_CHECK_INTERVAL" env-default:"5m"`
	ConnectionTimeout         time.Duration `yaml:"connection_timeout" env:"PROMOTER_CONNECTION_TIMEOUT" env-default:"30s"`
	DisconnectTimeout         time.Duration `yaml:"disconnect_timeout" env:"PROMOTER_DISCONNECT_TIMEOUT" env-default:"5s"`
	PromotionInterval         time.Duration `yaml:"promotion_interval" env:"PROMOTER_PROMOTION_INTERVAL" env-default:"5s"`
	MessageCheckDelay         time.Duration `yaml:"message_check_delay" env:"PROMOTER_MESSAGE_CHECK_DELAY" env-default:"10s"`
	MaxQueueSize              int           `yaml:"max_queue_size" env:"PROMOTER_MAX_QUEUE_SIZE" env-default:"1000"`
	MaxResultsSize            int           `yaml:"max_results_size" env:"PROMOTER_MAX_RESULTS_SIZE" env-default:"5000"`
	AutoSaveInterval          time.Duration `yaml:"auto_save_interval" env:"PROMOTER_AUTO_SAVE_INTERVAL" env-default:"5m"`
	MaxConcurrentConnections  int           `yaml:"max_concurrent_connections" env:"PROMOTER_MAX_CONCURRENT_CONNECTIONS" env-default:"100"`
	MaxRotationHistory        int           `yaml:"max_rotation_history" env:"PROMOTER_MAX_ROTATION_HISTORY" env-default:"50"`
	DeepProbeInterval         time.Duration `yaml:"deep_probe_interval" env:"PROMOTER_DEEP_PROBE_INTERVAL" env-default:"2h"`
	BannedForMobileWindow     time.Duration `yaml:"banned_for_mobile_window" env:"PROMOTER_BANNED_FOR_MOBILE_WINDOW" env-default:"72h"`
	PromotionBatchSize        int           `yaml:"promotion_batch_size" env:"PROMOTER_PROMOTION_BATCH_SIZE" env-default:"3"`
	StartStagger              time.Duration `yaml:"start_stagger" env:"PROMOTER_START_STAGGER" env-default:"500ms"`
	StateTTL                  time.Duration `yaml:"state_ttl" env:"PROMOTER_STATE_TTL" env-default:"72h"`
	ShutdownFlushTimeout      time.Duration `yaml:"shutdown_flush_timeout" env:"PROMOTER_SHUTDOWN_FLUSH_TIMEOUT" env-default:"60s"`
}

// AppConfig is the top-level configuration, loaded via cleanenv from a YAML
// file with environment-variable fallback for every field.
type AppConfig struct {
	Env     string `yaml:"env" env:"ENV" env-default:"dev"`
	BaseDir string `yaml:"base_dir" env:"PROMOTER_BASE_DIR" env-default:"./data"`

	ApiID   int32  `env:"TELEGRAM_API_ID"`
	ApiHash string `env:"TELEGRAM_API_HASH"`

	RedisAddr string `yaml:"redis_addr" env:"PROMOTER_REDIS_ADDR" env-default:""`
	RedisTTL  time.Duration `yaml:"redis_ttl" env:"PROMOTER_REDIS_TTL" env-default:"10m"`

	WebhookURL string `yaml:"webhook_url" env:"PROMOTER_WEBHOOK_URL" env-default:""`

	BannedChannelsURL string `yaml:"banned_channels_url" env:"PROMOTER_BANNED_CHANNELS_URL" env-default:""`

	Engine EngineConfig `yaml:"engine"`
}

// Load resolves a config file path from a -config flag, falling back to the
// CONFIG_PATH env var, and reads it through cleanenv.ReadConfig. When
// neither names a file, it reads the environment through cleanenv.ReadEnv.
func Load() (*AppConfig, error) {
	var cfg AppConfig

	path := fetchConfigPath()
	if path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}

	if cfg.ApiID == 0 || cfg.ApiHash == "" || cfg.BaseDir == "" {
		return nil, fmt.Errorf("TELEGRAM_API_ID, TELEGRAM_API_HASH and base_dir must be set")
	}

	return &cfg, nil
}

// fetchConfigPath fetches the config path from a command-line flag or
// environment variable. Priority: flag > env > default (empty).
func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}
	return res
}
