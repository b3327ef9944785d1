package scheduler

import "time"

// Config bundles the tunables this package consumes directly.
type Config struct {
	PromotionInterval time.Duration
	BatchSize         int
	StartStagger      time.Duration
	DeepProbeInterval time.Duration
	ExpiringIdleGap   time.Duration // 12 min, daysLeft < 1
	ActiveIdleGap     time.Duration // 3 min, daysLeft > 0
	BannedWindow      time.Duration // 3 days
	ConnectTimeout    time.Duration
}
