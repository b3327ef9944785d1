package ports

import (
	"context"

	"github.com/tgpromoter/engine/internal/domain"
)

// ChannelStore owns persistent channel metadata. The core
// consumes and mutates it; it never owns storage itself.
type ChannelStore interface {
	FindOne(ctx context.Context, id domain.ChannelID) (*domain.Channel, error)
	Update(ctx context.Context, id domain.ChannelID, patch ChannelPatch) error
	RemoveFromAvailableMsgs(ctx context.Context, id domain.ChannelID, variantIndex string) error
	ActiveChannels(ctx context.Context, limit, skip int, excludeIDs []domain.ChannelID) ([]domain.Channel, error)
	// Upsert writes back channel metadata discovered fresh from transport
	// on a cache-through miss.
	Upsert(ctx context.Context, channel domain.Channel) error
}

// ChannelPatch is a partial update to channel metadata. Nil fields are
// left untouched.
type ChannelPatch struct {
	Banned          *bool
	LastMessageTime *int64
	Title           *string
	Username        *string
}

// TemplateStore exposes the promotional message catalog.
type TemplateStore interface {
	// FindOne returns the full variantIndex -> template mapping.
	FindOne(ctx context.Context) (map[string]string, error)
}

// AccountRecord is one entry from AccountStore.getActiveClients().
type AccountRecord struct {
	ClientID      string
	PromoteMobile []domain.Mobile
	DaysLeft      int // open question resolution: real daysLeft source
}

// AccountStore owns account/session records external to the core.
type AccountStore interface {
	GetActiveClients(ctx context.Context) ([]AccountRecord, error)
	// MarkExpired marks every mobile for which predicate returns true as
	// expired, so RotationEngine selection stops offering it.
	MarkExpired(ctx context.Context, predicate func(domain.Mobile) bool) error
}

// Notifier is an optional fire-and-forget outbound alert webhook.
type Notifier interface {
	Notify(ctx context.Context, event NotifyEvent)
}

// NotifyEvent is one of the notification kinds the core fires.
type NotifyEvent struct {
	Kind      string // "channel_banned", "variant_removed", "bypass_403", "retry_exhausted"
	Mobile    domain.Mobile
	ChannelID domain.ChannelID
	Detail    string
}

const (
	EventChannelBanned   = "channel_banned"
	EventVariantRemoved  = "variant_removed"
	EventBypass403       = "bypass_403"
	EventRetryExhausted  = "retry_exhausted"
)
