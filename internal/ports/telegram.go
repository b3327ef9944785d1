package ports

import (
	"context"

	"github.com/tgpromoter/engine/internal/domain"
)

// RemoteClient is the opaque Telegram transport the core depends on. It is
// consumed-only: the core never implements the MTProto protocol itself.
type RemoteClient interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	GetSelf(ctx context.Context) (SelfIdentity, error)

	GetDialogs(ctx context.Context, limit int) ([]Dialog, error)
	GetEntity(ctx context.Context, channelID domain.ChannelID) (Dialog, error)
	GetMessages(ctx context.Context, channelID domain.ChannelID, minID int64) ([]RemoteMessage, error)

	// SendMessage returns a domain.SendResult concrete value (never a bare
	// error) so the scheduler can dispatch on the result type.
	SendMessage(ctx context.Context, target domain.ChannelID, username string, message string) domain.SendResult
}

// SelfIdentity is the minimal identity returned by GetSelf.
type SelfIdentity struct {
	Username  string
	FirstName string
}

// Dialog is the subset of dialog/entity fields the core's channel
// discovery needs.
type Dialog struct {
	ID                    domain.ChannelID
	Title                 string
	Username              string
	ParticipantsCount     int
	Broadcast             bool
	Megagroup             bool
	Restricted            bool
	DefaultBannedSendMsgs bool
}

// RemoteMessage is the subset of message fields the verification queue
// needs.
type RemoteMessage struct {
	ID int64
}

// ProxyConfig is one mobile's outbound proxy, sourced from AccountStore.
type ProxyConfig struct {
	Enabled  bool
	Server   string
	Port     int32
	Username string
	Password string
}
