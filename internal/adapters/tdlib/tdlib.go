// Package tdlib implements ports.RemoteClient over
// github.com/zelenin/go-tdlib/client, covering connection lifecycle, dialog
// discovery, entity lookup, message history, and outbound sends.
package tdlib

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	tdclient "github.com/zelenin/go-tdlib/client"

	"github.com/tgpromoter/engine/internal/domain"
	"github.com/tgpromoter/engine/internal/ports"
)

// SessionParams holds the per-mobile fields needed to start a TDLib client.
type SessionParams struct {
	Mobile      domain.Mobile
	Phone       string
	ApiID       int32
	ApiHash     string
	BaseDir     string
	DeviceModel string
	SystemVer   string
	AppVersion  string
	LangCode    string
	Proxy       *ports.ProxyConfig
}

// ProxyConfig is a session's outbound proxy configuration.
type ProxyConfig = ports.ProxyConfig

// Client is a RemoteClient backed by one TDLib instance.
type Client struct {
	params SessionParams
	log    *slog.Logger

	mu        sync.Mutex
	tdCli     *tdclient.Client
	connected atomic.Bool
}

func New(params SessionParams, log *slog.Logger) *Client {
	return &Client{params: params, log: log}
}

// Connect starts (or restarts) the underlying TDLib client.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tdCli != nil && c.connected.Load() {
		return nil
	}

	sessionDir := filepath.Join(c.params.BaseDir, string(c.params.Mobile))
	dbDir := filepath.Join(sessionDir, "database")
	filesDir := filepath.Join(sessionDir, "files")

	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return fmt.Errorf("mkdir db dir: %w", err)
	}
	if err := os.MkdirAll(filesDir, 0o755); err != nil {
		return fmt.Errorf("mkdir files dir: %w", err)
	}

	tdParams := &tdclient.SetTdlibParametersRequest{
		UseTestDc:           false,
		DatabaseDirectory:   dbDir,
		FilesDirectory:      filesDir,
		UseFileDatabase:     true,
		UseChatInfoDatabase: true,
		UseMessageDatabase:  true,
		UseSecretChats:      false,
		ApiId:               c.params.ApiID,
		ApiHash:             c.params.ApiHash,
		SystemLanguageCode:  orDefault(c.params.LangCode, "en"),
		DeviceModel:         orDefault(c.params.DeviceModel, "Desktop"),
		SystemVersion:       orDefault(c.params.SystemVer, "Windows 10"),
		ApplicationVersion:  orDefault(c.params.AppVersion, "2.0"),
	}

	var opts []tdclient.Option
	if c.params.Proxy != nil && c.params.Proxy.Enabled {
		opts = append(opts, tdclient.WithProxy(&tdclient.AddProxyRequest{
			Server: c.params.Proxy.Server,
			Port:   c.params.Proxy.Port,
			Enable: true,
			Type: &tdclient.ProxyTypeSocks5{
				Username: c.params.Proxy.Username,
				Password: c.params.Proxy.Password,
			},
		}))
	}

	authorizer := tdclient.ClientAuthorizer(tdParams)

	tdCli, err := tdclient.NewClient(authorizer, opts...)
	if err != nil {
		return fmt.Errorf("tdlib new client for %s: %w", c.params.Mobile, err)
	}

	c.tdCli = tdCli
	c.connected.Store(true)
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Disconnect closes the TDLib client.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected.Store(false)
	if c.tdCli == nil {
		return nil
	}
	c.tdCli.Close()
	c.tdCli = nil
	return nil
}

func (c *Client) IsConnected() bool { return c.connected.Load() }

// GetSelf is the deep health probe.
func (c *Client) GetSelf(ctx context.Context) (ports.SelfIdentity, error) {
	cli := c.client()
	if cli == nil {
		return ports.SelfIdentity{}, errNotConnected
	}
	me, err := cli.GetMe()
	if err != nil {
		return ports.SelfIdentity{}, err
	}
	var firstName, username string
	if me != nil {
		firstName = me.FirstName
		if me.Usernames != nil && len(me.Usernames.ActiveUsernames) > 0 {
			username = me.Usernames.ActiveUsernames[0]
		}
	}
	return ports.SelfIdentity{Username: username, FirstName: firstName}, nil
}

func (c *Client) client() *tdclient.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tdCli
}

var errNotConnected = errors.New("tdlib: client not connected")

// GetDialogs lists up to limit dialogs from the main chat list.
func (c *Client) GetDialogs(ctx context.Context, limit int) ([]ports.Dialog, error) {
	cli := c.client()
	if cli == nil {
		return nil, errNotConnected
	}

	chatsResp, err := cli.GetChats(&tdclient.GetChatsRequest{
		ChatList: &tdclient.ChatListMain{},
		Limit:    int32(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("GetChats: %w", err)
	}

	out := make([]ports.Dialog, 0, len(chatsResp.ChatIds))
	for _, chatID := range chatsResp.ChatIds {
		d, ok := c.describeChat(chatID)
		if ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (c *Client) describeChat(chatID int64) (ports.Dialog, bool) {
	cli := c.client()
	chat, err := cli.GetChat(&tdclient.GetChatRequest{ChatId: chatID})
	if err != nil {
		c.log.Warn("GetChat failed", "chat_id", chatID, "error", err)
		return ports.Dialog{}, false
	}

	sg, ok := chat.Type.(*tdclient.ChatTypeSupergroup)
	if !ok {
		return ports.Dialog{}, false
	}

	full, err := cli.GetSupergroupFullInfo(&tdclient.GetSupergroupFullInfoRequest{SupergroupId: sg.SupergroupId})
	participants := 0
	if err == nil && full != nil {
		participants = int(full.MemberCount)
	}

	sup, err := cli.GetSupergroup(&tdclient.GetSupergroupRequest{SupergroupId: sg.SupergroupId})
	var username string
	var restricted, banned bool
	if err == nil && sup != nil {
		if sup.Usernames != nil && len(sup.Usernames.ActiveUsernames) > 0 {
			username = sup.Usernames.ActiveUsernames[0]
		}
		restricted = sup.IsScam || sup.IsFake
		banned = chat.Permissions != nil && !chat.Permissions.CanSendBasicMessages
	}

	return ports.Dialog{
		ID:                    domain.NormalizeChannelID(strconv.FormatInt(chatID, 10)),
		Title:                 chat.Title,
		Username:              username,
		ParticipantsCount:     participants,
		Broadcast:             sg.IsChannel,
		Megagroup:             !sg.IsChannel,
		Restricted:            restricted,
		DefaultBannedSendMsgs: banned,
	}, true
}

// GetEntity resolves one channel's metadata on a ChannelStore cache miss.
func (c *Client) GetEntity(ctx context.Context, channelID domain.ChannelID) (ports.Dialog, error) {
	id, err := strconv.ParseInt(string(channelID), 10, 64)
	if err != nil {
		return ports.Dialog{}, fmt.Errorf("parse channel id %s: %w", channelID, err)
	}
	d, ok := c.describeChat(id)
	if !ok {
		return ports.Dialog{}, fmt.Errorf("entity not found: %s", channelID)
	}
	return d, nil
}

// GetMessages fetches messages at or after minID, for verification probing.
func (c *Client) GetMessages(ctx context.Context, channelID domain.ChannelID, minID int64) ([]ports.RemoteMessage, error) {
	cli := c.client()
	if cli == nil {
		return nil, errNotConnected
	}

	id, err := strconv.ParseInt(string(channelID), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse channel id %s: %w", channelID, err)
	}

	hist, err := cli.GetChatHistory(&tdclient.GetChatHistoryRequest{
		ChatId:        id,
		FromMessageId: minID,
		Offset:        0,
		Limit:         5,
	})
	if err != nil {
		return nil, fmt.Errorf("GetChatHistory: %w", err)
	}

	out := make([]ports.RemoteMessage, 0, len(hist.Messages))
	for _, msg := range hist.Messages {
		if msg == nil {
			continue
		}
		out = append(out, ports.RemoteMessage{ID: msg.Id})
	}
	return out, nil
}

// SendMessage sends message into target, classifying TDLib errors into the
// closed domain.SendResult set. When username is non-empty, the chat id is
// re-resolved via SearchPublicChat first, so a caller retrying a
// CHANNEL_PRIVATE failure by username actually sends against a freshly
// resolved chat id rather than the same stale numeric id.
func (c *Client) SendMessage(ctx context.Context, target domain.ChannelID, username string, message string) domain.SendResult {
	cli := c.client()
	if cli == nil {
		return domain.TransientTransport{Cause: errNotConnected}
	}

	id, err := c.resolveChatID(cli, target, username)
	if err != nil {
		return classifyError(err)
	}

	resp, err := cli.SendMessage(&tdclient.SendMessageRequest{
		ChatId: id,
		InputMessageContent: &tdclient.InputMessageText{
			Text:       &tdclient.FormattedText{Text: message},
			ClearDraft: true,
		},
	})
	if err != nil {
		return classifyError(err)
	}
	return domain.Sent{MessageID: resp.Id}
}

// resolveChatID resolves the chat id to send to. With a username it searches
// for the public chat by that username; otherwise it parses target as the
// numeric chat id already known to the caller.
func (c *Client) resolveChatID(cli *tdclient.Client, target domain.ChannelID, username string) (int64, error) {
	if username != "" {
		chat, err := cli.SearchPublicChat(&tdclient.SearchPublicChatRequest{
			Username: strings.TrimPrefix(username, "@"),
		})
		if err != nil {
			return 0, fmt.Errorf("SearchPublicChat %s: %w", username, err)
		}
		return chat.Id, nil
	}
	id, err := strconv.ParseInt(string(target), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse channel id %s: %w", target, err)
	}
	return id, nil
}

// classifyError maps a TDLib *client.Error into the closed
// domain.SendResult taxonomy.
func classifyError(err error) domain.SendResult {
	var tdErr *tdclient.Error
	if !errors.As(err, &tdErr) {
		return domain.TransientTransport{Cause: err}
	}

	msg := strings.ToUpper(tdErr.Message)

	switch {
	case tdErr.Code == 429 || strings.Contains(msg, "TOO MANY REQUESTS") || strings.Contains(msg, "FLOOD_WAIT"):
		return domain.FloodWait{Seconds: parseFloodWaitSeconds(tdErr.Message)}
	case strings.Contains(msg, "CHANNEL_PRIVATE"):
		return domain.ChannelPrivate{}
	case strings.Contains(msg, "USER_BANNED_IN_CHANNEL"):
		return domain.UserBanned{}
	case strings.Contains(msg, "CHAT_WRITE_FORBIDDEN"):
		return domain.ChatWriteForbidden{}
	case strings.Contains(msg, "USER_DEACTIVATED"):
		return domain.Terminal{Code: domain.CodeUserDeactivated, Cause: err}
	case strings.Contains(msg, "AUTH_KEY_UNREGISTERED"):
		return domain.Terminal{Code: domain.CodeAuthKeyUnregistered, Cause: err}
	case strings.Contains(msg, "SESSION_REVOKED"):
		return domain.Terminal{Code: domain.CodeSessionRevoked, Cause: err}
	case strings.Contains(msg, "PHONE_NUMBER_BANNED"):
		return domain.Terminal{Code: domain.CodePhoneBanned, Cause: err}
	case tdErr.Code >= 500:
		return domain.TransientTransport{Cause: err}
	default:
		return domain.Other{Code: tdErr.Message}
	}
}

// parseFloodWaitSeconds extracts the trailing number of seconds from a
// TDLib FLOOD_WAIT_n style message; defaults to 30 if unparseable.
func parseFloodWaitSeconds(msg string) int64 {
	fields := strings.FieldsFunc(msg, func(r rune) bool { return r < '0' || r > '9' })
	for i := len(fields) - 1; i >= 0; i-- {
		if n, err := strconv.ParseInt(fields[i], 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return 30
}
