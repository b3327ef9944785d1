// Package webhook implements ports.Notifier as a fire-and-forget HTTP GET
// against a URL template.
package webhook

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tgpromoter/engine/internal/ports"
)

// Notifier fires a GET at a URL template for every NotifyEvent. The
// template may reference {kind}, {mobile}, {channelId}, and {detail}
// placeholders, each substituted with the URL-escaped event field.
type Notifier struct {
	client      *http.Client
	urlTemplate string
	logger      *slog.Logger
}

func New(urlTemplate string, logger *slog.Logger) *Notifier {
	return &Notifier{
		client:      &http.Client{Timeout: 10 * time.Second},
		urlTemplate: urlTemplate,
		logger:      logger,
	}
}

// Notify fires event at the webhook without blocking the caller. A nil or
// empty-template Notifier is a silent no-op.
func (n *Notifier) Notify(ctx context.Context, event ports.NotifyEvent) {
	if n == nil || n.urlTemplate == "" {
		return
	}

	go n.send(event)
}

func (n *Notifier) send(event ports.NotifyEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	target := expand(n.urlTemplate, event)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		n.logger.Warn("webhook: new request failed", "kind", event.Kind, "error", err)
		return
	}

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("webhook: request failed", "kind", event.Kind, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.logger.Warn("webhook: non-2xx response", "kind", event.Kind, "status", resp.StatusCode)
		return
	}

	n.logger.Debug("webhook: delivered", "kind", event.Kind, "mobile", event.Mobile, "channel", event.ChannelID)
}

// expand substitutes event fields into template's {kind}/{mobile}/
// {channelId}/{detail} placeholders, URL-escaping each value.
func expand(template string, event ports.NotifyEvent) string {
	r := strings.NewReplacer(
		"{kind}", url.QueryEscape(event.Kind),
		"{mobile}", url.QueryEscape(string(event.Mobile)),
		"{channelId}", url.QueryEscape(string(event.ChannelID)),
		"{detail}", url.QueryEscape(event.Detail),
	)
	return r.Replace(template)
}
