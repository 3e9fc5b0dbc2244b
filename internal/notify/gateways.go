package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// FeedChannel is the pub/sub channel the admin panel subscribes to.
const FeedChannel = "fleet:alerts"

type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// FeedGateway publishes notifications to the admin feed.
type FeedGateway struct {
	pub     Publisher
	channel string
}

func NewFeedGateway(pub Publisher) *FeedGateway {
	return &FeedGateway{pub: pub, channel: FeedChannel}
}

func (g *FeedGateway) Send(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := g.pub.Publish(ctx, g.channel, payload); err != nil {
		return fmt.Errorf("publish to %s: %w", g.channel, err)
	}
	return nil
}

// WebhookGateway posts notifications as JSON to a chat bridge.
type WebhookGateway struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
}

func NewWebhookGateway(url string, perSecond float64, timeout time.Duration) *WebhookGateway {
	return &WebhookGateway{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

func (g *WebhookGateway) Send(ctx context.Context, n Notification) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("webhook rate limit: %w", err)
	}

	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook post: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// LogGateway writes notifications to the log. It stands in for email
// and SMS providers that are not configured.
type LogGateway struct {
	log *slog.Logger
}

func NewLogGateway(log *slog.Logger) *LogGateway {
	return &LogGateway{log: log}
}

func (g *LogGateway) Send(_ context.Context, n Notification) error {
	g.log.Info("notification",
		slog.String("channel", string(n.Channel)),
		slog.String("kind", string(n.Kind)),
		slog.String("recipient", n.Recipient),
		slog.String("driver_id", n.DriverID),
		slog.String("rule_id", n.RuleID),
		slog.String("message", n.Message.EN))
	return nil
}
