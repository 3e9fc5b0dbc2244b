// Package notify routes notifications to the external gateways behind
// each channel. Sends are fire-and-forget: failures are logged and
// counted, never retried.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fleet-monitor/sentinel/internal/domain"
	"fleet-monitor/sentinel/internal/logging"
	"fleet-monitor/sentinel/internal/metrics"
)

type Kind string

const (
	KindException         Kind = "exception"
	KindDispatch          Kind = "dispatch"
	KindCustomerDelay     Kind = "customer_delay"
	KindDriverQuestion    Kind = "driver_question"
	KindDriverWarning     Kind = "driver_warning"
	KindLocationBroadcast Kind = "location_broadcast"
	KindRichMenu          Kind = "rich_menu"
)

type Notification struct {
	Kind        Kind             `json:"kind"`
	Channel     domain.Channel   `json:"channel"`
	Recipient   string           `json:"recipient,omitempty"`
	Severity    domain.Severity  `json:"severity,omitempty"`
	DriverID    string           `json:"driverId,omitempty"`
	JobID       string           `json:"jobId,omitempty"`
	RuleID      string           `json:"ruleId,omitempty"`
	ExceptionID string           `json:"exceptionId,omitempty"`
	Message     domain.Message   `json:"message"`
	Location    *domain.Location `json:"location,omitempty"`
	At          time.Time        `json:"at"`
}

// Gateway delivers a notification to one external system.
type Gateway interface {
	Send(ctx context.Context, n Notification) error
}

type GatewayFunc func(ctx context.Context, n Notification) error

func (f GatewayFunc) Send(ctx context.Context, n Notification) error { return f(ctx, n) }

// Fanout sends to every gateway and joins the errors.
type Fanout []Gateway

func (f Fanout) Send(ctx context.Context, n Notification) error {
	var errs []error
	for _, g := range f {
		if err := g.Send(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Router struct {
	gateways map[domain.Channel]Gateway
	critical Gateway
	timeout  time.Duration
	log      *slog.Logger
}

func NewRouter(gateways map[domain.Channel]Gateway, critical Gateway, timeout time.Duration, log *slog.Logger) *Router {
	return &Router{
		gateways: gateways,
		critical: critical,
		timeout:  timeout,
		log:      log,
	}
}

// Notify sends n on ch. It returns nothing: the outcome is logged.
func (r *Router) Notify(ctx context.Context, ch domain.Channel, n Notification) {
	g, ok := r.gateways[ch]
	if !ok {
		r.log.Warn("no gateway for channel", slog.String("channel", string(ch)), slog.String("kind", string(n.Kind)))
		metrics.Notifications.WithLabelValues(string(ch), "unrouted").Inc()
		return
	}
	n.Channel = ch
	r.send(ctx, string(ch), g, n)
}

// NotifyCritical uses the dedicated critical path. It is attempted
// regardless of a rule's configured targets.
func (r *Router) NotifyCritical(ctx context.Context, n Notification) {
	if r.critical == nil {
		r.log.Error("critical notification path not configured",
			slog.String("driver_id", n.DriverID), slog.String("rule_id", n.RuleID))
		metrics.Notifications.WithLabelValues("critical", "unrouted").Inc()
		return
	}
	r.send(ctx, "critical", r.critical, n)
}

func (r *Router) send(ctx context.Context, label string, g Gateway, n Notification) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	if err := safeSend(ctx, g, n); err != nil {
		level := slog.LevelWarn
		if label == "critical" {
			level = slog.LevelError
		}
		r.log.Log(ctx, level, "notification failed",
			slog.String("channel", label),
			slog.String("kind", string(n.Kind)),
			slog.String("driver_id", n.DriverID),
			logging.Err(err))
		metrics.Notifications.WithLabelValues(label, "error").Inc()
		return
	}
	metrics.Notifications.WithLabelValues(label, "ok").Inc()
}

func safeSend(ctx context.Context, g Gateway, n Notification) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("gateway panicked: %v", p)
		}
	}()
	return g.Send(ctx, n)
}
