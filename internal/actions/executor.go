// Package actions runs the auto-actions attached to a fired rule.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"fleet-monitor/sentinel/internal/clock"
	"fleet-monitor/sentinel/internal/domain"
	"fleet-monitor/sentinel/internal/notify"
)

var ErrUnknownAction = errors.New("unknown auto-action")

// Context is what every auto-action receives.
type Context struct {
	DriverID    string
	JobID       string
	Telemetry   *domain.TelemetrySnapshot
	Rule        domain.Rule
	ExceptionID string
}

type Func func(ctx context.Context, ac Context) error

// Directory resolves the people an action should reach.
type Directory interface {
	Dispatchers(ctx context.Context) ([]domain.Contact, error)
	Supervisor(ctx context.Context, driverID string) (*domain.Contact, error)
	Driver(ctx context.Context, driverID string) (*domain.Contact, error)
	Job(ctx context.Context, jobID string) (*domain.JobInfo, error)
	RecordCustomerNotification(ctx context.Context, jobID, kind, message string) error
}

type Notifier interface {
	Notify(ctx context.Context, ch domain.Channel, n notify.Notification)
	NotifyCritical(ctx context.Context, n notify.Notification)
}

type Executor struct {
	handlers map[domain.ActionKind]Func
	dir      Directory
	notifier Notifier
	clock    clock.Clock
	log      *slog.Logger
}

func NewExecutor(dir Directory, n Notifier, c clock.Clock, log *slog.Logger) *Executor {
	e := &Executor{
		dir:      dir,
		notifier: n,
		clock:    c,
		log:      log,
	}
	e.handlers = map[domain.ActionKind]Func{
		domain.ActionLogException:        e.logException,
		domain.ActionNotifyDispatcher:    e.notifyDispatchers,
		domain.ActionNotifyAllDispatcher: e.notifyAllDispatchers,
		domain.ActionNotifyCustomer:      e.notifyCustomer,
		domain.ActionNotifySupervisor:    e.notifySupervisor,
		domain.ActionAskDriverReason:     e.askDriverReason,
		domain.ActionWarnDriver:          e.warnDriver,
		domain.ActionSendLocationToAll:   e.broadcastLocation,
		domain.ActionRichMenuEmergency:   e.richMenuEmergency,
	}
	return e
}

// Execute runs kind. Unknown kinds return ErrUnknownAction.
func (e *Executor) Execute(ctx context.Context, kind domain.ActionKind, ac Context) error {
	fn, ok := e.handlers[kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, kind)
	}
	return fn(ctx, ac)
}

func (e *Executor) base(kind notify.Kind, ac Context) notify.Notification {
	n := notify.Notification{
		Kind:        kind,
		Severity:    ac.Rule.Severity,
		DriverID:    ac.DriverID,
		JobID:       ac.JobID,
		RuleID:      ac.Rule.ID,
		ExceptionID: ac.ExceptionID,
		Message:     ac.Rule.Message,
		At:          e.clock.Now(),
	}
	if ac.Telemetry != nil {
		loc := ac.Telemetry.Location
		n.Location = &loc
	}
	return n
}

// The exception is already recorded before actions run.
func (e *Executor) logException(context.Context, Context) error { return nil }

func (e *Executor) notifyDispatchers(ctx context.Context, ac Context) error {
	dispatchers, err := e.dir.Dispatchers(ctx)
	if err != nil {
		return fmt.Errorf("load dispatchers: %w", err)
	}
	if len(dispatchers) == 0 {
		e.log.Warn("no active dispatchers", slog.String("rule_id", ac.Rule.ID))
		return nil
	}
	for _, d := range dispatchers {
		n := e.base(notify.KindDispatch, ac)
		n.Recipient = d.LineUserID
		e.notifier.Notify(ctx, domain.ChannelLine, n)
	}
	return nil
}

func (e *Executor) notifyAllDispatchers(ctx context.Context, ac Context) error {
	if err := e.notifyDispatchers(ctx, ac); err != nil {
		return err
	}
	dispatchers, err := e.dir.Dispatchers(ctx)
	if err != nil {
		return fmt.Errorf("load dispatchers: %w", err)
	}
	for _, d := range dispatchers {
		if d.Email != "" {
			n := e.base(notify.KindDispatch, ac)
			n.Recipient = d.Email
			e.notifier.Notify(ctx, domain.ChannelEmail, n)
		}
		if d.Phone != "" {
			n := e.base(notify.KindDispatch, ac)
			n.Recipient = d.Phone
			e.notifier.Notify(ctx, domain.ChannelSMS, n)
		}
	}
	return nil
}

func (e *Executor) notifyCustomer(ctx context.Context, ac Context) error {
	if ac.JobID == "" {
		e.log.Debug("customer notification skipped, no job", slog.String("driver_id", ac.DriverID))
		return nil
	}
	job, err := e.dir.Job(ctx, ac.JobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", ac.JobID, err)
	}
	if job == nil {
		return nil
	}

	text := fmt.Sprintf("งาน %s อาจจะส่งช้า", job.Reference)
	if err := e.dir.RecordCustomerNotification(ctx, job.ID, "delay_alert", text); err != nil {
		return fmt.Errorf("record customer notification: %w", err)
	}

	n := e.base(notify.KindCustomerDelay, ac)
	n.Recipient = job.CustomerPhone
	n.Message = domain.Message{
		TH: text,
		EN: fmt.Sprintf("Job %s may be delivered late", job.Reference),
	}
	e.notifier.Notify(ctx, domain.ChannelSMS, n)
	return nil
}

func (e *Executor) notifySupervisor(ctx context.Context, ac Context) error {
	sup, err := e.dir.Supervisor(ctx, ac.DriverID)
	if err != nil {
		return fmt.Errorf("load supervisor of %s: %w", ac.DriverID, err)
	}
	if sup == nil {
		e.log.Warn("driver has no supervisor", slog.String("driver_id", ac.DriverID))
		return nil
	}
	n := e.base(notify.KindDispatch, ac)
	n.Recipient = sup.LineUserID
	e.notifier.Notify(ctx, domain.ChannelLine, n)
	if sup.Email != "" {
		n.Recipient = sup.Email
		e.notifier.Notify(ctx, domain.ChannelEmail, n)
	}
	return nil
}

func (e *Executor) toDriver(ctx context.Context, ac Context, kind notify.Kind) error {
	driver, err := e.dir.Driver(ctx, ac.DriverID)
	if err != nil {
		return fmt.Errorf("load driver %s: %w", ac.DriverID, err)
	}
	if driver == nil {
		return nil
	}
	n := e.base(kind, ac)
	n.Recipient = driver.LineUserID
	e.notifier.Notify(ctx, domain.ChannelLine, n)
	return nil
}

func (e *Executor) askDriverReason(ctx context.Context, ac Context) error {
	return e.toDriver(ctx, ac, notify.KindDriverQuestion)
}

func (e *Executor) warnDriver(ctx context.Context, ac Context) error {
	return e.toDriver(ctx, ac, notify.KindDriverWarning)
}

func (e *Executor) broadcastLocation(ctx context.Context, ac Context) error {
	if ac.Telemetry == nil {
		return errors.New("no telemetry to broadcast")
	}
	e.notifier.Notify(ctx, domain.ChannelAdminPanel, e.base(notify.KindLocationBroadcast, ac))
	return nil
}

func (e *Executor) richMenuEmergency(ctx context.Context, ac Context) error {
	return e.toDriver(ctx, ac, notify.KindRichMenu)
}
