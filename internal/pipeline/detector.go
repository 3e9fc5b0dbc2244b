package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"fleet-monitor/sentinel/internal/actions"
	"fleet-monitor/sentinel/internal/clock"
	"fleet-monitor/sentinel/internal/domain"
	"fleet-monitor/sentinel/internal/logging"
	"fleet-monitor/sentinel/internal/metrics"
	"fleet-monitor/sentinel/internal/notify"
)

type Recorder interface {
	Log(ctx context.Context, in domain.ExceptionInput) (*domain.Exception, error)
}

type ActionRunner interface {
	Execute(ctx context.Context, kind domain.ActionKind, ac actions.Context) error
}

// Detector evaluates every rule against each snapshot. Its only state
// is the rule slice, which is never mutated, so several detectors may
// share one rule set and run concurrently.
type Detector struct {
	ch       <-chan *domain.TelemetrySnapshot
	rules    []domain.Rule
	recorder Recorder
	notifier actions.Notifier
	runner   ActionRunner
	clock    clock.Clock
	log      *slog.Logger
}

func NewDetector(
	ch <-chan *domain.TelemetrySnapshot,
	rules []domain.Rule,
	recorder Recorder,
	notifier actions.Notifier,
	runner ActionRunner,
	c clock.Clock,
	log *slog.Logger,
) *Detector {
	return &Detector{
		ch:       ch,
		rules:    rules,
		recorder: recorder,
		notifier: notifier,
		runner:   runner,
		clock:    c,
		log:      log,
	}
}

func (d *Detector) Run(ctx context.Context) {
	for {
		select {
		case s, ok := <-d.ch:
			if !ok {
				return
			}
			d.Evaluate(context.Background(), s)

		case <-ctx.Done():
			return
		}
	}
}

// Evaluate visits the rules in declared order and returns those that
// matched s. A matching rule whose exception could not be recorded is
// still returned; only its notifications and actions are skipped.
func (d *Detector) Evaluate(ctx context.Context, s *domain.TelemetrySnapshot) []domain.Rule {
	var triggered []domain.Rule
	for _, rule := range d.rules {
		matched, err := d.matches(rule, s)
		if err != nil {
			metrics.RulePanics.WithLabelValues(rule.ID).Inc()
			d.log.Error("rule evaluation failed",
				slog.String("rule_id", rule.ID),
				slog.String("driver_id", s.DriverID),
				logging.Err(err))
			continue
		}
		if !matched {
			continue
		}

		metrics.RulesTriggered.WithLabelValues(rule.ID).Inc()
		triggered = append(triggered, rule)
		d.dispatch(ctx, rule, s)
	}
	return triggered
}

func (d *Detector) matches(rule domain.Rule, s *domain.TelemetrySnapshot) (matched bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &domain.RuleEvaluationError{RuleID: rule.ID, Cause: p}
		}
	}()
	if rule.Condition == nil {
		return false, &domain.RuleEvaluationError{RuleID: rule.ID, Cause: "nil condition"}
	}
	return rule.Condition.Matches(s), nil
}

func (d *Detector) dispatch(ctx context.Context, rule domain.Rule, s *domain.TelemetrySnapshot) {
	defer func() {
		if p := recover(); p != nil {
			d.log.Error("rule dispatch panicked",
				slog.String("rule_id", rule.ID),
				slog.String("driver_id", s.DriverID),
				slog.Any("panic", p))
		}
	}()

	d.log.Info("exception triggered", slog.String("rule_id", rule.ID), slog.String("driver_id", s.DriverID))

	exc, err := d.recorder.Log(ctx, domain.NewExceptionInput(rule, s))
	if err != nil {
		metrics.ExceptionsRecorded.WithLabelValues("error").Inc()
		perr := &domain.PersistenceError{RuleID: rule.ID, Err: err}
		d.log.Error("exception not recorded, dispatch skipped",
			slog.String("driver_id", s.DriverID),
			logging.Err(perr))
		return
	}
	metrics.ExceptionsRecorded.WithLabelValues("ok").Inc()

	n := notify.Notification{
		Kind:        notify.KindException,
		Severity:    rule.Severity,
		DriverID:    s.DriverID,
		JobID:       s.JobID,
		RuleID:      rule.ID,
		ExceptionID: exc.ID,
		Message:     rule.Message,
		Location:    &exc.Location,
		At:          d.clock.Now(),
	}
	for _, ch := range rule.Targets {
		d.notifier.Notify(ctx, ch, n)
	}
	if rule.Severity == domain.SeverityCritical {
		d.notifier.NotifyCritical(ctx, n)
	}

	ac := actions.Context{
		DriverID:    s.DriverID,
		JobID:       s.JobID,
		Telemetry:   s,
		Rule:        rule,
		ExceptionID: exc.ID,
	}
	for _, kind := range rule.AutoActions {
		d.runAction(ctx, kind, ac)
	}
}

func (d *Detector) runAction(ctx context.Context, kind domain.ActionKind, ac actions.Context) {
	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panicked: %v", p)
			}
		}()
		return d.runner.Execute(ctx, kind, ac)
	}()
	if err == nil {
		return
	}

	if errors.Is(err, actions.ErrUnknownAction) {
		d.log.Warn("skipping unknown auto-action",
			slog.String("rule_id", ac.Rule.ID),
			slog.String("action", string(kind)))
		return
	}

	metrics.AutoActionFailures.WithLabelValues(string(kind)).Inc()
	d.log.Error("auto-action failed",
		slog.String("driver_id", ac.DriverID),
		slog.String("exception_id", ac.ExceptionID),
		logging.Err(&domain.AutoActionError{RuleID: ac.Rule.ID, Kind: kind, Err: err}))
}
