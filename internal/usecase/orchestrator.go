package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"leadcall/internal/domain"
	"leadcall/internal/hours"
	"leadcall/internal/ports"
	"leadcall/internal/retry"
	"leadcall/internal/telemetry"
	"leadcall/internal/timezone"
)

type TriggerRequest struct {
	ContactID        string
	PhoneNumber      string
	TimezoneOverride string
}

type CompletionReport struct {
	ContactID   string
	CallID      string
	EndedReason string
}

// Result is the task state returned to the caller of an operation.
type Result struct {
	Status         domain.CallStatus
	NextEligibleAt *time.Time
	Timezone       string
	Attempt        int
}

func resultOf(t *domain.CallTask) Result {
	return Result{
		Status:         t.Status,
		NextEligibleAt: t.NextEligibleAt,
		Timezone:       t.Timezone,
		Attempt:        t.AttemptNumber,
	}
}

// Settings tune the orchestrator. CallLease bounds how long a placed call
// may go without a completion report; a reservation that never got a call
// id is held for 2×CallTimeout.
type Settings struct {
	MaxAttempts      int
	CallTimeout      time.Duration
	CallLease        time.Duration
	ConflictRetries  int
	ReminderTemplate string
}

func (s Settings) withDefaults() Settings {
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = domain.DefaultMaxAttempts
	}
	if s.CallTimeout <= 0 {
		s.CallTimeout = 10 * time.Second
	}
	if s.CallLease <= 0 {
		s.CallLease = 30 * time.Minute
	}
	if s.ConflictRetries <= 0 {
		s.ConflictRetries = 5
	}
	return s
}

// Deps are the collaborators of the orchestrator. Events and Metrics may be nil.
type Deps struct {
	Store    ports.TaskStore
	Queue    ports.TriggerQueue
	Dialer   ports.VoiceDialer
	Notifier ports.Notifier
	Tagger   ports.Tagger
	Events   ports.EventPublisher
	Resolver *timezone.Resolver
	Gate     *hours.Gate
	Policy   *retry.Policy
	Metrics  *telemetry.Metrics
	Now      func() time.Time
}

// Orchestrator drives the per-contact call state machine. Work on one
// contact is serialized in-process by a keyed lock and across processes by
// the store's version check.
type Orchestrator struct {
	Deps
	cfg    Settings
	locks  *keyLock
	tracer trace.Tracer
}

func NewOrchestrator(d Deps, s Settings) *Orchestrator {
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Orchestrator{
		Deps:   d,
		cfg:    s.withDefaults(),
		locks:  newKeyLock(),
		tracer: otel.Tracer(telemetry.InstrumentationName),
	}
}

type action int

const (
	actNone action = iota
	actDial
	actSchedule
	actRearm
	actConfirm
	actEscalate
	actWatch
	actExpire
)

// Trigger starts or resumes the call sequence of a contact.
func (o *Orchestrator) Trigger(ctx context.Context, req TriggerRequest) (Result, error) {
	req.ContactID = strings.TrimSpace(req.ContactID)
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	if req.ContactID == "" {
		return Result{}, fmt.Errorf("%w: contactId is required", domain.ErrInvalidRequest)
	}

	ctx, span := o.begin(ctx, "trigger", req.ContactID)
	defer span.End()
	unlock := o.locks.Lock(req.ContactID)
	defer unlock()

	res, err := o.trigger(ctx, req)
	o.finish(ctx, span, "trigger", err)
	return res, err
}

func (o *Orchestrator) trigger(ctx context.Context, req TriggerRequest) (Result, error) {
	now := o.Now()
	override := o.override(ctx, req.TimezoneOverride)
	create := func() *domain.CallTask {
		tz := override
		if tz == "" {
			tz = o.Resolver.Resolve(req.PhoneNumber)
		}
		return domain.NewCallTask(req.ContactID, req.PhoneNumber, tz, o.cfg.MaxAttempts, now)
	}

	var (
		act    action
		reason hours.Reason
	)
	task, err := o.update(ctx, req.ContactID, create, func(t *domain.CallTask) (bool, error) {
		act, reason = actNone, ""
		if t.Status.Terminal() {
			return false, nil
		}
		write := t.Version == 0
		if override != "" && override != t.Timezone {
			t.Timezone = override
			write = true
		}
		if t.PhoneNumber == "" && req.PhoneNumber != "" {
			t.PhoneNumber = req.PhoneNumber
			write = true
		}
		if t.PhoneNumber == "" {
			return false, fmt.Errorf("%w: phoneNumber is required", domain.ErrInvalidRequest)
		}

		switch {
		case t.Status == domain.StatusDialing:
			act = actWatch
			if !now.Before(o.leaseEnd(t)) {
				act = actExpire
			}
			return write, nil
		case t.Status == domain.StatusScheduled && t.NextEligibleAt != nil && now.Before(*t.NextEligibleAt):
			act = actRearm
			return write, nil
		}

		if !o.Policy.ShouldContinue(t.AttemptNumber, t.MaxAttempts) {
			t.Close(domain.StatusEscalated, now)
			act = actEscalate
			return true, nil
		}
		d := o.Gate.Check(now, t.Timezone)
		if d.Callable {
			t.BeginDial(now)
			act = actDial
			return true, nil
		}
		t.Schedule(slot(d.NextEligibleAt), now)
		act, reason = actSchedule, d.Reason
		return true, nil
	})
	if err != nil {
		return Result{}, err
	}

	switch act {
	case actDial:
		if err := o.watch(ctx, task); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("failed to arm dialing lease")
		}
		return o.dial(ctx, task)
	case actWatch:
		if err := o.watch(ctx, task); err != nil {
			return Result{}, err
		}
	case actExpire:
		ended := retry.DialFailedReason
		if task.CallID != "" {
			ended = retry.ReportMissingReason
		}
		log.Ctx(ctx).Warn().
			Str("call_id", task.CallID).
			Int("attempt", task.AttemptNumber).
			Str("reason", ended).
			Msg("dialing lease expired")
		return o.complete(ctx, CompletionReport{
			ContactID:   task.ContactID,
			CallID:      task.CallID,
			EndedReason: ended,
		}, task.AttemptNumber)
	case actRearm:
		if err := o.schedule(ctx, task); err != nil {
			return Result{}, err
		}
	case actSchedule:
		if err := o.schedule(ctx, task); err != nil {
			return Result{}, err
		}
		o.Metrics.Transition(ctx, string(task.Status), string(reason))
		log.Ctx(ctx).Info().
			Str("reason", string(reason)).
			Time("next_eligible_at", *task.NextEligibleAt).
			Msg("outside calling window, call scheduled")
		o.publish(ctx, task, domain.EventScheduled, string(reason))
	case actEscalate:
		o.Metrics.Transition(ctx, string(task.Status), "exhausted")
		o.tag(ctx, task)
		o.publish(ctx, task, domain.EventEscalated, task.LastFailureReason)
	}
	return resultOf(task), nil
}

// dial places the call for a task already reserved as dialing.
func (o *Orchestrator) dial(ctx context.Context, t *domain.CallTask) (Result, error) {
	attempt := t.AttemptNumber
	dctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	callID, err := o.Dialer.Dial(dctx, t.PhoneNumber, t.ContactID, map[string]string{
		"attempt": strconv.Itoa(attempt),
	})
	cancel()
	if err != nil {
		err = domain.Failure(domain.KindTransient, "dialer.dial", err)
		log.Ctx(ctx).Warn().Err(err).Int("attempt", attempt).Msg("dial failed")
		return o.complete(ctx, CompletionReport{ContactID: t.ContactID, EndedReason: retry.DialFailedReason}, attempt)
	}

	task, err := o.update(ctx, t.ContactID, nil, func(cur *domain.CallTask) (bool, error) {
		if cur.Status != domain.StatusDialing || cur.AttemptNumber != attempt || cur.CallID != "" {
			return false, nil
		}
		cur.CallID = callID
		cur.UpdatedAt = o.Now().UTC()
		return true, nil
	})
	if err != nil {
		// The call is live; its completion report still carries the id.
		log.Ctx(ctx).Error().Err(err).Str("call_id", callID).Msg("failed to record call id")
		task = t.Clone()
		task.CallID = callID
	}

	o.Metrics.Transition(ctx, string(domain.StatusDialing), "callable")
	log.Ctx(ctx).Info().Int("attempt", attempt).Str("call_id", callID).Msg("call placed")
	o.publish(ctx, task, domain.EventDialing, "")
	return resultOf(task), nil
}

// Complete applies the outcome of a finished call.
func (o *Orchestrator) Complete(ctx context.Context, rep CompletionReport) (Result, error) {
	rep.ContactID = strings.TrimSpace(rep.ContactID)
	rep.CallID = strings.TrimSpace(rep.CallID)
	if rep.ContactID == "" {
		return Result{}, fmt.Errorf("%w: contactId is required", domain.ErrInvalidRequest)
	}
	if strings.TrimSpace(rep.EndedReason) == "" {
		return Result{}, fmt.Errorf("%w: endedReason is required", domain.ErrInvalidRequest)
	}

	ctx, span := o.begin(ctx, "complete", rep.ContactID)
	defer span.End()
	span.SetAttributes(attribute.String("ended_reason", rep.EndedReason))
	unlock := o.locks.Lock(rep.ContactID)
	defer unlock()

	res, err := o.complete(ctx, rep, 0)
	o.finish(ctx, span, "complete", err)
	return res, err
}

// complete expects the task in dialing. A non-zero attempt pins the report
// to that attempt.
func (o *Orchestrator) complete(ctx context.Context, rep CompletionReport, attempt int) (Result, error) {
	now := o.Now()
	outcome := retry.Classify(rep.EndedReason)

	var act action
	task, err := o.update(ctx, rep.ContactID, nil, func(t *domain.CallTask) (bool, error) {
		act = actNone
		if t.Status != domain.StatusDialing {
			return false, nil
		}
		if attempt > 0 && t.AttemptNumber != attempt {
			return false, nil
		}
		if rep.CallID != "" && t.CallID != "" && rep.CallID != t.CallID {
			return false, nil
		}
		if t.CallID == "" {
			t.CallID = rep.CallID
		}

		switch outcome.Kind {
		case retry.KindSuccess:
			t.LastFailureReason = ""
			t.Close(domain.StatusConfirmed, now)
			act = actConfirm
		case retry.KindTerminal:
			t.LastFailureReason = string(outcome.Category)
			t.Close(domain.StatusEscalated, now)
			act = actEscalate
		default:
			t.LastFailureReason = string(outcome.Category)
			if o.Policy.ShouldContinue(t.AttemptNumber, t.MaxAttempts) {
				t.Schedule(slot(o.Policy.NextEligible(now, t.Timezone, rep.EndedReason)), now)
				act = actSchedule
			} else {
				t.Close(domain.StatusEscalated, now)
				act = actEscalate
			}
		}
		return true, nil
	})
	if err != nil {
		return Result{}, err
	}

	logger := log.Ctx(ctx).With().
		Str("reason", rep.EndedReason).
		Str("category", string(outcome.Category)).
		Int("attempt", task.AttemptNumber).
		Logger()
	if kind := failureKind(outcome.Kind); kind != "" && act != actNone {
		logger = logger.With().
			Err(domain.Failure(kind, "call.outcome", fmt.Errorf("call ended: %s", rep.EndedReason))).
			Logger()
	}

	switch act {
	case actNone:
		logger.Info().Str("status", string(task.Status)).Msg("ignoring stale completion")
		if task.Status == domain.StatusScheduled && task.NextEligibleAt != nil {
			if err := o.schedule(ctx, task); err != nil {
				return Result{}, err
			}
		}
		return resultOf(task), nil
	case actConfirm:
		logger.Info().Msg("call confirmed")
		o.publish(ctx, task, domain.EventConfirmed, rep.EndedReason)
	case actEscalate:
		logger.Info().Msg("escalating to manual follow-up")
		o.tag(ctx, task)
		o.publish(ctx, task, domain.EventEscalated, rep.EndedReason)
	case actSchedule:
		if err := o.schedule(ctx, task); err != nil {
			return Result{}, err
		}
		logger.Info().Time("next_eligible_at", *task.NextEligibleAt).Msg("retry scheduled")
		switch outcome.Category {
		case retry.CategoryNoAnswer:
			o.remind(ctx, task)
		case retry.CategoryVoicemail:
			o.tag(ctx, task)
		}
		o.publish(ctx, task, domain.EventScheduled, rep.EndedReason)
	}
	o.Metrics.Transition(ctx, string(task.Status), string(outcome.Category))
	return resultOf(task), nil
}

// Cancel stops a pending or scheduled sequence. Cancelling twice is a no-op.
func (o *Orchestrator) Cancel(ctx context.Context, contactID string) (Result, error) {
	contactID = strings.TrimSpace(contactID)
	if contactID == "" {
		return Result{}, fmt.Errorf("%w: contactId is required", domain.ErrInvalidRequest)
	}

	ctx, span := o.begin(ctx, "cancel", contactID)
	defer span.End()
	unlock := o.locks.Lock(contactID)
	defer unlock()

	res, err := o.cancel(ctx, contactID)
	o.finish(ctx, span, "cancel", err)
	return res, err
}

func (o *Orchestrator) cancel(ctx context.Context, contactID string) (Result, error) {
	now := o.Now()
	var written bool
	task, err := o.update(ctx, contactID, nil, func(t *domain.CallTask) (bool, error) {
		written = false
		switch t.Status {
		case domain.StatusCancelled:
			return false, nil
		case domain.StatusPending, domain.StatusScheduled:
			t.Close(domain.StatusCancelled, now)
			written = true
			return true, nil
		}
		return false, fmt.Errorf("%w: cannot cancel a %s task", domain.ErrInvalidTransition, t.Status)
	})
	if err != nil {
		return Result{}, err
	}

	qctx, qcancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	if err := o.Queue.Unschedule(qctx, contactID); err != nil {
		// A leftover entry only re-triggers a cancelled task, which is a no-op.
		log.Ctx(ctx).Warn().Err(err).Msg("failed to unschedule cancelled task")
	}
	qcancel()

	if written {
		o.Metrics.Transition(ctx, string(task.Status), "cancelled")
		log.Ctx(ctx).Info().Msg("call sequence cancelled")
		o.publish(ctx, task, domain.EventCancelled, "")
	}
	return resultOf(task), nil
}

// Get returns the stored task of a contact.
func (o *Orchestrator) Get(ctx context.Context, contactID string) (*domain.CallTask, error) {
	contactID = strings.TrimSpace(contactID)
	if contactID == "" {
		return nil, fmt.Errorf("%w: contactId is required", domain.ErrInvalidRequest)
	}
	return o.load(ctx, contactID)
}

// update runs a read-modify-write cycle. fn edits a copy of the stored task
// and reports whether it must be written; on a version conflict the cycle
// restarts from a fresh read. A missing task is created by create, or is an
// error when create is nil.
func (o *Orchestrator) update(
	ctx context.Context,
	contactID string,
	create func() *domain.CallTask,
	fn func(t *domain.CallTask) (bool, error),
) (*domain.CallTask, error) {
	for i := 0; i < o.cfg.ConflictRetries; i++ {
		cur, err := o.load(ctx, contactID)
		if errors.Is(err, domain.ErrTaskNotFound) && create != nil {
			cur, err = create(), nil
		}
		if err != nil {
			return nil, err
		}

		next := cur.Clone()
		write, err := fn(next)
		if err != nil {
			return nil, err
		}
		if !write {
			return next, nil
		}

		err = o.put(ctx, next)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
		log.Ctx(ctx).Debug().Int("try", i+1).Msg("task version conflict, re-reading")
	}
	return nil, domain.Failure(domain.KindStorePersistence, "update",
		fmt.Errorf("%w after %d tries", domain.ErrConflict, o.cfg.ConflictRetries))
}

func (o *Orchestrator) load(ctx context.Context, contactID string) (*domain.CallTask, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()
	t, err := o.Store.Get(ctx, contactID)
	if err != nil && !errors.Is(err, domain.ErrTaskNotFound) && domain.KindOf(err) == "" {
		err = domain.Failure(domain.KindStorePersistence, "store.get", err)
	}
	return t, err
}

func (o *Orchestrator) put(ctx context.Context, t *domain.CallTask) error {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()
	err := o.Store.Put(ctx, t)
	if err != nil && !errors.Is(err, domain.ErrConflict) && domain.KindOf(err) == "" {
		err = domain.Failure(domain.KindStorePersistence, "store.put", err)
	}
	return err
}

// schedule arms the trigger queue at the task's next eligible instant.
func (o *Orchestrator) schedule(ctx context.Context, t *domain.CallTask) error {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()
	if err := o.Queue.Schedule(ctx, t.ContactID, *t.NextEligibleAt); err != nil {
		return domain.Failure(domain.KindStorePersistence, "queue.schedule", err)
	}
	return nil
}

// watch arms the queue at the end of the dialing lease.
func (o *Orchestrator) watch(ctx context.Context, t *domain.CallTask) error {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()
	if err := o.Queue.Schedule(ctx, t.ContactID, o.leaseEnd(t)); err != nil {
		return domain.Failure(domain.KindStorePersistence, "queue.schedule", err)
	}
	return nil
}

// leaseEnd is the whole second after which a dialing task counts as lost.
func (o *Orchestrator) leaseEnd(t *domain.CallTask) time.Time {
	lease := 2 * o.cfg.CallTimeout
	if t.CallID != "" {
		lease = o.cfg.CallLease
	}
	start := t.UpdatedAt
	if t.LastCallAt != nil {
		start = *t.LastCallAt
	}
	return slot(start.Add(lease)).Add(time.Second)
}

func (o *Orchestrator) remind(ctx context.Context, t *domain.CallTask) {
	if o.cfg.ReminderTemplate == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()
	vars := map[string]string{
		"contact_id": t.ContactID,
		"next_call":  localTime(*t.NextEligibleAt, t.Timezone),
	}
	if err := o.Notifier.SendSMS(ctx, t.PhoneNumber, o.cfg.ReminderTemplate, vars); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("failed to send reminder sms")
	}
}

func (o *Orchestrator) tag(ctx context.Context, t *domain.CallTask) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()
	if err := o.Tagger.AddTag(ctx, t.ContactID, domain.FollowUpTag); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("failed to tag contact for follow-up")
	}
}

func (o *Orchestrator) publish(ctx context.Context, t *domain.CallTask, typ domain.EventType, reason string) {
	if o.Events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()
	e := domain.Event{
		ID:             uuid.NewString(),
		Type:           typ,
		ContactID:      t.ContactID,
		Status:         t.Status,
		Attempt:        t.AttemptNumber,
		MaxAttempts:    t.MaxAttempts,
		Reason:         reason,
		CallID:         t.CallID,
		NextEligibleAt: t.NextEligibleAt,
		OccurredAt:     o.Now().UTC(),
	}
	if err := o.Events.Publish(ctx, e); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("event", string(typ)).Msg("failed to publish event")
	}
}

// override returns tz when it is a loadable zone and "" otherwise.
func (o *Orchestrator) override(ctx context.Context, tz string) string {
	tz = strings.TrimSpace(tz)
	if tz == "" || timezone.Valid(tz) {
		return tz
	}
	err := domain.Failure(domain.KindTimezoneAmbiguity, "timezone.override", fmt.Errorf("unknown zone %q", tz))
	log.Ctx(ctx).Warn().Err(err).Msg("ignoring timezone override")
	return ""
}

func (o *Orchestrator) begin(ctx context.Context, kind, contactID string) (context.Context, trace.Span) {
	ctx, span := o.tracer.Start(ctx, "orchestrator."+kind,
		trace.WithAttributes(attribute.String("contact_id", contactID)))
	logger := log.Ctx(ctx).With().Str("contact_id", contactID).Str("event", kind).Logger()
	return logger.WithContext(ctx), span
}

func (o *Orchestrator) finish(ctx context.Context, span trace.Span, kind string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if k := domain.KindOf(err); k != "" {
			outcome = string(k)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	o.Metrics.Event(ctx, kind, outcome)
}

func failureKind(k retry.Kind) domain.FailureKind {
	switch k {
	case retry.KindTransient:
		return domain.KindTransient
	case retry.KindTerminal:
		return domain.KindTerminal
	}
	return ""
}

// slot drops sub-second precision so the stored instant and the queue score agree.
func slot(t time.Time) time.Time {
	return t.Truncate(time.Second)
}

func localTime(t time.Time, tz string) string {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	return t.In(loc).Format("Monday at 3:04 PM MST")
}
