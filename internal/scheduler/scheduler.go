// Package scheduler runs the recurring reminder and auto-cancellation
// sweep. Each tick re-reads fresh appointment state; the per-appointment
// reminder-marks set is what keeps delivery at-most-once per offset even
// when tolerance windows of adjacent ticks overlap or the process restarts.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinsched/appointment-engine/internal/appointment"
	"github.com/clinsched/appointment-engine/internal/clock"
	"github.com/clinsched/appointment-engine/internal/notify"
	"github.com/clinsched/appointment-engine/internal/tenantcfg"
)

// ReminderMarks are the pre-start offsets, in hours, at which a reminder
// fires: every 2 hours from 24 down to 8. The 6-hour point is not a
// reminder; it belongs to the auto-cancellation sweep.
var ReminderMarks = []int{24, 22, 20, 18, 16, 14, 12, 10, 8}

const autoCancelOffsetHours = 6

const autoCancelReason = "auto-canceled: appointment was still unconfirmed close to its start"

type Config struct {
	// Interval is the sleep between ticks.
	Interval time.Duration
	// Tolerance is the half-width of the matching window around each
	// target instant, absorbing tick drift.
	Tolerance time.Duration
	// HourUnit is the length of one "hour" of offset. Production uses
	// time.Hour; speeded-up runs shrink it to one minute.
	HourUnit time.Duration
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.Tolerance <= 0 {
		c.Tolerance = 2 * time.Minute
	}
	if c.HourUnit <= 0 {
		c.HourUnit = time.Hour
	}
}

type Scheduler struct {
	repo     appointment.Repository
	dir      appointment.Directory
	tenants  tenantcfg.Reader
	notifier notify.Notifier
	cfg      Config
	log      zerolog.Logger
	now      func() time.Time
}

func New(repo appointment.Repository, dir appointment.Directory, tenants tenantcfg.Reader, notifier notify.Notifier, cfg Config, log zerolog.Logger) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{
		repo:     repo,
		dir:      dir,
		tenants:  tenants,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		now:      clock.NowUTC,
	}
}

// SetNow overrides the scheduler's clock. Tests use it to simulate "now".
func (s *Scheduler) SetNow(now func() time.Time) {
	s.now = now
}

// Run loops until ctx is canceled. A failing or panicking tick is logged
// and the loop sleeps its interval and goes again; it never terminates on
// its own.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info().
		Dur("interval", s.cfg.Interval).
		Dur("tolerance", s.cfg.Tolerance).
		Dur("hour_unit", s.cfg.HourUnit).
		Ints("marks", ReminderMarks).
		Msg("reminder scheduler started")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	tick := 0
	for {
		tick++
		s.safeTick(ctx, tick)

		select {
		case <-ctx.Done():
			s.log.Info().Int("tick", tick).Msg("reminder scheduler stopping")
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) safeTick(ctx context.Context, tick int) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Int("tick", tick).Interface("panic", r).Msg("tick panicked")
		}
	}()

	start := time.Now()
	if err := s.RunOnce(ctx); err != nil {
		s.log.Error().Err(err).Int("tick", tick).Msg("tick failed")
		return
	}
	s.log.Debug().Int("tick", tick).Dur("took", time.Since(start)).Msg("tick complete")
}

// RunOnce executes exactly one pass over all reminder marks and the
// auto-cancellation window. It is the body of every tick and the manual
// debug trigger.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	now := s.now()
	for _, mark := range ReminderMarks {
		if err := s.processMark(ctx, now, mark); err != nil {
			return fmt.Errorf("process %dh mark: %w", mark, err)
		}
	}
	if err := s.processAutoCancel(ctx, now); err != nil {
		return fmt.Errorf("process auto-cancel: %w", err)
	}
	return nil
}

func (s *Scheduler) processMark(ctx context.Context, now time.Time, mark int) error {
	target := now.Add(time.Duration(mark) * s.cfg.HourUnit)
	from, to := clock.Window(target, s.cfg.Tolerance)

	pending, err := s.repo.FindPendingStartingBetween(ctx, from, to)
	if err != nil {
		return fmt.Errorf("find pending in window: %w", err)
	}

	sent, skipped := 0, 0
	for i := range pending {
		appt := &pending[i]
		if appt.HasReminderMark(mark) {
			skipped++
			continue
		}
		if s.sendReminder(ctx, appt, mark) {
			sent++
		}
	}

	if sent > 0 || skipped > 0 {
		s.log.Info().
			Int("mark", mark).
			Int("sent", sent).
			Int("skipped", skipped).
			Msg("reminder mark processed")
	}
	return nil
}

// sendReminder delivers one reminder and records the mark. The mark is only
// appended once the send attempt has been initiated without error, so a
// transport failure leaves the appointment eligible for a retry in a later
// tick of the same window.
func (s *Scheduler) sendReminder(ctx context.Context, appt *appointment.Appointment, mark int) bool {
	if err := s.notifier.Send(ctx, notify.KindReminder, appt); err != nil {
		s.log.Error().Err(err).
			Str("appointment_id", appt.ID.String()).
			Str("tenant_id", appt.TenantID.String()).
			Int("mark", mark).
			Msg("reminder send failed")
		return false
	}

	sentAt := s.now()
	if _, err := s.repo.AppendReminderMark(ctx, appt.TenantID, appt.ID, mark, sentAt); err != nil {
		s.log.Error().Err(err).
			Str("appointment_id", appt.ID.String()).
			Int("mark", mark).
			Msg("record reminder mark failed")
		return false
	}

	s.journal(ctx, appt, appointment.EventReminderSent, map[string]any{
		"mark":      mark,
		"starts_at": appt.Start,
	})

	s.log.Info().
		Str("appointment_id", appt.ID.String()).
		Str("tenant_id", appt.TenantID.String()).
		Str("patient_id", appt.PatientID.String()).
		Int("mark", mark).
		Time("starts_at", appt.Start).
		Msg("reminder sent")
	return true
}

func (s *Scheduler) processAutoCancel(ctx context.Context, now time.Time) error {
	target := now.Add(autoCancelOffsetHours * s.cfg.HourUnit)
	from, to := clock.Window(target, s.cfg.Tolerance)

	pending, err := s.repo.FindPendingStartingBetween(ctx, from, to)
	if err != nil {
		return fmt.Errorf("find pending in window: %w", err)
	}

	for i := range pending {
		s.autoCancel(ctx, &pending[i])
	}
	return nil
}

// autoCancel cancels a single still-pending appointment. Every failure is
// contained here: one bad appointment must not affect the rest of the
// sweep.
func (s *Scheduler) autoCancel(ctx context.Context, appt *appointment.Appointment) {
	logger := s.log.With().
		Str("appointment_id", appt.ID.String()).
		Str("tenant_id", appt.TenantID.String()).
		Logger()

	enabled, err := tenantcfg.AutoCancelEnabled(ctx, s.tenants, appt.TenantID)
	if err != nil {
		logger.Error().Err(err).Msg("auto-cancel config read failed")
		return
	}
	if !enabled {
		logger.Debug().Msg("auto-cancel disabled for tenant")
		return
	}

	if _, err := s.repo.GetState(ctx, appt.TenantID, appointment.StatusCanceled); err != nil {
		logger.Warn().Err(err).Msg("canceled state not provisioned for tenant, skipping")
		return
	}

	admin, err := s.dir.AdminUser(ctx, appt.TenantID)
	if err != nil {
		logger.Warn().Err(err).Msg("admin actor not found for tenant, skipping")
		return
	}

	canceledAt := s.now()
	updated, err := s.repo.MarkCanceled(ctx, appt.TenantID, appt.ID, admin, autoCancelReason, &canceledAt)
	if err != nil {
		logger.Error().Err(err).Msg("auto-cancel transition failed")
		return
	}

	s.journal(ctx, updated, appointment.EventAppointmentAutoCanceled, map[string]any{
		"canceled_by": admin.String(),
		"reason":      autoCancelReason,
		"starts_at":   updated.Start,
	})

	if err := s.notifier.Send(ctx, notify.KindCancellation, updated); err != nil {
		logger.Warn().Err(err).Msg("auto-cancel notification failed")
	}

	logger.Info().Time("starts_at", updated.Start).Msg("appointment auto-canceled")
}

func (s *Scheduler) journal(ctx context.Context, appt *appointment.Appointment, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		data = nil
	}
	apptID := appt.ID
	ev := appointment.EventLog{
		TenantID:      appt.TenantID,
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}
	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Warn().Err(err).
			Str("event_type", eventType).
			Str("appointment_id", appt.ID.String()).
			Msg("insert event log failed")
	}
}
