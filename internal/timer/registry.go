package timer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/support-relay/internal/config"
	"github.com/spec-kit/support-relay/internal/jobs"
)

// Purpose labels a scheduled task for a ticket.
type Purpose string

const (
	PurposeSLAFirst      Purpose = "sla-first"
	PurposeSLASecond     Purpose = "sla-second"
	PurposeSLAEscalation Purpose = "sla-escalation"
	PurposeAutoClose     Purpose = "autoclose"
)

// SLAPurposes lists the three independent reminder entries scheduled
// together at ticket creation.
var SLAPurposes = []Purpose{PurposeSLAFirst, PurposeSLASecond, PurposeSLAEscalation}

// Key identifies the ticket/thread pair a timer belongs to.
type Key struct {
	TicketID string `json:"ticket_id"`
	ThreadID int64  `json:"thread_id"`
}

type firePayload struct {
	Key
	Purpose Purpose `json:"purpose"`
}

// Registry schedules and cancels named delayed tasks keyed by
// (ticket, purpose). At most one entry per key is live; callers cancel
// explicitly before state transitions that invalidate a timer. Scheduling is
// best-effort: failures are reported to the caller but must never abort the
// ticket flow that triggered them.
type Registry struct {
	queue  jobs.Queue
	sla    config.SLAConfig
	logger *zap.Logger

	mu   sync.Mutex
	live map[string]string // ticketID|purpose -> job id
}

// NewRegistry constructs the registry.
func NewRegistry(queue jobs.Queue, sla config.SLAConfig, logger *zap.Logger) *Registry {
	return &Registry{
		queue:  queue,
		sla:    sla,
		logger: logger,
		live:   make(map[string]string),
	}
}

func liveKey(ticketID string, purpose Purpose) string {
	return ticketID + "|" + string(purpose)
}

func jobName(purpose Purpose) string {
	return "timer:" + string(purpose)
}

// Schedule enqueues one delayed task for (key, purpose). Any prior entry for
// the same pair must have been cancelled by the caller.
func (r *Registry) Schedule(ctx context.Context, key Key, purpose Purpose, delay time.Duration) error {
	payload, err := json.Marshal(firePayload{Key: key, Purpose: purpose})
	if err != nil {
		return err
	}
	jobID, err := r.queue.EnqueueDelayed(ctx, jobName(purpose), string(payload), delay)
	if err != nil {
		r.logger.Warn("timer scheduling failed",
			zap.String("ticket_id", key.TicketID),
			zap.String("purpose", string(purpose)),
			zap.Error(err))
		return err
	}
	r.mu.Lock()
	r.live[liveKey(key.TicketID, purpose)] = jobID
	r.mu.Unlock()
	return nil
}

// Cancel invalidates the live entry for (key, purpose). Cancelling an entry
// that does not exist, or that already fired, is a no-op.
func (r *Registry) Cancel(ctx context.Context, key Key, purpose Purpose) error {
	r.mu.Lock()
	jobID, ok := r.live[liveKey(key.TicketID, purpose)]
	if ok {
		delete(r.live, liveKey(key.TicketID, purpose))
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	if err := r.queue.Cancel(ctx, jobID); err != nil {
		r.logger.Warn("timer cancellation failed",
			zap.String("ticket_id", key.TicketID),
			zap.String("purpose", string(purpose)),
			zap.Error(err))
		return err
	}
	return nil
}

// ScheduleSLA schedules the three reminder entries with their configured
// delays. The first failure is returned but the remaining entries are still
// attempted.
func (r *Registry) ScheduleSLA(ctx context.Context, key Key) error {
	delays := map[Purpose]time.Duration{
		PurposeSLAFirst:      r.sla.FirstReminder,
		PurposeSLASecond:     r.sla.SecondReminder,
		PurposeSLAEscalation: r.sla.Escalation,
	}
	var firstErr error
	for _, purpose := range SLAPurposes {
		if err := r.Schedule(ctx, key, purpose, delays[purpose]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// CancelSLA cancels all three reminder entries independently, tolerating
// individual failures.
func (r *Registry) CancelSLA(ctx context.Context, key Key) {
	for _, purpose := range SLAPurposes {
		_ = r.Cancel(ctx, key, purpose)
	}
}

// ScheduleAutoClose (re)arms the auto-close entry for a ticket whose
// customer reply is pending. Caller cancels the prior entry first.
func (r *Registry) ScheduleAutoClose(ctx context.Context, key Key) error {
	return r.Schedule(ctx, key, PurposeAutoClose, r.sla.AutoClose)
}

// CancelAutoClose disarms the auto-close entry.
func (r *Registry) CancelAutoClose(ctx context.Context, key Key) {
	_ = r.Cancel(ctx, key, PurposeAutoClose)
}

// forget drops the bookkeeping entry after a fire so a late Cancel does not
// try to remove a job that no longer exists.
func (r *Registry) forget(ticketID string, purpose Purpose) {
	r.mu.Lock()
	delete(r.live, liveKey(ticketID, purpose))
	r.mu.Unlock()
}
