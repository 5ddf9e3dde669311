package dispatch

import (
	"context"
	"time"

	"github.com/opsgrid/alarmd/internal/domain/notification"
	"github.com/opsgrid/alarmd/internal/pkg/metrics"
)

// retrySweepBatch bounds how many tasks one sweep re-delivers
const retrySweepBatch = 200

// RunRetrySweep re-delivers failed and retry tasks that still have
// attempts left and are younger than MaxRetryAge. Claiming a task flips
// it to pending first, so an overlapping sweep cannot pick it again.
func (p *Pipeline) RunRetrySweep(ctx context.Context) {
	cutoff := time.Now().Add(-p.cfg.MaxRetryAge)
	tasks, err := p.tasks.ClaimRetryable(ctx, cutoff, retrySweepBatch)
	if err != nil {
		p.log.ErrorWithErr(err, "Retry sweep claim failed")
		return
	}
	if len(tasks) == 0 {
		return
	}
	p.log.With("tasks", len(tasks)).Info("Retry sweep re-delivering tasks")
	metrics.RecordRetrySweep(len(tasks))

	for _, task := range tasks {
		p.retryOne(ctx, task)
	}
}

func (p *Pipeline) retryOne(ctx context.Context, task *notification.Task) {
	e, err := p.alarms.GetByID(ctx, task.AlarmID)
	if err != nil {
		// The alarm is gone; the task is unrecoverable.
		p.log.With("task_id", task.ID).WithError(err).Warn("Alarm gone, abandoning task")
		task.Status = notification.StatusFailed
		task.ErrorMessage = "alarm no longer exists"
		if err := p.tasks.UpdateTask(ctx, task); err != nil {
			p.log.With("task_id", task.ID).ErrorWithErr(err, "Failed to persist abandoned task")
		}
		return
	}

	cp, err := p.subs.GetContactPoint(ctx, task.ContactPointID)
	if err != nil {
		p.log.With("task_id", task.ID).WithError(err).Warn("Contact point gone, abandoning task")
		task.Status = notification.StatusFailed
		task.ErrorMessage = "contact point no longer exists"
		if err := p.tasks.UpdateTask(ctx, task); err != nil {
			p.log.With("task_id", task.ID).ErrorWithErr(err, "Failed to persist abandoned task")
		}
		return
	}

	msg := notification.Message{
		Title:     task.Subject,
		Content:   task.Content,
		Severity:  e.Severity,
		Timestamp: time.Now(),
	}
	p.launchSend(ctx, task, cp, msg)
}
