package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/opsgrid/alarmd/internal/config"
	"github.com/opsgrid/alarmd/internal/domain/alarm"
	"github.com/opsgrid/alarmd/internal/domain/notification"
	"github.com/opsgrid/alarmd/internal/domain/subscription"
	"github.com/opsgrid/alarmd/internal/engine/match"
	"github.com/opsgrid/alarmd/internal/engine/suppression"
	"github.com/opsgrid/alarmd/internal/pkg/keymutex"
	"github.com/opsgrid/alarmd/internal/pkg/logger"
	"github.com/opsgrid/alarmd/internal/pkg/metrics"
)

// Senders resolves a channel type to its sender implementation
type Senders interface {
	Get(channelType string) (notification.Sender, error)
}

// Pipeline moves ingested alarms through suppression, distribution rules
// and subscription matching, then delivers notifications. Alarms enter
// through Process and are worked by a small pool; deliveries run as
// their own goroutines bounded per channel type.
type Pipeline struct {
	cfg *config.PipelineConfig

	alarms      alarm.Repository
	tasks       notification.Repository
	subs        subscription.Repository
	suppressor  *suppression.Engine
	matcher     *match.Matcher
	renderer    notification.Renderer
	senders     Senders
	fingerprint *keymutex.KeyMutex
	log         *logger.Logger

	queue chan int64

	mu     sync.Mutex
	closed bool

	sends sync.WaitGroup

	// channel-type delivery guards, created lazily
	gmu      sync.Mutex
	sems     map[string]*semaphore.Weighted
	limiters map[string]*rate.Limiter
}

func NewPipeline(
	cfg *config.PipelineConfig,
	alarms alarm.Repository,
	tasks notification.Repository,
	subs subscription.Repository,
	suppressor *suppression.Engine,
	matcher *match.Matcher,
	renderer notification.Renderer,
	senders Senders,
	fingerprint *keymutex.KeyMutex,
	log *logger.Logger,
) *Pipeline {
	return &Pipeline{
		cfg:         cfg,
		alarms:      alarms,
		tasks:       tasks,
		subs:        subs,
		suppressor:  suppressor,
		matcher:     matcher,
		renderer:    renderer,
		senders:     senders,
		fingerprint: fingerprint,
		log:         log,
		queue:       make(chan int64, cfg.QueueSize),
		sems:        make(map[string]*semaphore.Weighted),
		limiters:    make(map[string]*rate.Limiter),
	}
}

// Process enqueues an alarm for pipeline processing. It never blocks:
// when the queue is full the alarm is dropped with a warning and a
// metric, to be retried by the caller or a later re-process.
func (p *Pipeline) Process(alarmID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("pipeline is shut down")
	}

	select {
	case p.queue <- alarmID:
		metrics.SetQueueDepth(len(p.queue))
		return nil
	default:
		metrics.RecordQueueDrop()
		p.log.With("alarm_id", alarmID).Warn("Pipeline queue full, dropping alarm")
		return fmt.Errorf("pipeline queue full")
	}
}

// Run starts the worker pool and blocks until Shutdown closes the intake
// and the queue drains.
func (p *Pipeline) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		g.Go(func() error {
			for id := range p.queue {
				p.processOne(gctx, id)
				metrics.SetQueueDepth(len(p.queue))
			}
			return nil
		})
	}
	err := g.Wait()
	p.sends.Wait()
	return err
}

// Shutdown closes the intake. Run returns once queued alarms are worked
// and in-flight deliveries finish.
func (p *Pipeline) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.queue)
}

func (p *Pipeline) processOne(ctx context.Context, alarmID int64) {
	started := time.Now()

	e, err := p.alarms.GetByID(ctx, alarmID)
	if err != nil {
		p.log.With("alarm_id", alarmID).WithError(err).Warn("Alarm gone before processing, dropping")
		metrics.RecordAlarmProcessed("missing", time.Since(started))
		return
	}
	// Alarms folded into a parent by dedup are done; their parent carries
	// the notification load.
	if e.IsDuplicate {
		p.log.With("alarm_id", e.ID).Debug("Alarm already merged as duplicate, skipping")
		metrics.RecordAlarmProcessed("duplicate", time.Since(started))
		return
	}

	// One alarm identity at a time; the correlation analyzer takes the
	// same lock when merging duplicates.
	p.fingerprint.Lock(e.Fingerprint)
	defer p.fingerprint.Unlock(e.Fingerprint)

	decision := p.suppressor.Check(e, time.Now())
	if decision.Suppressed {
		status := decision.Action.SetStatus
		if status == "" || !alarm.ValidStatus(status) {
			status = alarm.StatusSuppressed
		}
		if err := p.alarms.UpdateStatus(ctx, e.ID, status, time.Now()); err != nil {
			p.log.With("alarm_id", e.ID).ErrorWithErr(err, "Failed to persist suppression status")
		}
		p.log.WithFields(map[string]interface{}{
			"alarm_id": e.ID,
			"reason":   decision.Reason,
		}).Info("Alarm suppressed")

		if !decision.Action.Notify {
			metrics.RecordAlarmProcessed("suppressed", time.Since(started))
			return
		}
		e.Status = status
	}

	out, err := p.matcher.ExecuteRules(ctx, e)
	if err != nil {
		p.log.With("alarm_id", e.ID).ErrorWithErr(err, "Rule evaluation failed, skipping alarm")
		metrics.RecordAlarmProcessed("error", time.Since(started))
		return
	}
	if out.Mutated {
		if err := p.alarms.Update(ctx, e); err != nil {
			p.log.With("alarm_id", e.ID).ErrorWithErr(err, "Failed to persist rule mutations")
		}
	}

	created := p.notifyDirect(ctx, e, out)

	matched, err := p.matcher.MatchSubscriptions(ctx, e, time.Now())
	if err != nil {
		p.log.With("alarm_id", e.ID).ErrorWithErr(err, "Subscription matching failed, skipping alarm")
		metrics.RecordAlarmProcessed("error", time.Since(started))
		return
	}

	for _, s := range matched {
		created += p.notify(ctx, e, s)
	}

	outcome := "dispatched"
	if created == 0 {
		outcome = "no_match"
	}
	metrics.RecordAlarmProcessed(outcome, time.Since(started))
}

// notifyDirect resolves a rule outcome's notify targets — users plus
// members of notified groups — to their enabled contact points and
// dispatches one task per distinct contact point. Returns the number of
// tasks created.
func (p *Pipeline) notifyDirect(ctx context.Context, e *alarm.Event, out *match.RuleOutcome) int {
	userIDs := append([]int64(nil), out.NotifyUserIDs...)
	seen := make(map[int64]bool, len(userIDs))
	for _, id := range userIDs {
		seen[id] = true
	}
	for _, gid := range out.NotifyGroupIDs {
		members, err := p.subs.ListGroupMembers(ctx, gid)
		if err != nil {
			p.log.With("group_id", gid).WithError(err).Warn("Failed to resolve notification group, skipping")
			continue
		}
		for _, uid := range members {
			if !seen[uid] {
				seen[uid] = true
				userIDs = append(userIDs, uid)
			}
		}
	}
	if len(userIDs) == 0 {
		return 0
	}

	rendered, err := p.renderer.Render(e.FieldMap(), "")
	if err != nil {
		p.log.With("alarm_id", e.ID).ErrorWithErr(err, "Rendering failed, skipping direct notifications")
		return 0
	}

	created := 0
	dispatched := make(map[int64]bool)
	for _, uid := range userIDs {
		cps, err := p.subs.ListContactPointsByUser(ctx, uid)
		if err != nil {
			p.log.With("user_id", uid).WithError(err).Warn("Failed to resolve user contact points, skipping")
			continue
		}
		for _, cp := range cps {
			// A user reachable through several rules or groups still gets
			// one task per contact point.
			if dispatched[cp.ID] {
				continue
			}
			dispatched[cp.ID] = true

			task := &notification.Task{
				ID:             uuid.NewString(),
				AlarmID:        e.ID,
				ContactPointID: cp.ID,
				Status:         notification.StatusPending,
				MaxRetries:     p.cfg.DefaultMaxRetries,
				Subject:        rendered.Subject,
				Content:        rendered.Content,
				CreatedAt:      time.Now(),
			}
			if err := p.tasks.CreateTask(ctx, task); err != nil {
				p.log.With("alarm_id", e.ID).ErrorWithErr(err, "Failed to create notification task")
				continue
			}
			created++

			msg := notification.Message{
				Title:     rendered.Subject,
				Content:   rendered.Content,
				Severity:  e.Severity,
				Timestamp: time.Now(),
			}
			p.launchSend(ctx, task, cp, msg)
		}
	}
	return created
}

// notify renders the alarm for one subscription and creates and launches
// a delivery task per enabled contact point. Returns the number of tasks
// created.
func (p *Pipeline) notify(ctx context.Context, e *alarm.Event, s *subscription.Subscription) int {
	rendered, err := p.renderer.Render(e.FieldMap(), "")
	if err != nil {
		p.log.WithFields(map[string]interface{}{
			"alarm_id":        e.ID,
			"subscription_id": s.ID,
		}).ErrorWithErr(err, "Rendering failed, skipping subscription")
		return 0
	}

	created := 0
	for _, cpID := range s.ContactPointIDs {
		cp, err := p.subs.GetContactPoint(ctx, cpID)
		if err != nil {
			p.log.With("contact_point_id", cpID).WithError(err).Warn("Contact point gone, skipping")
			continue
		}
		if !cp.Enabled {
			continue
		}

		task := &notification.Task{
			ID:             uuid.NewString(),
			SubscriptionID: s.ID,
			AlarmID:        e.ID,
			ContactPointID: cp.ID,
			Status:         notification.StatusPending,
			MaxRetries:     p.cfg.DefaultMaxRetries,
			Subject:        rendered.Subject,
			Content:        rendered.Content,
			CreatedAt:      time.Now(),
		}
		if err := p.tasks.CreateTask(ctx, task); err != nil {
			p.log.With("alarm_id", e.ID).ErrorWithErr(err, "Failed to create notification task")
			continue
		}
		created++

		msg := notification.Message{
			Title:     rendered.Subject,
			Content:   rendered.Content,
			Severity:  e.Severity,
			Timestamp: time.Now(),
		}
		p.launchSend(ctx, task, cp, msg)
	}

	if created > 0 {
		if err := p.subs.RecordNotification(ctx, s.ID, time.Now()); err != nil {
			p.log.With("subscription_id", s.ID).ErrorWithErr(err, "Failed to record subscription notification")
		}
	}
	return created
}

// launchSend delivers the task in its own goroutine, bounded by the
// channel type's semaphore and rate limiter. The worker does not wait.
// The delivery context must outlive the worker pool: graceful shutdown
// waits for in-flight sends and their status writes instead of
// cancelling them.
func (p *Pipeline) launchSend(ctx context.Context, task *notification.Task, cp *subscription.ContactPoint, msg notification.Message) {
	sctx := context.WithoutCancel(ctx)
	p.sends.Add(1)
	go func() {
		defer p.sends.Done()
		p.deliver(sctx, task, cp, msg)
	}()
}

func (p *Pipeline) deliver(ctx context.Context, task *notification.Task, cp *subscription.ContactPoint, msg notification.Message) {
	sem, limiter := p.channelGuards(cp.Type)
	if err := sem.Acquire(ctx, 1); err != nil {
		p.failTask(ctx, task, cp.Type, err)
		return
	}
	defer sem.Release(1)
	if err := limiter.Wait(ctx); err != nil {
		p.failTask(ctx, task, cp.Type, err)
		return
	}

	sender, err := p.senders.Get(cp.Type)
	if err != nil {
		p.failTask(ctx, task, cp.Type, err)
		return
	}

	sctx, cancel := context.WithTimeout(ctx, p.cfg.SendTimeout)
	err = sender.Send(sctx, cp.Config, msg)
	cancel()

	if err != nil {
		p.failTask(ctx, task, cp.Type, err)
		return
	}

	now := time.Now()
	task.Status = notification.StatusSent
	task.SentAt = &now
	task.ErrorMessage = ""
	if err := p.tasks.UpdateTask(ctx, task); err != nil {
		p.log.With("task_id", task.ID).ErrorWithErr(err, "Failed to persist sent task")
	}
	metrics.RecordNotification(cp.Type, "sent")
}

// failTask advances the task state machine after a failed attempt: retry
// while attempts remain, failed once exhausted.
func (p *Pipeline) failTask(ctx context.Context, task *notification.Task, channelType string, cause error) {
	task.RetryCount++
	task.ErrorMessage = cause.Error()
	if task.RetryCount >= task.MaxRetries {
		task.Status = notification.StatusFailed
	} else {
		task.Status = notification.StatusRetry
	}
	if err := p.tasks.UpdateTask(ctx, task); err != nil {
		p.log.With("task_id", task.ID).ErrorWithErr(err, "Failed to persist task failure")
	}

	p.log.WithFields(map[string]interface{}{
		"task_id":     task.ID,
		"channel":     channelType,
		"retry_count": task.RetryCount,
		"max_retries": task.MaxRetries,
	}).WithError(cause).Warn("Notification delivery failed")
	metrics.RecordNotification(channelType, "failed")
}

func (p *Pipeline) channelGuards(channelType string) (*semaphore.Weighted, *rate.Limiter) {
	p.gmu.Lock()
	defer p.gmu.Unlock()
	sem, ok := p.sems[channelType]
	if !ok {
		sem = semaphore.NewWeighted(int64(p.cfg.ChannelConcurrency))
		p.sems[channelType] = sem
	}
	limiter, ok := p.limiters[channelType]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(p.cfg.ChannelSendsPerSec), p.cfg.ChannelConcurrency)
		p.limiters[channelType] = limiter
	}
	return sem, limiter
}
