// Package notify matches new listings against user preferences, queues
// notification tasks, and dispatches them in paced batches.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/listing-scanner/internal/config"
	"github.com/listing-scanner/internal/logging"
	"github.com/listing-scanner/internal/models"
	"github.com/listing-scanner/internal/retry"
)

// sendsPerSecond paces outbound deliveries across a dispatch cycle.
const sendsPerSecond = 25

// Transport delivers one notification to one recipient.
type Transport interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// UserMatcher resolves which users want a listing and who they are.
type UserMatcher interface {
	MatchUsers(ctx context.Context, l *models.Listing) ([]int64, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
}

// Queue is the persistent notification task queue.
type Queue interface {
	Enqueue(ctx context.Context, userID, listingID int64) (bool, error)
	DequeueBatch(ctx context.Context, limit int) ([]models.NotificationTask, error)
	MarkSent(ctx context.Context, id string, attempts int) error
	MarkFailed(ctx context.Context, id string, attempts int) error
	MarkRateLimited(ctx context.Context, id string, attempts int) error
	Requeue(ctx context.Context, id string, attempts int) error
}

// Counter tracks per-user notifications over the rolling daily window.
type Counter interface {
	CountLast24h(ctx context.Context, userID int64) (int, error)
	Record(ctx context.Context, userID int64) error
}

// ListingStore resolves listings referenced by queued tasks.
type ListingStore interface {
	GetByID(ctx context.Context, id int64) (*models.Listing, error)
}

// Dispatcher owns the notification pipeline from listing to delivered
// message. The daily cap bounds enqueues: each queued task is recorded in the
// user's rolling window immediately, so the window stays accurate however
// slowly the queue drains. A task that still finds the window over the cap at
// send time is terminally rate-limited, never delivered late.
type Dispatcher struct {
	cfg       config.NotificationConfig
	matcher   UserMatcher
	queue     Queue
	counter   Counter
	listings  ListingStore
	transport Transport
	limiter   *rate.Limiter
	retryCfg  *retry.Config
	logger    *logging.Logger

	running bool
	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg config.NotificationConfig, matcher UserMatcher, queue Queue,
	counter Counter, listings ListingStore, transport Transport, logger *logging.Logger) (*Dispatcher, error) {
	if matcher == nil || queue == nil || counter == nil || listings == nil || transport == nil {
		return nil, fmt.Errorf("dispatcher dependencies cannot be nil")
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Dispatcher{
		cfg:       cfg,
		matcher:   matcher,
		queue:     queue,
		counter:   counter,
		listings:  listings,
		transport: transport,
		limiter:   rate.NewLimiter(rate.Limit(sendsPerSecond), 1),
		retryCfg: &retry.Config{
			MaxAttempts:  cfg.RetryAttempts,
			InitialDelay: time.Second,
			MaxDelay:     10 * time.Second,
			Multiplier:   2.0,
		},
		logger: logger.WithField("component", "notify_dispatcher"),
	}, nil
}

// NotifyNewListing queues a task for every matching user who is still under
// their daily cap, recording each queued task in the user's rolling window so
// the cap bounds enqueues, not just deliveries. One listing never queues
// twice for the same user.
func (d *Dispatcher) NotifyNewListing(ctx context.Context, l *models.Listing) error {
	userIDs, err := d.matcher.MatchUsers(ctx, l)
	if err != nil {
		return fmt.Errorf("match users: %w", err)
	}

	queued := 0
	for _, userID := range userIDs {
		used, err := d.counter.CountLast24h(ctx, userID)
		if err != nil {
			return fmt.Errorf("count notifications: %w", err)
		}
		if used >= d.cfg.DailyCap {
			d.logger.WithFields(map[string]interface{}{
				"userId":    userID,
				"listingId": l.ID,
			}).Debug("User at daily cap, not queueing")
			continue
		}

		created, err := d.queue.Enqueue(ctx, userID, l.ID)
		if err != nil {
			return fmt.Errorf("enqueue notification: %w", err)
		}
		if created {
			if err := d.counter.Record(ctx, userID); err != nil {
				// The task is already queued; the window undercounts by one.
				d.logger.ErrorWithErr("Failed to record notification in daily window", err)
			}
			queued++
		}
	}

	if queued > 0 {
		d.logger.WithFields(map[string]interface{}{
			"listingId": l.ID,
			"queued":    queued,
		}).Info("Notification tasks queued")
	}
	return nil
}

// DispatchCycle claims and delivers one batch of pending tasks. Returns the
// number of tasks delivered.
func (d *Dispatcher) DispatchCycle(ctx context.Context) (int, error) {
	tasks, err := d.queue.DequeueBatch(ctx, d.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("dequeue batch: %w", err)
	}

	delivered := 0
	for _, task := range tasks {
		if err := d.limiter.Wait(ctx); err != nil {
			return delivered, err
		}
		if err := d.dispatchTask(ctx, task); err == nil {
			delivered++
		}
	}
	return delivered, nil
}

// dispatchTask delivers one claimed task end to end.
func (d *Dispatcher) dispatchTask(ctx context.Context, task models.NotificationTask) error {
	logger := d.logger.WithFields(map[string]interface{}{
		"taskId": task.ID,
		"userId": task.UserID,
	})

	// The task's own enqueue is in the window, so a count beyond the cap
	// means the window filled past it since then, through another instance or
	// an uncounted enqueue. Stale alerts have no value: rate-limit terminally
	// rather than deliver late.
	used, err := d.counter.CountLast24h(ctx, task.UserID)
	if err != nil {
		logger.ErrorWithErr("Failed to check daily cap, requeueing", err)
		return d.requeue(ctx, task, logger)
	}
	if used > d.cfg.DailyCap {
		logger.Warn("User over daily cap, rate-limiting task")
		return d.rateLimit(ctx, task, logger)
	}

	user, err := d.matcher.GetUser(ctx, task.UserID)
	if err != nil {
		logger.ErrorWithErr("Failed to resolve user, failing task", err)
		return d.fail(ctx, task, logger)
	}

	listing, err := d.listings.GetByID(ctx, task.ListingID)
	if err != nil || listing == nil {
		logger.ErrorWithErr("Failed to resolve listing, failing task", err)
		return d.fail(ctx, task, logger)
	}

	text := FormatListing(listing)
	result := retry.Do(ctx, d.retryCfg, func(ctx context.Context, attempt int) error {
		return d.transport.Send(ctx, user.ChatID, text)
	})
	attempts := task.Attempts + result.Attempts

	if !result.Success {
		logger.WithField("attempts", attempts).Warn("Delivery failed, task is terminal")
		if err := d.queue.MarkFailed(ctx, task.ID, attempts); err != nil {
			logger.ErrorWithErr("Failed to mark task failed", err)
		}
		return result.LastError
	}

	if err := d.queue.MarkSent(ctx, task.ID, attempts); err != nil {
		logger.ErrorWithErr("Failed to mark task sent", err)
	}
	return nil
}

func (d *Dispatcher) requeue(ctx context.Context, task models.NotificationTask, logger *logging.Logger) error {
	if err := d.queue.Requeue(ctx, task.ID, task.Attempts); err != nil {
		logger.ErrorWithErr("Failed to requeue task", err)
		return err
	}
	return errDeferred
}

func (d *Dispatcher) fail(ctx context.Context, task models.NotificationTask, logger *logging.Logger) error {
	if err := d.queue.MarkFailed(ctx, task.ID, task.Attempts); err != nil {
		logger.ErrorWithErr("Failed to mark task failed", err)
	}
	return errUnresolvable
}

func (d *Dispatcher) rateLimit(ctx context.Context, task models.NotificationTask, logger *logging.Logger) error {
	if err := d.queue.MarkRateLimited(ctx, task.ID, task.Attempts); err != nil {
		logger.ErrorWithErr("Failed to mark task rate limited", err)
	}
	return errRateLimited
}

var (
	errDeferred     = errors.New("notify: task deferred")
	errUnresolvable = errors.New("notify: task unresolvable")
	errRateLimited  = errors.New("notify: task rate limited")
)

// Start begins continuous dispatching at the configured interval.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return errors.New("dispatcher is already running")
	}
	d.running = true
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	d.mu.Unlock()

	d.logger.WithField("interval", d.cfg.Interval.String()).Info("Starting notification dispatcher")
	go d.dispatchLoop(ctx)
	return nil
}

// Stop gracefully stops dispatching, waiting for the current cycle.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return errors.New("dispatcher is not running")
	}
	d.mu.Unlock()

	close(d.stopCh)

	select {
	case <-d.doneCh:
		d.logger.Info("Dispatcher stopped gracefully")
	case <-ctx.Done():
		return ctx.Err()
	}

	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
	return nil
}

func (d *Dispatcher) dispatchLoop(ctx context.Context) {
	defer close(d.doneCh)

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := d.DispatchCycle(ctx); err != nil {
				d.logger.ErrorWithErr("Dispatch cycle failed", err)
			} else if n > 0 {
				d.logger.WithField("delivered", n).Info("Dispatch cycle finished")
			}
		}
	}
}
