package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/listing-scanner/internal/models"
)

// NotificationRepository handles the notification task queue
type NotificationRepository struct {
	db *PostgresDB
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *PostgresDB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Enqueue creates a pending task for (user, listing). Enqueueing the same
// pair twice is a no-op; the returned bool reports whether a new task was
// created.
func (r *NotificationRepository) Enqueue(ctx context.Context, userID, listingID int64) (bool, error) {
	query := `
		INSERT INTO notification_tasks (id, user_id, listing_id, status, attempts, enqueued_at)
		VALUES ($1, $2, $3, $4, 0, $5)
		ON CONFLICT (user_id, listing_id) DO NOTHING
	`

	tag, err := r.db.Pool().Exec(ctx, query,
		uuid.NewString(), userID, listingID, models.NotificationPending, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to enqueue notification: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DequeueBatch atomically claims up to limit pending tasks, oldest first, and
// marks them processing. SKIP LOCKED keeps concurrent dispatchers from
// claiming the same task.
func (r *NotificationRepository) DequeueBatch(ctx context.Context, limit int) ([]models.NotificationTask, error) {
	query := `
		UPDATE notification_tasks
		SET status = $1
		WHERE id IN (
			SELECT id FROM notification_tasks
			WHERE status = $2
			ORDER BY enqueued_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, user_id, listing_id, status, attempts, enqueued_at
	`

	rows, err := r.db.Pool().Query(ctx, query,
		models.NotificationProcessing, models.NotificationPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue notifications: %w", err)
	}
	defer rows.Close()

	var tasks []models.NotificationTask
	for rows.Next() {
		var t models.NotificationTask
		if err := rows.Scan(&t.ID, &t.UserID, &t.ListingID, &t.Status,
			&t.Attempts, &t.EnqueuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// MarkSent finalizes a delivered task
func (r *NotificationRepository) MarkSent(ctx context.Context, id string, attempts int) error {
	return r.setStatus(ctx, id, models.NotificationSent, attempts)
}

// MarkFailed finalizes a task whose delivery retries are exhausted. Failed is
// terminal; the task is never retried again.
func (r *NotificationRepository) MarkFailed(ctx context.Context, id string, attempts int) error {
	return r.setStatus(ctx, id, models.NotificationFailed, attempts)
}

// MarkRateLimited finalizes a task whose user's daily window was full at send
// time. Terminal like MarkFailed; the alert would be stale by the time the
// window frees up.
func (r *NotificationRepository) MarkRateLimited(ctx context.Context, id string, attempts int) error {
	return r.setStatus(ctx, id, models.NotificationRateLimited, attempts)
}

// Requeue returns a claimed task to pending after a transient failure.
func (r *NotificationRepository) Requeue(ctx context.Context, id string, attempts int) error {
	return r.setStatus(ctx, id, models.NotificationPending, attempts)
}

func (r *NotificationRepository) setStatus(ctx context.Context, id string, status models.NotificationStatus, attempts int) error {
	tag, err := r.db.Pool().Exec(ctx,
		`UPDATE notification_tasks SET status = $2, attempts = $3 WHERE id = $1`,
		id, status, attempts)
	if err != nil {
		return fmt.Errorf("failed to update notification task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notification task %s not found", id)
	}
	return nil
}

// CountByStatus returns queue depth per status
func (r *NotificationRepository) CountByStatus(ctx context.Context) (map[models.NotificationStatus]int64, error) {
	rows, err := r.db.Pool().Query(ctx,
		`SELECT status, COUNT(*) FROM notification_tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count notification tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.NotificationStatus]int64)
	for rows.Next() {
		var status models.NotificationStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan task count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}
