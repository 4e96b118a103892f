package models

import "time"

// NotificationStatus tracks a task through the dispatch queue.
type NotificationStatus string

const (
	NotificationPending    NotificationStatus = "pending"
	NotificationProcessing NotificationStatus = "processing"
	NotificationSent       NotificationStatus = "sent"
	// NotificationFailed is terminal: the task exhausted its delivery retries
	// and is never resurrected automatically.
	NotificationFailed NotificationStatus = "failed"
	// NotificationRateLimited is terminal: the user's daily window was full at
	// send time and a stale alert has no value later.
	NotificationRateLimited NotificationStatus = "rate_limited"
)

// NotificationTask is one pending "tell this user about this listing" unit of
// work. At most one task exists per (user, listing).
type NotificationTask struct {
	ID         string             `json:"id"`
	UserID     int64              `json:"userId"`
	ListingID  int64              `json:"listingId"`
	Status     NotificationStatus `json:"status"`
	Attempts   int                `json:"attempts"`
	EnqueuedAt time.Time          `json:"enqueuedAt"`
}
