package queue

import (
	"context"
	"fmt"
	"time"
)

// CleanupPayload configures one run of the cleanup job.
type CleanupPayload struct {
	MaxAgeHours int `json:"max_age_hours"`
}

// NewCleanupHandler returns a handler that prunes old terminal items.
// Register it and drive it through the periodic scheduler so queue
// maintenance flows through the queue itself.
func NewCleanupHandler(jobType string, storage Storage, statuses ...Status) Handler {
	if len(statuses) == 0 {
		statuses = []Status{StatusCompleted, StatusFailed}
	}
	return NewHandler(jobType, func(ctx context.Context, payload CleanupPayload) (any, error) {
		maxAge := 24 * time.Hour
		if payload.MaxAgeHours > 0 {
			maxAge = time.Duration(payload.MaxAgeHours) * time.Hour
		}

		removed, err := storage.DeleteOlderThan(ctx, maxAge, statuses)
		if err != nil {
			return nil, fmt.Errorf("cleanup failed: %w", err)
		}
		return map[string]int64{"removed": removed}, nil
	})
}
