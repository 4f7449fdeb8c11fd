package workflows

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/client"
)

// ExpiryScheduler implements ports.ExpiryScheduler by starting a
// PresenceExpiryWorkflow per commit.
type ExpiryScheduler struct {
	client    client.Client
	taskQueue string
}

// NewExpiryScheduler creates a scheduler submitting to taskQueue.
func NewExpiryScheduler(c client.Client, taskQueue string) *ExpiryScheduler {
	return &ExpiryScheduler{client: c, taskQueue: taskQueue}
}

// ScheduleExpiry starts a workflow that clears userID's broadcast at
// expiresAt unless a commit newer than committedAt replaced it.
func (s *ExpiryScheduler) ScheduleExpiry(ctx context.Context, userID string, committedAt, expiresAt time.Time) error {
	opts := client.StartWorkflowOptions{
		ID:        ExpiryWorkflowID(userID, expiresAt),
		TaskQueue: s.taskQueue,
	}
	_, err := s.client.ExecuteWorkflow(ctx, opts, PresenceExpiryWorkflow, PresenceExpiryInput{
		UserID:      userID,
		CommittedAt: committedAt,
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		return fmt.Errorf("schedule expiry %s: %w", userID, err)
	}
	return nil
}

// ExpiryWorkflowID is stable per user and expiry so a retried commit does
// not start a second timer.
func ExpiryWorkflowID(userID string, expiresAt time.Time) string {
	return fmt.Sprintf("presence-expiry-%s-%d", userID, expiresAt.Unix())
}
