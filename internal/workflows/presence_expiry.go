package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// PresenceExpiryInput is the input for the presence expiry workflow.
type PresenceExpiryInput struct {
	UserID      string
	CommittedAt time.Time
	ExpiresAt   time.Time
}

// PresenceExpiryWorkflow sleeps until a broadcast ends and then clears it
// remotely, unless it was renewed in the meantime.
func PresenceExpiryWorkflow(ctx workflow.Context, input PresenceExpiryInput) error {
	logger := workflow.GetLogger(ctx)

	if wait := input.ExpiresAt.Sub(workflow.Now(ctx)); wait > 0 {
		if err := workflow.Sleep(ctx, wait); err != nil {
			return err
		}
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 5,
		},
	})

	var cleared bool
	if err := workflow.ExecuteActivity(ctx, "ClearExpiredPresence", input.UserID, input.CommittedAt).Get(ctx, &cleared); err != nil {
		return err
	}
	if !cleared {
		logger.Info("presence renewed, nothing to clear", "userID", input.UserID)
		return nil
	}

	if err := workflow.ExecuteActivity(ctx, "AnnounceOffline", input.UserID).Get(ctx, nil); err != nil {
		// the row is already offline; sessions catch up on their next fetch
		logger.Warn("announce offline failed", "userID", input.UserID, "error", err)
	}
	return nil
}
