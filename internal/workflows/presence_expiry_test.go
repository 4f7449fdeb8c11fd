package workflows_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/samirrijal/tandemap/internal/core/domain"
	"github.com/samirrijal/tandemap/internal/workflows"
)

type fakeClearer struct {
	mu        sync.Mutex
	cleared   bool
	err       error
	calls     []string
	committed []time.Time
}

func (f *fakeClearer) ClearIfExpired(_ context.Context, userID string, committedAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, userID)
	f.committed = append(f.committed, committedAt)
	return f.cleared, f.err
}

type fakePublisher struct {
	mu        sync.Mutex
	published []string
}

func (f *fakePublisher) PublishPresence(_ context.Context, userID string, state domain.ViewerPresence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !state.IsAvailable {
		f.published = append(f.published, userID)
	}
	return nil
}

var committedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func runExpiry(t *testing.T, clearer *fakeClearer, pub *fakePublisher) error {
	t.Helper()
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(workflows.PresenceExpiryWorkflow)
	env.RegisterActivity(&workflows.PresenceActivities{Presence: clearer, Publisher: pub})

	env.ExecuteWorkflow(workflows.PresenceExpiryWorkflow, workflows.PresenceExpiryInput{
		UserID:      "vera",
		CommittedAt: committedAt,
		ExpiresAt:   env.Now().Add(30 * time.Minute),
	})
	require.True(t, env.IsWorkflowCompleted())
	return env.GetWorkflowError()
}

func TestPresenceExpiryWorkflow_Clears(t *testing.T) {
	clearer := &fakeClearer{cleared: true}
	pub := &fakePublisher{}

	require.NoError(t, runExpiry(t, clearer, pub))
	assert.Equal(t, []string{"vera"}, clearer.calls)
	assert.Equal(t, []string{"vera"}, pub.published)
}

func TestPresenceExpiryWorkflow_ClearsByCommitTime(t *testing.T) {
	clearer := &fakeClearer{cleared: true}

	require.NoError(t, runExpiry(t, clearer, &fakePublisher{}))
	require.Len(t, clearer.committed, 1)
	assert.True(t, clearer.committed[0].Equal(committedAt), "clear must be keyed on the commit it was scheduled for")
}

func TestPresenceExpiryWorkflow_Renewed(t *testing.T) {
	clearer := &fakeClearer{cleared: false}
	pub := &fakePublisher{}

	require.NoError(t, runExpiry(t, clearer, pub))
	assert.Len(t, clearer.calls, 1)
	assert.Empty(t, pub.published, "no offline event when the broadcast was renewed")
}

func TestPresenceExpiryWorkflow_ClearFails(t *testing.T) {
	clearer := &fakeClearer{err: errors.New("db down")}
	pub := &fakePublisher{}

	assert.Error(t, runExpiry(t, clearer, pub))
	assert.NotEmpty(t, clearer.calls)
	assert.Empty(t, pub.published)
}

func TestExpiryWorkflowID(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "presence-expiry-vera-1714564800", workflows.ExpiryWorkflowID("vera", at))
}
