package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"letter_outreach_bot/internal/domain/apperror"
	"letter_outreach_bot/internal/domain/approval"
	"letter_outreach_bot/internal/domain/outreach"
	"letter_outreach_bot/internal/infra/filequeue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	seen []approval.TriggerID
	fail map[approval.TriggerID]error
}

func (f *fakeRunner) ProcessWorkflow(_ context.Context, t *approval.WorkflowTrigger) (*approval.WorkflowTrigger, error) {
	f.seen = append(f.seen, t.TriggerID)
	if err := f.fail[t.TriggerID]; err != nil {
		return nil, err
	}
	out := *t
	out.MarkProcessed("Processed 0 tasks", time.Now())
	return &out, nil
}

func newClockedQueue(t *testing.T) *filequeue.Queue {
	t.Helper()
	now := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	q, err := filequeue.New(t.TempDir(), filequeue.WithNow(func() time.Time {
		now = now.Add(time.Second)
		return now
	}))
	require.NoError(t, err)
	return q
}

func TestProcessPendingTriggersInArrivalOrder(t *testing.T) {
	q := newClockedQueue(t)
	runner := &fakeRunner{fail: map[approval.TriggerID]error{}}
	svc := NewTriggerService(q, runner)
	ctx := context.Background()

	first, err := svc.Submit(ctx, 1, 3, false)
	require.NoError(t, err)
	second, err := svc.Submit(ctx, 1, 1, false)
	require.NoError(t, err)
	runner.fail[second] = errors.New("crm unavailable")

	handled, err := svc.ProcessPendingTriggers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, handled)
	assert.Equal(t, []approval.TriggerID{first, second}, runner.seen)

	done, err := svc.Get(first)
	require.NoError(t, err)
	assert.True(t, done.Processed)
	require.NotNil(t, done.Result)
	assert.Equal(t, "Processed 0 tasks", *done.Result)

	failed, err := svc.Get(second)
	require.NoError(t, err)
	require.NotNil(t, failed.Result)
	assert.Equal(t, "Failed: crm unavailable", *failed.Result)

	pending, err := q.ListPendingTriggers()
	require.NoError(t, err)
	assert.Empty(t, pending)

	handled, err = svc.ProcessPendingTriggers(ctx)
	require.NoError(t, err)
	assert.Zero(t, handled)
}

func TestProcessTriggerRunsOnlyTheRequestedTrigger(t *testing.T) {
	q := newClockedQueue(t)
	runner := &fakeRunner{fail: map[approval.TriggerID]error{}}
	svc := NewTriggerService(q, runner)
	ctx := context.Background()

	older, err := svc.Submit(ctx, 1, 5, false)
	require.NoError(t, err)
	mine, err := svc.Submit(ctx, 2, 1, false)
	require.NoError(t, err)

	done, err := svc.ProcessTrigger(ctx, mine)
	require.NoError(t, err)
	assert.True(t, done.Processed)
	assert.Equal(t, []approval.TriggerID{mine}, runner.seen)

	pending, err := q.ListPendingTriggers()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, older, pending[0].TriggerID)

	_, err = svc.ProcessTrigger(ctx, mine)
	assert.ErrorIs(t, err, approval.ErrTriggerNotFound)
}

func TestProcessPendingTriggersSkipsTriggersClaimedElsewhere(t *testing.T) {
	dir := t.TempDir()
	bot, err := filequeue.New(dir)
	require.NoError(t, err)
	cli, err := filequeue.New(dir)
	require.NoError(t, err)
	runner := &fakeRunner{fail: map[approval.TriggerID]error{}}
	svc := NewTriggerService(bot, runner)
	ctx := context.Background()

	id, err := svc.Submit(ctx, 1, 2, false)
	require.NoError(t, err)
	_, err = cli.ClaimTrigger(id)
	require.NoError(t, err)

	handled, err := svc.ProcessPendingTriggers(ctx)
	require.NoError(t, err)
	assert.Zero(t, handled)
	assert.Empty(t, runner.seen)

	_, err = svc.ProcessTrigger(ctx, id)
	assert.ErrorIs(t, err, approval.ErrTriggerClaimed)
}

func TestSubmitRejectsNonPositiveMaxTasks(t *testing.T) {
	svc := NewTriggerService(newClockedQueue(t), &fakeRunner{})

	_, err := svc.Submit(context.Background(), 1, 0, false)
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindValidation))
}

func TestTriggerEndToEndWithOrchestrator(t *testing.T) {
	q := newClockedQueue(t)
	steps := newFakeSteps()
	steps.tasks = []outreach.Task{task("t1")}
	svc := NewTriggerService(q, newTestOrchestrator(steps))
	ctx := context.Background()

	id, err := svc.Submit(ctx, 1, 5, false)
	require.NoError(t, err)
	_, err = svc.ProcessPendingTriggers(ctx)
	require.NoError(t, err)

	done, err := svc.Get(id)
	require.NoError(t, err)
	require.NotNil(t, done.Result)
	assert.Equal(t, "Processed 1 tasks:\n✅ Task t1: Awaiting user response via Telegram", *done.Result)
}
