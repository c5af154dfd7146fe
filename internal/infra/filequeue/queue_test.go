package filequeue

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"letter_outreach_bot/internal/domain/approval"
	"letter_outreach_bot/internal/domain/outreach"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type recordingObserver struct {
	transitions []Transition
}

func (r *recordingObserver) ApprovalTransitioned(_ context.Context, t Transition) error {
	r.transitions = append(r.transitions, t)
	return nil
}

func newTestQueue(t *testing.T, opts ...Option) *Queue {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)}
	q, err := New(t.TempDir(), append([]Option{WithNow(clock.Now)}, opts...)...)
	require.NoError(t, err)
	return q
}

func letter(body string) outreach.LetterContent {
	return outreach.LetterContent{
		Subject:       "Kennenlernen",
		Greeting:      "Hallo Jane,",
		Body:          body,
		SenderName:    "Max",
		RecipientName: "Jane Smith",
		CompanyName:   "Acme",
	}
}

func createJane(t *testing.T, q *Queue) approval.ApprovalID {
	t.Helper()
	id, err := q.Create(context.Background(), approval.NewParams{
		TaskID:        "task-1",
		ContactID:     "contact-1",
		RecipientName: "Jane Smith",
		CompanyName:   "Acme",
		Letter:        letter("draft one"),
		RequestedBy:   1,
	})
	require.NoError(t, err)
	return id
}

// partitionsHolding scans every state partition for a live record of id.
func partitionsHolding(t *testing.T, q *Queue, id approval.ApprovalID) []approval.State {
	t.Helper()
	var found []approval.State
	for _, state := range approval.AllStates {
		path, err := q.recordPath(state, id)
		require.NoError(t, err)
		if _, err := os.Stat(path); err == nil {
			found = append(found, state)
		}
	}
	return found
}

func TestCreateAndGet(t *testing.T) {
	q := newTestQueue(t)
	id := createJane(t, q)

	got, err := q.Get(id, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentIteration())
	assert.Equal(t, approval.StatePendingApproval, got.State)
	assert.Equal(t, "Jane Smith", got.RecipientName)
	assert.Equal(t, "Acme", got.CompanyName)
	assert.Equal(t, []approval.State{approval.StatePendingApproval}, partitionsHolding(t, q, id))

	hint := approval.StatePendingApproval
	_, err = q.Get(id, &hint)
	require.NoError(t, err)

	wrongHint := approval.StateApproved
	_, err = q.Get(id, &wrongHint)
	assert.ErrorIs(t, err, approval.ErrNotFound)

	_, err = q.Get(approval.NewApprovalID(), nil)
	assert.ErrorIs(t, err, approval.ErrNotFound)
}

func TestApproveMovesRecordToApprovedOnly(t *testing.T) {
	q := newTestQueue(t)
	id := createJane(t, q)

	require.NoError(t, q.MarkAwaitingResponse(context.Background(), id))
	data, err := q.HandleApproval(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, approval.StateApproved, data.State)
	assert.Equal(t, []approval.State{approval.StateApproved}, partitionsHolding(t, q, id))
}

func TestFeedbackAttachesToLastIteration(t *testing.T) {
	q := newTestQueue(t)
	id := createJane(t, q)

	require.NoError(t, q.MarkAwaitingResponse(context.Background(), id))
	data, err := q.HandleFeedback(context.Background(), id, "too formal", 7)
	require.NoError(t, err)

	assert.Equal(t, approval.StateNeedsImprovement, data.State)
	last := data.LetterHistory[len(data.LetterHistory)-1]
	require.NotNil(t, last.Feedback)
	assert.Equal(t, "too formal", last.Feedback.Text)
	assert.Equal(t, approval.UserID(7), last.Feedback.ProvidedBy)
	assert.Equal(t, []approval.State{approval.StateNeedsImprovement}, partitionsHolding(t, q, id))
}

func TestIllegalTransitionDoesNotMutateOrMove(t *testing.T) {
	q := newTestQueue(t)
	id := createJane(t, q)
	path, err := q.recordPath(approval.StatePendingApproval, id)
	require.NoError(t, err)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	_, err = q.HandleApproval(context.Background(), id)
	assert.ErrorIs(t, err, approval.ErrInvalidTransition)
	_, err = q.HandleFeedback(context.Background(), id, "nope", 1)
	assert.ErrorIs(t, err, approval.ErrInvalidTransition)
	ok, err := q.RequeueAfterImprovement(context.Background(), id, letter("x"))
	assert.False(t, ok)
	assert.ErrorIs(t, err, approval.ErrInvalidTransition)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, []approval.State{approval.StatePendingApproval}, partitionsHolding(t, q, id))
}

func TestInvalidTransitionIsNotAnIOError(t *testing.T) {
	q := newTestQueue(t)
	id := createJane(t, q)

	_, err := q.HandleApproval(context.Background(), id)
	var te *approval.InvalidTransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, approval.StatePendingApproval, te.From)
	assert.False(t, errors.Is(err, os.ErrNotExist))
}

func TestRequeueAfterImprovementIncrementsIterationAndClearsMessage(t *testing.T) {
	q := newTestQueue(t)
	id := createJane(t, q)
	ctx := context.Background()

	require.NoError(t, q.MarkAwaitingResponse(ctx, id))
	require.NoError(t, q.SetMessageReference(id, -1001, 55))
	_, err := q.HandleFeedback(ctx, id, "shorter", 2)
	require.NoError(t, err)

	ok, err := q.RequeueAfterImprovement(ctx, id, letter("draft two"))
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := q.Get(id, nil)
	require.NoError(t, err)
	assert.Equal(t, approval.StatePendingApproval, got.State)
	assert.Equal(t, 2, got.CurrentIteration())
	assert.Equal(t, "draft two", got.CurrentLetter.Body)
	assert.Equal(t, got.LetterHistory[1].Content, got.CurrentLetter)
	assert.Nil(t, got.TelegramChatID)
	assert.Nil(t, got.TelegramMessageID)
}

func TestDecisionFromSupersededPromptIsRejected(t *testing.T) {
	q := newTestQueue(t)
	id := createJane(t, q)
	ctx := context.Background()

	require.NoError(t, q.MarkAwaitingResponse(ctx, id))
	require.NoError(t, q.SetMessageReference(id, -1001, 1))
	_, err := q.HandleFeedback(ctx, id, "shorter", 2, approval.FromPrompt(1))
	require.NoError(t, err)
	_, err = q.RequeueAfterImprovement(ctx, id, letter("draft two"))
	require.NoError(t, err)
	require.NoError(t, q.MarkAwaitingResponse(ctx, id))

	// Before the new prompt is posted there is no current prompt at all.
	_, err = q.HandleApproval(ctx, id, approval.FromPrompt(1))
	assert.ErrorIs(t, err, approval.ErrStalePrompt)

	require.NoError(t, q.SetMessageReference(id, -1001, 2))
	_, err = q.HandleApproval(ctx, id, approval.FromPrompt(1))
	var stale *approval.StalePromptError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, 2, stale.Iteration)
	assert.ErrorIs(t, err, approval.ErrInvalidTransition)
	_, err = q.HandleFeedback(ctx, id, "again", 2, approval.FromPrompt(1))
	assert.ErrorIs(t, err, approval.ErrStalePrompt)
	assert.Equal(t, []approval.State{approval.StateAwaitingUserResponse}, partitionsHolding(t, q, id))

	data, err := q.HandleApproval(ctx, id, approval.FromPrompt(2))
	require.NoError(t, err)
	assert.Equal(t, approval.StateApproved, data.State)
	assert.Equal(t, "draft two", data.CurrentLetter.Body)
}

func TestMarkFailedRejectsTerminalRecords(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	pending := createJane(t, q)
	ok, err := q.MarkFailed(ctx, pending)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []approval.State{approval.StateFailed}, partitionsHolding(t, q, pending))

	ok, err = q.MarkFailed(ctx, pending)
	assert.False(t, ok)
	assert.ErrorIs(t, err, approval.ErrInvalidTransition)

	approved := createJane(t, q)
	require.NoError(t, q.MarkAwaitingResponse(ctx, approved))
	_, err = q.HandleApproval(ctx, approved)
	require.NoError(t, err)
	_, err = q.MarkFailed(ctx, approved)
	assert.ErrorIs(t, err, approval.ErrInvalidTransition)
}

// Every id lives in exactly one partition after any sequence of operations, and the current
// letter always matches the last history entry.
func TestRandomOperationSequencesKeepOnePartitionPerID(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	var ids []approval.ApprovalID
	for step := 0; step < 300; step++ {
		if len(ids) == 0 || rng.Intn(5) == 0 {
			ids = append(ids, createJane(t, q))
			continue
		}
		id := ids[rng.Intn(len(ids))]
		switch rng.Intn(5) {
		case 0:
			_ = q.MarkAwaitingResponse(ctx, id)
		case 1:
			_, _ = q.HandleApproval(ctx, id)
		case 2:
			_, _ = q.HandleFeedback(ctx, id, "more detail", 3)
		case 3:
			_, _ = q.RequeueAfterImprovement(ctx, id, letter("revised"))
		case 4:
			if rng.Intn(4) == 0 {
				_, _ = q.MarkFailed(ctx, id)
			}
		}

		for _, check := range ids {
			held := partitionsHolding(t, q, check)
			require.Len(t, held, 1, "approval %s at step %d", check, step)
			data, err := q.Get(check, &held[0])
			require.NoError(t, err)
			assert.Equal(t, held[0], data.State)
			assert.Equal(t, data.LetterHistory[len(data.LetterHistory)-1].Content, data.CurrentLetter)
			assert.Equal(t, len(data.LetterHistory), data.LetterHistory[len(data.LetterHistory)-1].Iteration)
		}
	}
}

func TestListCountsAndHealth(t *testing.T) {
	q := newTestQueue(t, WithHealthThresholds(approval.HealthThresholds{MaxPending: 2, MaxFailed: 1}))
	ctx := context.Background()

	report, err := q.HealthCheck()
	require.NoError(t, err)
	assert.Equal(t, approval.HealthHealthy, report.Status)

	first := createJane(t, q)
	createJane(t, q)
	createJane(t, q)

	pending, err := q.ListByState(approval.StatePendingApproval)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, first, pending[0].ApprovalID, "oldest request first")

	report, err = q.HealthCheck()
	require.NoError(t, err)
	assert.Equal(t, approval.HealthDegraded, report.Status)
	assert.Equal(t, 3, report.Counts[approval.StatePendingApproval])

	for _, rec := range pending[:2] {
		_, err := q.MarkFailed(ctx, rec.ApprovalID)
		require.NoError(t, err)
	}
	report, err = q.HealthCheck()
	require.NoError(t, err)
	assert.Equal(t, approval.HealthUnhealthy, report.Status)
	assert.Equal(t, 3, report.Total)
}

func TestObserversSeeEveryTransition(t *testing.T) {
	obs := &recordingObserver{}
	q := newTestQueue(t, WithObserver(obs))
	ctx := context.Background()

	id := createJane(t, q)
	require.NoError(t, q.MarkAwaitingResponse(ctx, id))
	_, err := q.HandleApproval(ctx, id)
	require.NoError(t, err)
	_, _ = q.HandleApproval(ctx, id)

	require.Len(t, obs.transitions, 3)
	assert.Equal(t, approval.State(""), obs.transitions[0].From)
	assert.Equal(t, approval.StatePendingApproval, obs.transitions[0].To)
	assert.Equal(t, approval.StateAwaitingUserResponse, obs.transitions[1].To)
	assert.Equal(t, approval.StateApproved, obs.transitions[2].To)
	assert.Equal(t, outreach.TaskID("task-1"), obs.transitions[2].TaskID)
}

func TestTriggers(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.CreateTrigger(ctx, 1, 0, false)
	assert.Error(t, err)

	first, err := q.CreateTrigger(ctx, 1, 2, false)
	require.NoError(t, err)
	second, err := q.CreateTrigger(ctx, 1, 5, true)
	require.NoError(t, err)

	pending, err := q.ListPendingTriggers()
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first, pending[0].TriggerID)
	assert.True(t, pending[1].DryRun)

	require.NoError(t, q.MarkTriggerProcessed(first, "Processed 1 tasks:\n✅ Task t1: ok"))
	pending, err = q.ListPendingTriggers()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second, pending[0].TriggerID)

	done, err := q.GetTrigger(first)
	require.NoError(t, err)
	assert.True(t, done.Processed)
	require.NotNil(t, done.ProcessedAt)
	require.NotNil(t, done.Result)
	assert.Contains(t, *done.Result, "Processed 1 tasks")
	_, err = os.Stat(filepath.Join(q.BaseDir(), dirTriggersProcessed, triggerFileName(first)))
	assert.NoError(t, err)

	assert.ErrorIs(t, q.MarkTriggerProcessed(first, "again"), approval.ErrTriggerNotFound)
}

func TestUnreadableTriggerIsMovedAside(t *testing.T) {
	q := newTestQueue(t)
	name := triggerFileName(approval.NewTriggerID())
	require.NoError(t, os.WriteFile(filepath.Join(q.BaseDir(), dirTriggers, name), []byte("{not json"), 0o644))

	pending, err := q.ListPendingTriggers()
	require.NoError(t, err)
	assert.Empty(t, pending)
	_, err = os.Stat(filepath.Join(q.BaseDir(), dirTriggersFailed, name))
	assert.NoError(t, err)
}

func TestClaimIsExclusive(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	id := createJane(t, q)
	require.NoError(t, q.MarkAwaitingResponse(ctx, id))
	_, err := q.HandleApproval(ctx, id)
	require.NoError(t, err)

	names, err := q.Claimable(approval.StateApproved)
	require.NoError(t, err)
	require.Equal(t, []string{recordFileName(id)}, names)

	claim, err := q.Claim(approval.StateApproved, names[0])
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(claim.Path, claimSuffix))

	_, err = q.Claim(approval.StateApproved, names[0])
	assert.ErrorIs(t, err, ErrAlreadyClaimed)

	names, err = q.Claimable(approval.StateApproved)
	require.NoError(t, err)
	assert.Empty(t, names)
	_, err = q.Get(id, nil)
	assert.ErrorIs(t, err, approval.ErrNotFound, "claimed records are not visible")

	data, err := q.ReadClaim(claim)
	require.NoError(t, err)
	archived, err := q.ArchiveClaim(claim, data)
	require.NoError(t, err)
	assert.Contains(t, filepath.Base(archived), "approval_"+id.String()+"_processed_")
	_, err = os.Stat(claim.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestFailClaimKeepsDiagnostics(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	corrupt := recordFileName(approval.NewApprovalID())
	require.NoError(t, os.WriteFile(filepath.Join(q.BaseDir(), dirApproved, corrupt), []byte("garbage"), 0o644))
	claim, err := q.Claim(approval.StateApproved, corrupt)
	require.NoError(t, err)
	_, readErr := q.ReadClaim(claim)
	require.Error(t, readErr)

	dst, err := q.FailClaim(ctx, claim, nil, "error", readErr)
	require.NoError(t, err)
	assert.Contains(t, filepath.Base(dst), "_error_")
	raw, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"raw_content": "garbage"`)
	assert.Contains(t, string(raw), `"failure_reason"`)

	id := createJane(t, q)
	require.NoError(t, q.MarkAwaitingResponse(ctx, id))
	_, err = q.HandleFeedback(ctx, id, "warmer", 1)
	require.NoError(t, err)
	claim, err = q.Claim(approval.StateNeedsImprovement, recordFileName(id))
	require.NoError(t, err)
	data, err := q.ReadClaim(claim)
	require.NoError(t, err)
	dst, err = q.FailClaim(ctx, claim, data, "improvement_failed", errors.New("letter service down"))
	require.NoError(t, err)
	assert.Contains(t, filepath.Base(dst), "_improvement_failed_")

	failed, err := q.ListByState(approval.StateFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1, "the corrupt archive has no approval id")
	assert.Equal(t, approval.StateFailed, failed[0].State)

	counts, err := q.CountsByState()
	require.NoError(t, err)
	assert.Equal(t, 2, counts[approval.StateFailed])
}

func TestCompleteImprovementClaimRequiresAwaitingState(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	id := createJane(t, q)
	require.NoError(t, q.MarkAwaitingResponse(ctx, id))
	_, err := q.HandleFeedback(ctx, id, "more concrete", 1)
	require.NoError(t, err)

	claim, err := q.Claim(approval.StateNeedsImprovement, recordFileName(id))
	require.NoError(t, err)
	data, err := q.ReadClaim(claim)
	require.NoError(t, err)

	assert.ErrorIs(t, q.CompleteImprovementClaim(ctx, claim, data), approval.ErrInvalidTransition)

	now := time.Date(2026, 5, 5, 0, 0, 0, 0, time.UTC)
	require.NoError(t, data.RequeueWithLetter(letter("draft two"), now))
	require.NoError(t, data.TransitionTo(approval.StateAwaitingUserResponse, now))
	require.NoError(t, q.CompleteImprovementClaim(ctx, claim, data))

	assert.Equal(t, []approval.State{approval.StateAwaitingUserResponse}, partitionsHolding(t, q, id))
	got, err := q.Get(id, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentIteration())
}

func TestReconcileRemovesOlderDuplicateAndReleasesStaleClaims(t *testing.T) {
	clock := &fakeClock{now: time.Now().UTC().Add(time.Hour)}
	q, err := New(t.TempDir(), WithNow(clock.Now), WithClaimGrace(time.Minute))
	require.NoError(t, err)
	ctx := context.Background()

	id := createJane(t, q)
	pendingPath, err := q.recordPath(approval.StatePendingApproval, id)
	require.NoError(t, err)
	stale, err := os.ReadFile(pendingPath)
	require.NoError(t, err)
	require.NoError(t, q.MarkAwaitingResponse(ctx, id))
	// Simulate a crash between writing the new copy and removing the old one.
	require.NoError(t, os.WriteFile(pendingPath, stale, 0o644))
	require.Len(t, partitionsHolding(t, q, id), 2)

	other := createJane(t, q)
	otherPath, err := q.recordPath(approval.StatePendingApproval, other)
	require.NoError(t, err)
	require.NoError(t, os.Rename(otherPath, otherPath+claimSuffix))

	report, err := q.Reconcile()
	require.NoError(t, err)
	assert.Equal(t, 1, report.DuplicatesRemoved)
	assert.Equal(t, 1, report.ClaimsReleased)
	assert.Equal(t, []approval.State{approval.StateAwaitingUserResponse}, partitionsHolding(t, q, id))
	assert.Equal(t, []approval.State{approval.StatePendingApproval}, partitionsHolding(t, q, other))
}
