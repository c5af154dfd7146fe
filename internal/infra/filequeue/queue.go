// internal/infra/filequeue/queue.go
package filequeue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"letter_outreach_bot/internal/domain/approval"
	"letter_outreach_bot/internal/domain/outreach"
	"letter_outreach_bot/internal/infra/logger"

	"github.com/sirupsen/logrus"
)

// Transition describes one state change of an approval record.
type Transition struct {
	ApprovalID approval.ApprovalID
	TaskID     outreach.TaskID
	From       approval.State // empty when the record was created
	To         approval.State
	Iteration  int
	At         time.Time
}

// TransitionObserver is told about every state change after it has been persisted.
type TransitionObserver interface {
	ApprovalTransitioned(ctx context.Context, t Transition) error
}

// Queue is the durable approval state machine. Records are JSON files partitioned by state
// directory; all mutations of one Queue are serialized.
type Queue struct {
	baseDir    string
	now        func() time.Time
	thresholds approval.HealthThresholds
	claimGrace time.Duration
	owner      claimOwner
	observers  []TransitionObserver
	logger     *logrus.Entry

	mu sync.Mutex
}

// Option configures a Queue.
type Option func(*Queue)

// WithNow overrides the clock.
func WithNow(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// WithHealthThresholds overrides the Degraded/Unhealthy limits.
func WithHealthThresholds(th approval.HealthThresholds) Option {
	return func(q *Queue) { q.thresholds = th }
}

// WithClaimGrace sets how old a claim must be before Reconcile releases it.
func WithClaimGrace(d time.Duration) Option {
	return func(q *Queue) { q.claimGrace = d }
}

// WithObserver registers a transition observer.
func WithObserver(obs TransitionObserver) Option {
	return func(q *Queue) {
		if obs != nil {
			q.observers = append(q.observers, obs)
		}
	}
}

// WithLogger overrides the component logger.
func WithLogger(l *logrus.Entry) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// New opens (and creates if needed) a queue rooted at baseDir.
func New(baseDir string, opts ...Option) (*Queue, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("queue base directory is required")
	}
	q := &Queue{
		baseDir:    baseDir,
		now:        func() time.Time { return time.Now().UTC() },
		thresholds: approval.DefaultHealthThresholds(),
		claimGrace: 10 * time.Minute,
		owner:      newClaimOwner(),
		logger:     logger.Log.WithField("component", "approval_queue"),
	}
	for _, opt := range opts {
		opt(q)
	}
	for _, dir := range allDirs() {
		if err := os.MkdirAll(filepath.Join(baseDir, dir), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create queue directory %s: %w", dir, err)
		}
	}
	return q, nil
}

// BaseDir returns the queue root.
func (q *Queue) BaseDir() string {
	return q.baseDir
}

// Create persists a new record in PendingApproval and returns its id.
func (q *Queue) Create(ctx context.Context, p approval.NewParams) (approval.ApprovalID, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := approval.NewApprovalID()
	data := approval.New(id, p, q.now())
	path, err := q.recordPath(approval.StatePendingApproval, id)
	if err != nil {
		return approval.ApprovalID{}, err
	}
	if err := writeJSON(path, data); err != nil {
		return approval.ApprovalID{}, err
	}

	q.logger.WithFields(logrus.Fields{
		"approval_id": id.String(),
		"task_id":     p.TaskID,
		"recipient":   p.RecipientName,
	}).Info("Approval request created")
	q.notify(ctx, Transition{ApprovalID: id, TaskID: p.TaskID, To: approval.StatePendingApproval, Iteration: 1, At: data.UpdatedAt})
	return id, nil
}

// Get loads a record. With a state hint only that partition is consulted.
func (q *Queue) Get(id approval.ApprovalID, hint *approval.State) (*approval.ApprovalData, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	data, _, err := q.locate(id, hint)
	return data, err
}

// MarkAwaitingResponse records that the approval prompt was delivered.
func (q *Queue) MarkAwaitingResponse(ctx context.Context, id approval.ApprovalID) error {
	_, err := q.transition(ctx, id, func(a *approval.ApprovalData, now time.Time) error {
		return a.TransitionTo(approval.StateAwaitingUserResponse, now)
	})
	return err
}

// HandleApproval accepts the reviewed letter. Checks run against the stored record first; a
// failed check leaves it untouched.
func (q *Queue) HandleApproval(ctx context.Context, id approval.ApprovalID, checks ...approval.Check) (*approval.ApprovalData, error) {
	return q.transition(ctx, id, func(a *approval.ApprovalData, now time.Time) error {
		if err := runChecks(a, checks); err != nil {
			return err
		}
		return a.TransitionTo(approval.StateApproved, now)
	})
}

// HandleFeedback records a change request on the latest iteration.
func (q *Queue) HandleFeedback(ctx context.Context, id approval.ApprovalID, text string, user approval.UserID, checks ...approval.Check) (*approval.ApprovalData, error) {
	return q.transition(ctx, id, func(a *approval.ApprovalData, now time.Time) error {
		if err := runChecks(a, checks); err != nil {
			return err
		}
		return a.RecordFeedback(approval.Feedback{Text: text, ProvidedBy: user, ProvidedAt: now}, now)
	})
}

func runChecks(a *approval.ApprovalData, checks []approval.Check) error {
	for _, check := range checks {
		if err := check(a); err != nil {
			return err
		}
	}
	return nil
}

// RequeueAfterImprovement appends an improved letter and returns the record to PendingApproval.
func (q *Queue) RequeueAfterImprovement(ctx context.Context, id approval.ApprovalID, letter outreach.LetterContent) (bool, error) {
	if _, err := q.transition(ctx, id, func(a *approval.ApprovalData, now time.Time) error {
		return a.RequeueWithLetter(letter, now)
	}); err != nil {
		return false, err
	}
	return true, nil
}

// MarkFailed moves a non-terminal record to Failed.
func (q *Queue) MarkFailed(ctx context.Context, id approval.ApprovalID) (bool, error) {
	if _, err := q.transition(ctx, id, func(a *approval.ApprovalData, now time.Time) error {
		return a.TransitionTo(approval.StateFailed, now)
	}); err != nil {
		return false, err
	}
	return true, nil
}

// SetMessageReference stores where the approval prompt was posted. The record stays in its
// partition.
func (q *Queue) SetMessageReference(id approval.ApprovalID, chatID int64, messageID int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	data, path, err := q.locate(id, nil)
	if err != nil {
		return err
	}
	data.SetMessageReference(chatID, messageID, q.now())
	return writeJSON(path, data)
}

// ListByState returns the records of one partition, oldest request first. Unreadable files are
// logged and skipped.
func (q *Queue) ListByState(state approval.State) ([]*approval.ApprovalData, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	dir, err := q.partitionPath(state)
	if err != nil {
		return nil, err
	}
	keep := isRecordFile
	if state == approval.StateFailed {
		keep = isJSONFile
	}
	names, err := listNames(dir, keep)
	if err != nil {
		return nil, err
	}

	records := make([]*approval.ApprovalData, 0, len(names))
	for _, name := range names {
		data, err := readApproval(filepath.Join(dir, name))
		if err != nil {
			q.logger.WithError(err).WithField("file", name).Warn("Skipping unreadable approval record")
			continue
		}
		if data.ApprovalID == (approval.ApprovalID{}) {
			continue
		}
		records = append(records, data)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].RequestedAt.Before(records[j].RequestedAt)
	})
	return records, nil
}

// CountsByState counts the files in every partition. Failure archives count as Failed.
func (q *Queue) CountsByState() (map[approval.State]int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	counts := make(map[approval.State]int, len(approval.AllStates))
	for _, state := range approval.AllStates {
		dir, err := q.partitionPath(state)
		if err != nil {
			return nil, err
		}
		keep := isRecordFile
		if state == approval.StateFailed {
			keep = isJSONFile
		}
		names, err := listNames(dir, keep)
		if err != nil {
			return nil, err
		}
		counts[state] = len(names)
	}
	return counts, nil
}

// HealthCheck reports queue health from the current partition counts.
func (q *Queue) HealthCheck() (approval.HealthReport, error) {
	counts, err := q.CountsByState()
	if err != nil {
		return approval.HealthReport{}, err
	}
	return approval.Evaluate(counts, q.thresholds), nil
}

// transition loads a record from wherever it lives, applies mutate and moves the file to the
// partition of the resulting state. A rejected mutation leaves the file untouched.
func (q *Queue) transition(ctx context.Context, id approval.ApprovalID, mutate func(*approval.ApprovalData, time.Time) error) (*approval.ApprovalData, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	data, oldPath, err := q.locate(id, nil)
	if err != nil {
		return nil, err
	}
	from := data.State
	if err := mutate(data, q.now()); err != nil {
		return nil, err
	}
	if err := q.move(data, oldPath); err != nil {
		return nil, err
	}

	q.logger.WithFields(logrus.Fields{
		"approval_id": id.String(),
		"from":        from,
		"to":          data.State,
		"iteration":   data.CurrentIteration(),
	}).Info("Approval state changed")
	q.notify(ctx, Transition{
		ApprovalID: id,
		TaskID:     data.TaskID,
		From:       from,
		To:         data.State,
		Iteration:  data.CurrentIteration(),
		At:         data.UpdatedAt,
	})
	return data, nil
}

// move writes data into the partition of data.State and then removes oldPath. A crash between
// the two steps leaves a duplicate that Reconcile resolves.
func (q *Queue) move(data *approval.ApprovalData, oldPath string) error {
	newPath, err := q.recordPath(data.State, data.ApprovalID)
	if err != nil {
		return err
	}
	if err := writeJSON(newPath, data); err != nil {
		return err
	}
	if newPath == oldPath {
		return nil
	}
	if err := os.Remove(oldPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s after move: %w", oldPath, err)
	}
	return nil
}

// locate finds the live record file for id. Callers hold q.mu.
func (q *Queue) locate(id approval.ApprovalID, hint *approval.State) (*approval.ApprovalData, string, error) {
	states := approval.AllStates
	if hint != nil {
		states = []approval.State{*hint}
	}
	for _, state := range states {
		path, err := q.recordPath(state, id)
		if err != nil {
			return nil, "", err
		}
		data, err := readApproval(path)
		if err == nil {
			return data, path, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, "", err
		}
	}
	return nil, "", fmt.Errorf("%w: %s", approval.ErrNotFound, id)
}

func (q *Queue) notify(ctx context.Context, t Transition) {
	for _, obs := range q.observers {
		if err := obs.ApprovalTransitioned(ctx, t); err != nil {
			q.logger.WithError(err).WithField("approval_id", t.ApprovalID.String()).Warn("Transition observer failed")
		}
	}
}
