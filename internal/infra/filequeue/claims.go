// internal/infra/filequeue/claims.go
package filequeue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"letter_outreach_bot/internal/domain/approval"

	"github.com/sirupsen/logrus"
)

// ErrAlreadyClaimed is returned when another watcher renamed the record first.
var ErrAlreadyClaimed = errors.New("approval record already claimed")

// Claim is a record taken out of its partition by a watcher. While claimed the file carries the
// owner and the ".processing" suffix and is invisible to Get, ListByState and other watchers.
type Claim struct {
	State approval.State
	Name  string // original file name
	Path  string // path of the claimed file
}

// failureRecord is what lands in the failed partition when a watcher gives up on a claim.
type failureRecord struct {
	*approval.ApprovalData
	FailureReason string `json:"failure_reason"`
	FailedAt      string `json:"failed_at"`
	SourceFile    string `json:"source_file"`
	RawContent    string `json:"raw_content,omitempty"`
}

// Claimable lists the unclaimed record file names in a partition.
func (q *Queue) Claimable(state approval.State) ([]string, error) {
	dir, err := q.partitionPath(state)
	if err != nil {
		return nil, err
	}
	return listNames(dir, isRecordFile)
}

// Claim atomically renames a record to its ".processing" name, tagged with this process.
func (q *Queue) Claim(state approval.State, name string) (*Claim, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	dir, err := q.partitionPath(state)
	if err != nil {
		return nil, err
	}
	src := filepath.Join(dir, name)
	dst := q.owner.claimPath(src)
	if err := os.Rename(src, dst); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyClaimed, name)
		}
		return nil, fmt.Errorf("failed to claim %s: %w", name, err)
	}
	return &Claim{State: state, Name: name, Path: dst}, nil
}

// ReadClaim decodes the claimed record.
func (q *Queue) ReadClaim(c *Claim) (*approval.ApprovalData, error) {
	return readApproval(c.Path)
}

// RecordDispatch persists a dispatched record into its claim. Should the claim be released
// before it is archived, the record shows the letter was already sent.
func (q *Queue) RecordDispatch(c *Claim, data *approval.ApprovalData) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return writeJSON(c.Path, data)
}

// ArchiveClaim stores a successfully handled record in the processed archive and releases the
// claim.
func (q *Queue) ArchiveClaim(c *Claim, data *approval.ApprovalData) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	name := fmt.Sprintf("%s%s_processed_%s%s", recordPrefix, data.ApprovalID, q.now().Format(timestampLayout), jsonSuffix)
	dst := filepath.Join(q.baseDir, dirProcessed, name)
	if err := writeJSON(dst, data); err != nil {
		return "", err
	}
	if err := os.Remove(c.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to release claim %s: %w", c.Path, err)
	}
	q.logger.WithFields(logrus.Fields{"approval_id": data.ApprovalID.String(), "archive": name}).Info("Approval archived as processed")
	return dst, nil
}

// FailClaim moves a claim into the failed partition together with the failure reason. data may
// be nil when the claimed file could not be decoded; the raw bytes are kept instead. suffix
// names the failure kind ("failed", "error", "improvement_failed").
func (q *Queue) FailClaim(ctx context.Context, c *Claim, data *approval.ApprovalData, suffix string, cause error) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	record := failureRecord{
		ApprovalData: data,
		FailedAt:     now.Format("2006-01-02T15:04:05Z07:00"),
		SourceFile:   c.Name,
	}
	if cause != nil {
		record.FailureReason = cause.Error()
	}

	var name string
	if data != nil {
		// Approved is terminal, so a failed dispatch keeps its state and is only archived here.
		from := data.State
		if data.TransitionTo(approval.StateFailed, now) == nil {
			defer q.notify(ctx, Transition{
				ApprovalID: data.ApprovalID,
				TaskID:     data.TaskID,
				From:       from,
				To:         approval.StateFailed,
				Iteration:  data.CurrentIteration(),
				At:         now,
			})
		}
		name = fmt.Sprintf("%s%s_%s_%s%s", recordPrefix, data.ApprovalID, suffix, now.Format(timestampLayout), jsonSuffix)
	} else {
		raw, _ := os.ReadFile(c.Path)
		record.RawContent = string(raw)
		name = fmt.Sprintf("%s_%s_%s%s", strings.TrimSuffix(c.Name, jsonSuffix), suffix, now.Format(timestampLayout), jsonSuffix)
	}

	dst := filepath.Join(q.baseDir, dirFailed, name)
	if err := writeJSON(dst, record); err != nil {
		return "", err
	}
	if err := os.Remove(c.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to release claim %s: %w", c.Path, err)
	}
	q.logger.WithFields(logrus.Fields{"source": c.Name, "archive": name}).WithError(cause).Warn("Approval moved to failed")
	return dst, nil
}

// CompleteImprovementClaim writes an improved record, already re-sent for review, into the
// AwaitingUserResponse partition and releases the claim.
func (q *Queue) CompleteImprovementClaim(ctx context.Context, c *Claim, data *approval.ApprovalData) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if data.State != approval.StateAwaitingUserResponse {
		return &approval.InvalidTransitionError{ID: data.ApprovalID, From: data.State, To: approval.StateAwaitingUserResponse}
	}
	path, err := q.recordPath(approval.StateAwaitingUserResponse, data.ApprovalID)
	if err != nil {
		return err
	}
	if err := writeJSON(path, data); err != nil {
		return err
	}
	if err := os.Remove(c.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to release claim %s: %w", c.Path, err)
	}
	q.notify(ctx, Transition{
		ApprovalID: data.ApprovalID,
		TaskID:     data.TaskID,
		From:       c.State,
		To:         approval.StateAwaitingUserResponse,
		Iteration:  data.CurrentIteration(),
		At:         data.UpdatedAt,
	})
	return nil
}
