// internal/infra/filequeue/reconcile.go
package filequeue

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"letter_outreach_bot/internal/domain/approval"

	"github.com/sirupsen/logrus"
)

// ReconcileReport summarizes what Reconcile repaired.
type ReconcileReport struct {
	DuplicatesRemoved int
	ClaimsReleased    int
	TempFilesRemoved  int
}

// stateRank orders states by lifecycle progress; used to break updated_at ties.
var stateRank = map[approval.State]int{
	approval.StatePendingApproval:      0,
	approval.StateAwaitingUserResponse: 1,
	approval.StateNeedsImprovement:     2,
	approval.StateApproved:             3,
	approval.StateFailed:               3,
}

type located struct {
	state approval.State
	path  string
	data  *approval.ApprovalData
}

// Reconcile repairs the layout after a crash. It is safe to run against a live queue:
//   - an id present in more than one partition keeps only its most recently updated copy,
//   - claims whose owner has exited on this host are returned to their partition at once,
//     claims of other owners once they are older than the grace period; claims held by this
//     queue are never touched,
//   - temp files older than the grace period are removed.
func (q *Queue) Reconcile() (ReconcileReport, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var report ReconcileReport
	byID := make(map[approval.ApprovalID][]located)
	now := q.now()

	for _, state := range approval.AllStates {
		dir, err := q.partitionPath(state)
		if err != nil {
			return report, err
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return report, err
		}
		for _, entry := range entries {
			name := entry.Name()
			path := filepath.Join(dir, name)
			switch {
			case entry.IsDir():
			case strings.HasPrefix(name, ".") && strings.HasSuffix(name, tmpSuffix):
				if q.olderThanGrace(entry, now) && os.Remove(path) == nil {
					report.TempFilesRemoved++
				}
			case strings.HasSuffix(name, claimSuffix):
				original, ok := q.releaseClaim(dir, entry, now)
				if !ok {
					continue
				}
				report.ClaimsReleased++
				if id, ok := parseRecordFileName(filepath.Base(original)); ok {
					if data, err := readApproval(original); err == nil {
						byID[id] = append(byID[id], located{state: state, path: original, data: data})
					}
				}
			default:
				id, ok := parseRecordFileName(name)
				if !ok {
					continue
				}
				data, err := readApproval(path)
				if err != nil {
					q.logger.WithError(err).WithField("file", name).Warn("Unreadable record left in place")
					continue
				}
				byID[id] = append(byID[id], located{state: state, path: path, data: data})
			}
		}
	}
	report.ClaimsReleased += q.releaseTriggerClaims(now)

	for id, copies := range byID {
		if len(copies) < 2 {
			continue
		}
		keep := 0
		for i := 1; i < len(copies); i++ {
			if newer(copies[i], copies[keep]) {
				keep = i
			}
		}
		for i, c := range copies {
			if i == keep {
				continue
			}
			if err := os.Remove(c.path); err != nil {
				q.logger.WithError(err).WithField("file", c.path).Warn("Failed to remove duplicate record")
				continue
			}
			report.DuplicatesRemoved++
			q.logger.WithFields(logrus.Fields{
				"approval_id": id.String(),
				"removed":     c.state,
				"kept":        copies[keep].state,
			}).Warn("Removed duplicate approval record")
		}
	}
	return report, nil
}

// releaseTriggerClaims returns abandoned trigger claims to the pending triggers.
func (q *Queue) releaseTriggerClaims(now time.Time) int {
	dir := filepath.Join(q.baseDir, dirTriggers)
	entries, err := os.ReadDir(dir)
	if err != nil {
		q.logger.WithError(err).Warn("Failed to scan trigger claims")
		return 0
	}
	released := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), claimSuffix) {
			continue
		}
		if _, ok := q.releaseClaim(dir, entry, now); ok {
			released++
		}
	}
	return released
}

// releaseClaim renames a releasable claim back to its original name. Callers hold q.mu.
func (q *Queue) releaseClaim(dir string, entry os.DirEntry, now time.Time) (string, bool) {
	name := entry.Name()
	originalName, owner, ok := parseClaimName(name)
	if !ok || (owner != nil && owner.instance == q.owner.instance) {
		return "", false
	}
	reason := "owner exited"
	if !q.ownerExited(owner) {
		if !q.olderThanGrace(entry, now) {
			return "", false
		}
		reason = "stale"
	}
	original := filepath.Join(dir, originalName)
	if err := os.Rename(filepath.Join(dir, name), original); err != nil {
		q.logger.WithError(err).WithField("file", name).Warn("Failed to release claim")
		return "", false
	}
	q.logger.WithFields(logrus.Fields{"file": name, "reason": reason}).Info("Released abandoned claim")
	return original, true
}

func (q *Queue) olderThanGrace(entry os.DirEntry, now time.Time) bool {
	info, err := entry.Info()
	if err != nil {
		return false
	}
	return now.Sub(info.ModTime()) >= q.claimGrace
}

func newer(a, b located) bool {
	if !a.data.UpdatedAt.Equal(b.data.UpdatedAt) {
		return a.data.UpdatedAt.After(b.data.UpdatedAt)
	}
	return stateRank[a.state] > stateRank[b.state]
}
