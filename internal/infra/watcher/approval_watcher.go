// internal/infra/watcher/approval_watcher.go
package watcher

import (
	"context"
	"time"

	"letter_outreach_bot/internal/domain/approval"
	"letter_outreach_bot/internal/infra/filequeue"
	"letter_outreach_bot/internal/infra/logger"

	"github.com/sirupsen/logrus"
)

// ApprovalContinuer sends an approved letter.
type ApprovalContinuer interface {
	ContinueAfterApproval(ctx context.Context, data *approval.ApprovalData) (string, error)
}

// ApprovalWatcher picks up approved letters and dispatches them.
type ApprovalWatcher struct {
	poller
	continuer ApprovalContinuer
	now       func() time.Time
}

func NewApprovalWatcher(store ClaimStore, continuer ApprovalContinuer, interval time.Duration) *ApprovalWatcher {
	w := &ApprovalWatcher{continuer: continuer, now: func() time.Time { return time.Now().UTC() }}
	w.poller = poller{
		state:    approval.StateApproved,
		store:    store,
		interval: interval,
		logger:   logger.Log.WithField("component", "approval_watcher"),
	}
	w.poller.handle = w.process
	return w
}

// Start drains the Approved partition and keeps polling until Stop or ctx cancellation.
func (w *ApprovalWatcher) Start(ctx context.Context) error { return w.start(ctx) }

func (w *ApprovalWatcher) Stop() error { return w.stop() }

// RunOnce handles every record currently in the Approved partition.
func (w *ApprovalWatcher) RunOnce(ctx context.Context) int { return w.scan(ctx) }

func (w *ApprovalWatcher) process(ctx context.Context, claim *filequeue.Claim) {
	log := w.logger.WithField("file", claim.Name)

	data, err := w.store.ReadClaim(claim)
	if err != nil {
		log.WithError(err).Error("Unreadable approved record")
		if _, ferr := w.store.FailClaim(ctx, claim, nil, "error", err); ferr != nil {
			log.WithError(ferr).Error("Failed to move unreadable record to failed")
		}
		return
	}
	log = log.WithFields(logrus.Fields{"approval_id": data.ApprovalID.String(), "task_id": data.TaskID})

	// A claim released after a successful send carries the dispatch marker; it is only archived.
	if data.Dispatched() {
		log.Warn("Approved letter was already sent, archiving without resending")
		w.archive(log, claim, data)
		return
	}

	result, err := w.continuer.ContinueAfterApproval(ctx, data)
	if err != nil {
		log.WithError(err).Error("Sending approved letter failed")
		if _, ferr := w.store.FailClaim(ctx, claim, data, "failed", err); ferr != nil {
			log.WithError(ferr).Error("Failed to move record to failed")
		}
		return
	}

	data.MarkDispatched(result, w.now())
	if err := w.store.RecordDispatch(claim, data); err != nil {
		log.WithError(err).Error("Failed to record dispatch in claim")
	}
	w.archive(log, claim, data)
	log.WithField("result", result).Info("Approved letter processed")
}

func (w *ApprovalWatcher) archive(log *logrus.Entry, claim *filequeue.Claim, data *approval.ApprovalData) {
	if _, err := w.store.ArchiveClaim(claim, data); err != nil {
		log.WithError(err).Error("Letter sent but archiving failed, the claim keeps the dispatch marker")
	}
}
