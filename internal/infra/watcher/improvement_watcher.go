// internal/infra/watcher/improvement_watcher.go
package watcher

import (
	"context"
	"errors"
	"strings"
	"time"

	"letter_outreach_bot/internal/domain/approval"
	"letter_outreach_bot/internal/infra/filequeue"
	"letter_outreach_bot/internal/infra/logger"

	"github.com/sirupsen/logrus"
)

var errNoFeedback = errors.New("no feedback found on the latest letter iteration")

// Improver regenerates a letter from reviewer feedback and re-sends it for review.
type Improver interface {
	ProcessImprovementRequest(ctx context.Context, data *approval.ApprovalData, feedback string) (*approval.ApprovalData, error)
}

// NeedsImprovementWatcher picks up letters with change requests.
type NeedsImprovementWatcher struct {
	poller
	improver Improver
}

func NewNeedsImprovementWatcher(store ClaimStore, improver Improver, interval time.Duration) *NeedsImprovementWatcher {
	w := &NeedsImprovementWatcher{improver: improver}
	w.poller = poller{
		state:    approval.StateNeedsImprovement,
		store:    store,
		interval: interval,
		logger:   logger.Log.WithField("component", "needs_improvement_watcher"),
	}
	w.poller.handle = w.process
	return w
}

func (w *NeedsImprovementWatcher) Start(ctx context.Context) error { return w.start(ctx) }

func (w *NeedsImprovementWatcher) Stop() error { return w.stop() }

// RunOnce handles every record currently in the NeedsImprovement partition.
func (w *NeedsImprovementWatcher) RunOnce(ctx context.Context) int { return w.scan(ctx) }

func (w *NeedsImprovementWatcher) process(ctx context.Context, claim *filequeue.Claim) {
	log := w.logger.WithField("file", claim.Name)
	fail := func(data *approval.ApprovalData, cause error) {
		log.WithError(cause).Error("Improvement failed")
		if _, err := w.store.FailClaim(ctx, claim, data, "improvement_failed", cause); err != nil {
			log.WithError(err).Error("Failed to move record to failed")
		}
	}

	data, err := w.store.ReadClaim(claim)
	if err != nil {
		fail(nil, err)
		return
	}
	log = log.WithFields(logrus.Fields{"approval_id": data.ApprovalID.String(), "iteration": data.CurrentIteration()})

	feedback := data.LatestFeedback()
	if feedback == nil || strings.TrimSpace(feedback.Text) == "" {
		fail(data, errNoFeedback)
		return
	}

	updated, err := w.improver.ProcessImprovementRequest(ctx, data, feedback.Text)
	if err != nil {
		fail(data, err)
		return
	}
	if err := w.store.CompleteImprovementClaim(ctx, claim, updated); err != nil {
		fail(updated, err)
		return
	}
	log.WithField("new_iteration", updated.CurrentIteration()).Info("Improved letter sent for review")
}
