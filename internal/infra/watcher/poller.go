// internal/infra/watcher/poller.go
package watcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"letter_outreach_bot/internal/domain/approval"
	"letter_outreach_bot/internal/infra/filequeue"

	"github.com/sirupsen/logrus"
)

var (
	ErrWatcherAlreadyRunning = errors.New("watcher already running")
	ErrWatcherNotRunning     = errors.New("watcher not running")
)

// DefaultPollInterval is how often a partition is rescanned.
const DefaultPollInterval = 5 * time.Second

// ClaimStore is the part of the approval queue the watchers work against.
type ClaimStore interface {
	Claimable(state approval.State) ([]string, error)
	Claim(state approval.State, name string) (*filequeue.Claim, error)
	ReadClaim(c *filequeue.Claim) (*approval.ApprovalData, error)
	RecordDispatch(c *filequeue.Claim, data *approval.ApprovalData) error
	ArchiveClaim(c *filequeue.Claim, data *approval.ApprovalData) (string, error)
	FailClaim(ctx context.Context, c *filequeue.Claim, data *approval.ApprovalData, suffix string, cause error) (string, error)
	CompleteImprovementClaim(ctx context.Context, c *filequeue.Claim, data *approval.ApprovalData) error
}

// poller scans one partition on start and then at a fixed interval, handing every record it
// manages to claim to handle.
type poller struct {
	state    approval.State
	store    ClaimStore
	interval time.Duration
	logger   *logrus.Entry
	handle   func(ctx context.Context, claim *filequeue.Claim)

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func (p *poller) start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrWatcherAlreadyRunning
	}
	if p.interval <= 0 {
		p.interval = DefaultPollInterval
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.running = true

	p.logger.WithFields(logrus.Fields{
		"partition": p.state,
		"interval":  p.interval.String(),
	}).Info("Watcher starting")

	p.wg.Add(1)
	go p.run(ctx)
	return nil
}

func (p *poller) stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return ErrWatcherNotRunning
	}
	p.cancel()
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("Watcher stopped")
	return nil
}

func (p *poller) run(ctx context.Context) {
	defer p.wg.Done()

	if n := p.scan(ctx); n > 0 {
		p.logger.WithField("records", n).Info("Recovered records present at startup")
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.scan(ctx)
		}
	}
}

// scan claims and handles every record currently in the partition and returns how many it
// handled.
func (p *poller) scan(ctx context.Context) int {
	names, err := p.store.Claimable(p.state)
	if err != nil {
		p.logger.WithError(err).Error("Failed to list partition")
		return 0
	}
	handled := 0
	for _, name := range names {
		if ctx.Err() != nil {
			return handled
		}
		claim, err := p.store.Claim(p.state, name)
		if err != nil {
			p.logger.WithError(err).WithField("file", name).Warn("Could not claim record, skipping")
			continue
		}
		p.handle(ctx, claim)
		handled++
	}
	return handled
}
