/*
scheduler.go - Periodic ledger audit

PURPOSE:
  Walks every wallet on an interval and compares its materialized balance
  with the sum of its ledger entries. Mismatches are logged at Error and
  kept as the last report for the admin API.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Runs once immediately on start
  - Each wallet is verified under its own lock, so the audit never blocks
    redemptions for longer than one wallet check
  - RunNow lets an operator trigger an audit from the API

USAGE:
  scheduler := NewAuditScheduler(engine.Wallets, log, time.Hour)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - loyalty/ledger.go: Verify, Audit
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/points-engine/loyalty"
)

// Auditor is the part of the wallet ledger the scheduler needs.
type Auditor interface {
	Audit(ctx context.Context) ([]loyalty.Reconciliation, int, error)
}

// AuditReport is the outcome of one audit run.
type AuditReport struct {
	StartedAt time.Time
	Duration  time.Duration
	Checked   int
	Broken    []loyalty.Reconciliation
	Err       error
}

// AuditScheduler runs ledger audits on an interval.
type AuditScheduler struct {
	Auditor  Auditor
	Log      *zap.Logger
	Interval time.Duration
	Enabled  bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	runMu  sync.Mutex
	lastMu sync.Mutex
	last   *AuditReport
}

func NewAuditScheduler(auditor Auditor, log *zap.Logger, interval time.Duration) *AuditScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuditScheduler{
		Auditor:  auditor,
		Log:      log,
		Interval: interval,
		Enabled:  interval > 0,
		stop:     make(chan struct{}),
	}
}

// Start begins the scheduler.
func (s *AuditScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Log.Info("ledger audit disabled")
		return
	}

	s.ticker = time.NewTicker(s.Interval)
	s.wg.Add(1)

	go s.run()

	s.Log.Info("ledger audit started", zap.Duration("interval", s.Interval))
}

// Stop stops the scheduler and waits for a running audit to finish.
func (s *AuditScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.Log.Info("ledger audit stopped")
	}
}

func (s *AuditScheduler) run() {
	defer s.wg.Done()

	s.RunNow(context.Background())

	for {
		select {
		case <-s.ticker.C:
			s.RunNow(context.Background())
		case <-s.stop:
			return
		}
	}
}

// RunNow audits synchronously. Concurrent calls run one after another.
func (s *AuditScheduler) RunNow(ctx context.Context) AuditReport {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	report := AuditReport{StartedAt: time.Now()}
	report.Broken, report.Checked, report.Err = s.Auditor.Audit(ctx)
	report.Duration = time.Since(report.StartedAt)

	switch {
	case report.Err != nil:
		s.Log.Error("ledger audit failed", zap.Int("checked", report.Checked), zap.Error(report.Err))
	case len(report.Broken) > 0:
		s.Log.Error("ledger audit found inconsistent wallets",
			zap.Int("checked", report.Checked),
			zap.Int("broken", len(report.Broken)))
	default:
		s.Log.Info("ledger audit passed",
			zap.Int("checked", report.Checked),
			zap.Duration("duration", report.Duration))
	}

	s.lastMu.Lock()
	s.last = &report
	s.lastMu.Unlock()
	return report
}

// Last returns the most recent report, if any audit has run.
func (s *AuditScheduler) Last() (AuditReport, bool) {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	if s.last == nil {
		return AuditReport{}, false
	}
	return *s.last, true
}
