/*
auditor.go - Periodic ledger audit

PURPOSE:
  Periodically checks that every shipment's stored cost still matches the
  price of its current product set, and that no balance went negative.
  Findings are logged, exported as a gauge and served on GET /api/admin/audit.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Report-only: the audit never re-prices or refunds anything
  - Keeps the last report for the admin endpoint

CONFIGURATION:
  - Interval: How often to check (default: 1 hour)
  - Enabled: Whether the auditor is active (default: true)

USAGE:
  auditor := NewAuditor(store, logger, metrics)
  auditor.Start()
  // ... later
  auditor.Stop()

SEE ALSO:
  - shipping/audit.go: The audit pass itself
  - handlers.go: RunAudit endpoint (manual audit)
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/shipment-engine/shipping"
)

// Auditor runs shipping.Audit on a ticker.
type Auditor struct {
	Store    shipping.Store
	Interval time.Duration
	Enabled  bool

	logger  zerolog.Logger
	metrics *Metrics

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastMu sync.RWMutex
	last   *shipping.AuditReport
}

// NewAuditor creates an auditor. metrics may be nil.
func NewAuditor(store shipping.Store, logger zerolog.Logger, metrics *Metrics) *Auditor {
	return &Auditor{
		Store:    store,
		Interval: time.Hour,
		Enabled:  true,
		logger:   logger.With().Str("component", "auditor").Logger(),
		metrics:  metrics,
	}
}

// Start begins the periodic audit.
func (a *Auditor) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.Enabled {
		a.logger.Info().Msg("disabled, not starting")
		return
	}
	if a.ticker != nil {
		return
	}

	a.ticker = time.NewTicker(a.Interval)
	a.stop = make(chan struct{})
	a.wg.Add(1)

	go a.run(a.ticker, a.stop)

	a.logger.Info().Dur("interval", a.Interval).Msg("started")
}

// Stop stops the auditor and waits for a running pass to finish.
func (a *Auditor) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ticker != nil {
		a.ticker.Stop()
		close(a.stop)
		a.wg.Wait()
		a.ticker = nil
		a.logger.Info().Msg("stopped")
	}
}

func (a *Auditor) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer a.wg.Done()

	// Run immediately on start
	a.runOnce(context.Background())

	for {
		select {
		case <-ticker.C:
			a.runOnce(context.Background())
		case <-stop:
			return
		}
	}
}

func (a *Auditor) runOnce(ctx context.Context) {
	if _, err := a.RunNow(ctx); err != nil {
		a.logger.Error().Err(err).Msg("audit failed")
	}
}

// RunNow runs one audit pass immediately and records it as the last report.
func (a *Auditor) RunNow(ctx context.Context) (shipping.AuditReport, error) {
	report, err := shipping.Audit(ctx, a.Store, time.Now().UTC())
	if err != nil {
		return report, err
	}

	a.lastMu.Lock()
	a.last = &report
	a.lastMu.Unlock()
	a.metrics.observeAudit(report)

	for _, d := range report.Drifted {
		a.logger.Warn().
			Str("shipment_id", string(d.ShipmentID)).
			Str("user_id", string(d.UserID)).
			Str("total_weight", d.TotalWeight.String()).
			Str("stored_cost", d.Stored.String()).
			Str("expected_cost", d.Expected.String()).
			Msg("shipment cost drift")
	}
	for _, id := range report.NegativeBalances {
		a.logger.Warn().Str("user_id", string(id)).Msg("negative balance")
	}
	for _, m := range report.LedgerMismatches {
		a.logger.Error().
			Str("user_id", string(m.UserID)).
			Str("stored_balance", m.Stored.String()).
			Str("replayed_balance", m.Replayed.String()).
			Msg("balance does not match movement log")
	}
	a.logger.Debug().
		Int("users", report.UsersChecked).
		Int("shipments", report.ShipmentsChecked).
		Int("drifted", len(report.Drifted)).
		Int("ledger_mismatches", len(report.LedgerMismatches)).
		Msg("audit completed")

	return report, nil
}

// LastReport returns the most recent report, if any pass has completed.
func (a *Auditor) LastReport() (shipping.AuditReport, bool) {
	a.lastMu.RLock()
	defer a.lastMu.RUnlock()
	if a.last == nil {
		return shipping.AuditReport{}, false
	}
	return *a.last, true
}

// NextRunTime returns when the next scheduled check will occur.
func (a *Auditor) NextRunTime() time.Time {
	return time.Now().Add(a.Interval)
}
