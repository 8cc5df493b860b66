/*
scheduler.go - Periodic position audit

PURPOSE:
  Periodically scans every persisted position and reports the ones where
  available != on-hand - reserved. In the default balance mode a BALANCE
  sets available to the snapshot quantity and leaves reserved as is, so
  such gaps are expected after a rebalance on a pair with open
  reservations. The audit makes them visible; it never repairs them.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Keeps the latest report for GET /api/admin/audit
  - Forwards counts to an optional AuditObserver (metrics gauge)

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether the auditor is active (default: true)

USAGE:
  auditor := NewPositionAuditor(engine, logger)
  auditor.Start()
  // ... later
  auditor.Stop()

SEE ALSO:
  - handlers.go: Audit endpoint (manual run)
*/
package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/warp/stock-ledger/inventory"
)

// AuditObserver receives the result of each audit run.
type AuditObserver interface {
	ObserveAudit(checked, inconsistent int)
}

type AuditReport struct {
	RanAt        time.Time     `json:"ran_at"`
	Checked      int           `json:"checked"`
	Inconsistent []PositionDTO `json:"inconsistent"`
	Error        string        `json:"error,omitempty"`
}

// PositionAuditor runs an audit on a fixed interval.
type PositionAuditor struct {
	Engine        *inventory.Engine
	Logger        *slog.Logger
	Observer      AuditObserver
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastMu sync.RWMutex
	last   *AuditReport
}

func NewPositionAuditor(engine *inventory.Engine, logger *slog.Logger) *PositionAuditor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &PositionAuditor{
		Engine:        engine,
		Logger:        logger,
		CheckInterval: time.Hour,
		Enabled:       true,
	}
}

// Start begins the periodic audit. The first run happens immediately.
func (a *PositionAuditor) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.Enabled {
		a.Logger.Info("position auditor disabled")
		return
	}
	if a.ticker != nil {
		return
	}

	a.ticker = time.NewTicker(a.CheckInterval)
	a.stop = make(chan struct{})
	a.wg.Add(1)
	go a.run()

	a.Logger.Info("position auditor started", "interval", a.CheckInterval)
}

// Stop stops the auditor and waits for an in-flight run to finish.
func (a *PositionAuditor) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ticker == nil {
		return
	}
	a.ticker.Stop()
	close(a.stop)
	a.wg.Wait()
	a.ticker = nil
	a.Logger.Info("position auditor stopped")
}

func (a *PositionAuditor) run() {
	defer a.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-a.stop
		cancel()
	}()

	a.Audit(ctx)
	for {
		select {
		case <-a.ticker.C:
			a.Audit(ctx)
		case <-a.stop:
			return
		}
	}
}

// Audit checks every persisted position once and stores the report.
func (a *PositionAuditor) Audit(ctx context.Context) AuditReport {
	report := AuditReport{RanAt: time.Now().UTC(), Inconsistent: []PositionDTO{}}

	positions, err := a.Engine.Positions(ctx, "", "")
	if err == nil {
		var idx inventory.CatalogIndex
		idx, err = a.Engine.CatalogIndex(ctx)
		if err == nil {
			report.Checked = len(positions)
			for _, p := range positions {
				if !p.Consistent() {
					report.Inconsistent = append(report.Inconsistent, toPositionDTO(p, idx))
				}
			}
		}
	}

	if err != nil {
		report.Error = err.Error()
		a.Logger.ErrorContext(ctx, "position audit failed", "err", err)
	} else {
		if len(report.Inconsistent) > 0 {
			a.Logger.WarnContext(ctx, "positions with available != on_hand - reserved",
				"checked", report.Checked, "inconsistent", len(report.Inconsistent))
		}
		if a.Observer != nil {
			a.Observer.ObserveAudit(report.Checked, len(report.Inconsistent))
		}
	}

	a.lastMu.Lock()
	a.last = &report
	a.lastMu.Unlock()
	return report
}

// Last returns the most recent report, or nil before the first run.
func (a *PositionAuditor) Last() *AuditReport {
	a.lastMu.RLock()
	defer a.lastMu.RUnlock()
	return a.last
}

// ServeHTTP runs an audit and returns the report.
// POST /api/admin/audit runs one now; GET returns the last one.
func (a *PositionAuditor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		writeJSON(w, http.StatusOK, a.Audit(r.Context()))
		return
	}
	last := a.Last()
	if last == nil {
		writeError(w, http.StatusNotFound, "No audit has run yet", nil)
		return
	}
	writeJSON(w, http.StatusOK, last)
}
