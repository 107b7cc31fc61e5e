/*
auditor.go - Background balance drift auditor

PURPOSE:
  Periodically sweeps every fund through RecalculateBalance, logging and
  repairing any divergence between the cached balance and the sum of the
  fund's ledger rows. Drift should never happen - every write path adjusts
  the cache in the same unit of work - so a repair here means a defect worth
  investigating, not business as usual.

DESIGN:
  - Runs a background goroutine with configurable sweep interval
  - First sweep runs immediately on Start
  - Holds each fund's lock only for the duration of its own recalculation

CONFIGURATION:
  - Interval: How often to sweep (default: 1 hour)
  - Enabled:  Whether the auditor is active (default: true)

USAGE:
  auditor := NewDriftAuditor(store, ledger)
  auditor.Start()
  // ... later
  auditor.Stop()

SEE ALSO:
  - ledger/ledger.go: RecalculateBalance
  - handlers.go: RunAudit endpoint (manual sweep)
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ipupy/treasury-engine/ledger"
	"github.com/ipupy/treasury-engine/store/sqlite"
)

// DriftAuditor periodically verifies fund balance caches against the ledger.
type DriftAuditor struct {
	Store    *sqlite.Store
	Ledger   *ledger.Ledger
	Interval time.Duration
	Enabled  bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewDriftAuditor creates a new auditor.
func NewDriftAuditor(store *sqlite.Store, led *ledger.Ledger) *DriftAuditor {
	return &DriftAuditor{
		Store:    store,
		Ledger:   led,
		Interval: 1 * time.Hour,
		Enabled:  true,
		stop:     make(chan bool),
	}
}

// Start begins the auditor.
func (a *DriftAuditor) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.Enabled {
		log.Println("[Auditor] Disabled, not starting")
		return
	}

	a.ticker = time.NewTicker(a.Interval)
	a.wg.Add(1)

	go a.run()

	log.Printf("[Auditor] Started with sweep interval: %v", a.Interval)
}

// Stop stops the auditor.
func (a *DriftAuditor) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ticker != nil {
		a.ticker.Stop()
		close(a.stop)
		a.wg.Wait()
		log.Println("[Auditor] Stopped")
	}
}

func (a *DriftAuditor) run() {
	defer a.wg.Done()

	// Run immediately on start
	a.sweep()

	for {
		select {
		case <-a.ticker.C:
			a.sweep()
		case <-a.stop:
			return
		}
	}
}

func (a *DriftAuditor) sweep() {
	ctx := context.Background()

	funds, err := a.Store.ListFunds(ctx, true)
	if err != nil {
		log.Printf("[Auditor] Error listing funds: %v", err)
		return
	}

	repaired := 0
	for _, f := range funds {
		res, err := a.Ledger.RecalculateBalance(ctx, f.ID)
		if err != nil {
			log.Printf("[Auditor] Error recalculating fund %s: %v", f.ID, err)
			continue
		}
		if res.Repaired {
			log.Printf("[Auditor] Fund %s drifted by %s (cached %s, computed %s), repaired",
				f.ID, res.Drift(), res.Cached, res.Computed)
			repaired++
		}
	}

	if repaired > 0 {
		log.Printf("[Auditor] Sweep completed: %d of %d funds repaired", repaired, len(funds))
	}
}
