// Package worker runs the polling fallback: payments stuck in PENDING past
// a threshold get their status fetched from the provider and pushed through
// the same transition path a webhook would take. This is what makes a lost
// webhook a delay instead of a lost sale.
package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/Manhosu/CineVision-sub001/internal/purchase"
	"github.com/Manhosu/CineVision-sub001/internal/reconcile"
	"github.com/Manhosu/CineVision-sub001/internal/reconcile/provider"
)

// Applier is the reconciliation entry point the poller feeds. Satisfied by
// *reconcile.Reconciler.
type Applier interface {
	Apply(ctx context.Context, n *provider.Notification) reconcile.Result
}

// EffectSink receives the side effects of applied transitions. Satisfied by
// *effects.Dispatcher.
type EffectSink interface {
	Enqueue(effects []reconcile.SideEffect)
}

// Poller periodically sweeps stuck pending payments.
type Poller struct {
	store    purchase.PaymentStore
	applier  Applier
	effects  EffectSink
	fetchers map[purchase.Provider]provider.StatusFetcher

	interval   time.Duration
	stuckAfter time.Duration
	batchSize  int
	workers    int
}

func NewPoller(
	store purchase.PaymentStore,
	applier Applier,
	effects EffectSink,
	fetchers map[purchase.Provider]provider.StatusFetcher,
	interval, stuckAfter time.Duration,
	batchSize int,
) *Poller {
	return &Poller{
		store:      store,
		applier:    applier,
		effects:    effects,
		fetchers:   fetchers,
		interval:   interval,
		stuckAfter: stuckAfter,
		batchSize:  batchSize,
		workers:    5,
	}
}

// Run blocks until ctx is cancelled, sweeping every interval.
func (p *Poller) Run(ctx context.Context) {
	log.Printf("[Poller] starting, interval=%s stuck_after=%s batch=%d",
		p.interval, p.stuckAfter, p.batchSize)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[Poller] stopping")
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

// sweep fetches one batch of stuck payments and reconciles them on a small
// worker pool. Providers rate limit; five concurrent lookups is plenty.
func (p *Poller) sweep(ctx context.Context) {
	payments, err := p.store.GetStuckPending(ctx, p.batchSize, p.stuckAfter)
	if err != nil {
		log.Printf("[Poller] fetching stuck payments failed: %v", err)
		return
	}
	if len(payments) == 0 {
		return
	}
	log.Printf("[Poller] sweeping %d stuck payments", len(payments))

	jobs := make(chan *purchase.Payment, len(payments))
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for pmt := range jobs {
				p.reconcileOne(ctx, pmt)
			}
		}()
	}
	for _, pmt := range payments {
		jobs <- pmt
	}
	close(jobs)
	wg.Wait()
}

// reconcileOne asks the provider for the authoritative status and, if it
// moved, feeds a synthetic notification through the normal transition path.
func (p *Poller) reconcileOne(ctx context.Context, pmt *purchase.Payment) {
	fetcher, ok := p.fetchers[pmt.Provider]
	if !ok {
		log.Printf("[Poller] no status fetcher for provider %s, skipping payment %s", pmt.Provider, pmt.ID)
		return
	}

	fctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	native, err := fetcher.FetchStatus(fctx, pmt.ProviderPaymentID)
	cancel()
	if err != nil {
		// The payment stays pending; the next sweep retries.
		log.Printf("[Poller] status fetch for payment %s (%s/%s) failed: %v",
			pmt.ID, pmt.Provider, pmt.ProviderPaymentID, err)
		return
	}

	if native == pmt.NativeStatus {
		return
	}

	res := p.applier.Apply(ctx, &provider.Notification{
		Provider:      pmt.Provider,
		CorrelationID: pmt.ProviderPaymentID,
		NativeStatus:  native,
	})
	if res.Accepted && len(res.SideEffects) > 0 {
		p.effects.Enqueue(res.SideEffects)
	}
	if res.Accepted {
		log.Printf("[Poller] payment %s reconciled to %s via polling", pmt.ID, res.NewStatus)
	}
}
