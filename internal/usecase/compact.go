package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avekarev/ledgerfold/internal/domain"
)

const defaultWorkerCount = 4

// Compactor orchestrates a balance-forward compaction run: per client it
// selects eligible transactions, folds them into a summary, copies them to
// the archive, and only then removes them from hot storage. Clients are
// independent ledgers, so they are processed on a bounded worker pool with
// no cross-client state.
type Compactor struct {
	store   domain.LedgerStore
	lease   domain.CompactionLease
	logger  *slog.Logger
	workers int
	now     func() time.Time
}

// NewCompactor creates a compactor over the given store. The lease may be
// nil; workers <= 0 selects the default pool size.
func NewCompactor(store domain.LedgerStore, lease domain.CompactionLease, logger *slog.Logger, workers int) *Compactor {
	if workers <= 0 {
		workers = defaultWorkerCount
	}
	return &Compactor{
		store:   store,
		lease:   lease,
		logger:  logger.With("component", "compactor"),
		workers: workers,
		now:     time.Now,
	}
}

type clientResult struct {
	clientID string
	folded   int64
	err      error
}

// Compact folds every transaction older than daysThreshold days into one
// balance-forward summary per client, archiving the folded detail rows. The
// returned report carries the compressed, archived and remaining counts.
//
// A failure inside one client's pipeline aborts that client only; completed
// clients' work stands and the run returns a PartialRunError naming the
// failed clients. Re-running is safe: archival is idempotent on transaction
// id and deletion by id is a no-op for already-removed rows.
func (c *Compactor) Compact(ctx context.Context, daysThreshold int) (domain.CompactionReport, error) {
	if daysThreshold <= 0 {
		return domain.CompactionReport{}, domain.ErrInvalidThreshold
	}

	start := c.now().UTC()
	threshold := start.Add(-time.Duration(daysThreshold) * 24 * time.Hour)
	runID := uuid.NewString()
	report := domain.CompactionReport{RunID: runID}

	log := c.logger.With("run_id", runID)
	log.Info("starting compaction run", "days_threshold", daysThreshold, "threshold", threshold)

	batches, err := c.store.EligibleTransactions(ctx, threshold)
	if err != nil {
		return report, fmt.Errorf("selecting eligible transactions: %w", err)
	}

	results := c.processClients(ctx, runID, threshold, batches)

	var errs []error
	for _, res := range results {
		if res.err != nil {
			log.Error("client compaction failed", "client_id", res.clientID, "error", res.err)
			report.FailedClients = append(report.FailedClients, res.clientID)
			errs = append(errs, res.err)
			continue
		}
		report.CompressedCount += res.folded
		report.ArchivedCount += res.folded
	}
	sort.Strings(report.FailedClients)

	remaining, err := c.store.CountRemaining(ctx, threshold)
	if err != nil {
		return report, fmt.Errorf("counting remaining transactions: %w", err)
	}
	report.RemainingCount = remaining

	if len(errs) > 0 {
		return report, &domain.PartialRunError{FailedClients: report.FailedClients, Errs: errs}
	}

	log.Info("compaction run finished",
		"compressed", report.CompressedCount,
		"archived", report.ArchivedCount,
		"remaining", report.RemainingCount)
	return report, nil
}

// processClients fans the per-client batches out over the worker pool and
// collects one result per client with a non-empty eligible set.
func (c *Compactor) processClients(ctx context.Context, runID string, threshold time.Time, batches []domain.ClientBatch) []clientResult {
	jobs := make(chan domain.ClientBatch)
	out := make(chan clientResult)

	workers := c.workers
	if len(batches) < workers {
		workers = len(batches)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range jobs {
				folded, err := c.compactClient(ctx, runID, threshold, batch)
				out <- clientResult{clientID: batch.ClientID, folded: folded, err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, batch := range batches {
			if len(batch.Transactions) == 0 {
				continue
			}
			select {
			case jobs <- batch:
			case <-ctx.Done():
				// Aborting between clients is clean: dispatched
				// clients run to completion, the rest are skipped.
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(out)
	}()

	var results []clientResult
	for res := range out {
		results = append(results, res)
	}
	return results
}

// compactClient runs the ordered pipeline for one client: summarize, archive,
// delete, summary write. Archival is the durability boundary; a failure there
// leaves the client's hot transactions untouched. When the store offers
// multi-document transactions, the mutating steps execute as one atomic unit.
func (c *Compactor) compactClient(ctx context.Context, runID string, threshold time.Time, batch domain.ClientBatch) (int64, error) {
	summary, ok := Summarize(batch, threshold, runID, c.now().UTC())
	if !ok {
		return 0, nil
	}

	if c.lease != nil {
		release, acquired, err := c.lease.Acquire(ctx, batch.ClientID)
		if err != nil {
			return 0, fmt.Errorf("acquiring compaction lease: %w", err)
		}
		if !acquired {
			return 0, domain.ErrLeaseHeld
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				c.logger.Warn("failed to release compaction lease", "client_id", batch.ClientID, "error", err)
			}
		}()
	}

	archivedAt := c.now().UTC()
	records := make([]domain.ArchiveRecord, len(batch.Transactions))
	ids := make([]string, len(batch.Transactions))
	for i, tx := range batch.Transactions {
		records[i] = domain.NewArchiveRecord(tx, runID, archivedAt)
		ids[i] = tx.ID
	}

	apply := func(ctx context.Context) error {
		if err := c.store.ArchiveTransactions(ctx, records); err != nil {
			return err
		}
		// Deletion only happens after the archive write is confirmed.
		deleted, err := c.store.DeleteTransactions(ctx, ids)
		if err != nil {
			return err
		}
		// A short delete means another run folded part of this batch
		// after it was selected; its summary already carries those
		// amounts, so writing ours would double-count them.
		if deleted != int64(len(ids)) {
			return &domain.WriteError{Op: "summary_write", ClientID: batch.ClientID, Err: domain.ErrStaleSelection}
		}
		return c.store.InsertSummary(ctx, summary)
	}

	var err error
	if txStore, transactional := c.store.(domain.TransactionalStore); transactional {
		err = txStore.WithTransaction(ctx, apply)
	} else {
		err = apply(ctx)
	}
	if err != nil {
		return 0, err
	}

	c.logger.Debug("client compacted",
		"client_id", batch.ClientID,
		"folded", summary.SourceCount,
		"net_amount", summary.NetAmount)
	return summary.SourceCount, nil
}
