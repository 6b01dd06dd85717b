package usecase

import (
	"time"

	"github.com/avekarev/ledgerfold/internal/domain"
)

// Summarize folds one client's eligible transactions into a balance-forward
// summary candidate. It performs no persistence and is safe to repeat: the
// same batch always yields the same net amount and source count. Amounts are
// integer minor units, so the sum is exact regardless of batch size.
//
// ok is false when the batch is empty; no zero-record summaries are produced.
func Summarize(batch domain.ClientBatch, periodEnd time.Time, runID string, createdAt time.Time) (summary domain.BalanceForwardSummary, ok bool) {
	if len(batch.Transactions) == 0 {
		return domain.BalanceForwardSummary{}, false
	}

	var net int64
	periodStart := batch.Transactions[0].Timestamp
	for _, tx := range batch.Transactions {
		net += tx.Amount
		if tx.Timestamp.Before(periodStart) {
			periodStart = tx.Timestamp
		}
	}

	return domain.BalanceForwardSummary{
		ClientID:    batch.ClientID,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		NetAmount:   net,
		SourceCount: int64(len(batch.Transactions)),
		CreatedAt:   createdAt,
		RunID:       runID,
	}, true
}
