package domain

import (
	"time"
)

// Transaction represents one financial event in the hot ledger collection.
// Amounts are stored in currency minor units so summation stays exact.
type Transaction struct {
	ID        string    `json:"transaction_id" bson:"_id"`
	ClientID  string    `json:"client_id" bson:"client_id"`
	Amount    int64     `json:"amount" bson:"amount"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// ClientBatch is the eligibility selector's output for a single client: every
// hot transaction older than the run's threshold, in timestamp order.
type ClientBatch struct {
	ClientID     string
	Transactions []Transaction
}

// BalanceForwardSummary is the running-balance record that replaces a batch
// of folded transactions. One is produced per client per run that had
// eligible data; it is immutable once written.
type BalanceForwardSummary struct {
	ClientID    string    `json:"client_id" bson:"client_id"`
	PeriodStart time.Time `json:"period_start" bson:"period_start"`
	PeriodEnd   time.Time `json:"period_end" bson:"period_end"`
	NetAmount   int64     `json:"net_amount" bson:"net_amount"`
	SourceCount int64     `json:"source_count" bson:"source_count"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
	RunID       string    `json:"run_id" bson:"run_id"`
}

// ArchiveRecord is an exact copy of a hot transaction moved to cold storage,
// tagged with the run that archived it.
type ArchiveRecord struct {
	ID         string    `json:"transaction_id" bson:"_id"`
	ClientID   string    `json:"client_id" bson:"client_id"`
	Amount     int64     `json:"amount" bson:"amount"`
	Timestamp  time.Time `json:"timestamp" bson:"timestamp"`
	ArchivedAt time.Time `json:"archived_at" bson:"archived_at"`
	RunID      string    `json:"run_id" bson:"run_id"`
}

// NewArchiveRecord copies a transaction into its archive form.
func NewArchiveRecord(tx Transaction, runID string, archivedAt time.Time) ArchiveRecord {
	return ArchiveRecord{
		ID:         tx.ID,
		ClientID:   tx.ClientID,
		Amount:     tx.Amount,
		Timestamp:  tx.Timestamp,
		ArchivedAt: archivedAt,
		RunID:      runID,
	}
}

// CompactionReport is the outcome of a single compaction run. It is returned
// to the caller and never persisted. CompressedCount equals ArchivedCount for
// every fully successful run.
type CompactionReport struct {
	RunID           string   `json:"run_id"`
	CompressedCount int64    `json:"compressed_count"`
	ArchivedCount   int64    `json:"archived_count"`
	RemainingCount  int64    `json:"remaining_count"`
	FailedClients   []string `json:"failed_clients,omitempty"`
}
