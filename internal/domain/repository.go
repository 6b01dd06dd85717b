package domain

import (
	"context"
	"time"
)

// LedgerStore defines the storage capabilities the compactor needs.
// This abstracts away the specific backends (e.g., MongoDB, PostgreSQL).
type LedgerStore interface {
	// EligibleTransactions returns every hot transaction with a timestamp
	// strictly before threshold, grouped by client. The result is
	// deterministic for a fixed threshold and fixed underlying data, and
	// must be produced by a single bulk query rather than per-row reads.
	EligibleTransactions(ctx context.Context, threshold time.Time) ([]ClientBatch, error)

	// ArchiveTransactions writes the given records to cold storage.
	// Records whose transaction id already exists in the archive are
	// treated as successfully archived, so a retried run converges.
	ArchiveTransactions(ctx context.Context, records []ArchiveRecord) error

	// DeleteTransactions removes hot transactions by id. Ids that no
	// longer exist are silently skipped; the count of rows actually
	// removed is returned.
	DeleteTransactions(ctx context.Context, ids []string) (int64, error)

	// InsertSummary persists a balance-forward summary record.
	InsertSummary(ctx context.Context, summary BalanceForwardSummary) error

	// CountRemaining counts hot transactions at or after threshold, i.e.
	// the detail rows a run leaves untouched.
	CountRemaining(ctx context.Context, threshold time.Time) (int64, error)
}

// TransactionalStore is implemented by backends that can scope the
// archive/delete/summary-write steps for one client into a single
// multi-document transaction. Backends without this capability rely on the
// compactor's archive-before-delete ordering instead.
type TransactionalStore interface {
	LedgerStore

	// WithTransaction runs fn inside one store transaction. Store calls
	// made by fn must use the context it receives.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// CompactionLease guards against two concurrent runs folding the same
// client's ledger. Acquire returns acquired=false when another holder owns
// the lease; release must be called once work for the client is finished.
type CompactionLease interface {
	Acquire(ctx context.Context, clientID string) (release func(context.Context) error, acquired bool, err error)
}
