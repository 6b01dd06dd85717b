package postgres

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/avekarev/ledgerfold/internal/domain"
)

// LedgerRepository implements domain.LedgerStore on PostgreSQL for
// deployments without a document store. It does not implement
// domain.TransactionalStore; the compactor's archive-before-delete ordering
// carries the consistency contract on this backend.
type LedgerRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewLedgerRepository creates a PostgreSQL-backed ledger store.
func NewLedgerRepository(db *sql.DB, logger *slog.Logger) *LedgerRepository {
	return &LedgerRepository{db: db, logger: logger.With("component", "postgres_repository")}
}

// EnsureSchema creates the ledger tables and the (client_id, ts) index the
// eligibility scan requires. Safe to call on every startup.
func (r *LedgerRepository) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ledger_line_items (
			transaction_id TEXT PRIMARY KEY,
			client_id      TEXT NOT NULL,
			amount         BIGINT NOT NULL,
			ts             TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_client_ts ON ledger_line_items (client_id, ts);`,
		`CREATE TABLE IF NOT EXISTS archived_items (
			transaction_id TEXT PRIMARY KEY,
			client_id      TEXT NOT NULL,
			amount         BIGINT NOT NULL,
			ts             TIMESTAMPTZ NOT NULL,
			archived_at    TIMESTAMPTZ NOT NULL,
			run_id         TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS compressed_transactions (
			id           BIGSERIAL PRIMARY KEY,
			client_id    TEXT NOT NULL,
			period_start TIMESTAMPTZ NOT NULL,
			period_end   TIMESTAMPTZ NOT NULL,
			net_amount   BIGINT NOT NULL,
			source_count BIGINT NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL,
			run_id       TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_compressed_client ON compressed_transactions (client_id, period_end);`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return &domain.WriteError{Op: "ensure_schema", Err: err}
		}
	}
	return nil
}

// EligibleTransactions selects every transaction strictly older than
// threshold in one ordered scan and groups it by client in application code.
func (r *LedgerRepository) EligibleTransactions(ctx context.Context, threshold time.Time) ([]domain.ClientBatch, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT transaction_id, client_id, amount, ts
		FROM ledger_line_items
		WHERE ts < $1
		ORDER BY client_id, ts, transaction_id`, threshold)
	if err != nil {
		return nil, &domain.QueryError{Op: "eligible_transactions", Err: err}
	}
	defer rows.Close()

	var batches []domain.ClientBatch
	var current *domain.ClientBatch
	for rows.Next() {
		var tx domain.Transaction
		if err := rows.Scan(&tx.ID, &tx.ClientID, &tx.Amount, &tx.Timestamp); err != nil {
			return nil, &domain.QueryError{Op: "eligible_transactions", Err: err}
		}
		// Rows arrive sorted by client, so a client change closes a batch.
		if current == nil || current.ClientID != tx.ClientID {
			batches = append(batches, domain.ClientBatch{ClientID: tx.ClientID})
			current = &batches[len(batches)-1]
		}
		current.Transactions = append(current.Transactions, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.QueryError{Op: "eligible_transactions", Err: err}
	}
	return batches, nil
}

// ArchiveTransactions bulk-copies the records into a temp table and merges
// them into the archive with ON CONFLICT DO NOTHING, so re-archiving rows an
// earlier attempt already wrote is a no-op rather than an error.
func (r *LedgerRepository) ArchiveTransactions(ctx context.Context, records []domain.ArchiveRecord) error {
	if len(records) == 0 {
		return nil
	}
	clientID := records[0].ClientID

	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.WriteError{Op: "archive", ClientID: clientID, Err: err}
	}
	defer txn.Rollback() // Rollback is a no-op if Commit() is called

	const tempTableName = "archived_items_import"
	_, err = txn.ExecContext(ctx, `CREATE TEMP TABLE `+tempTableName+` (LIKE archived_items INCLUDING DEFAULTS) ON COMMIT DROP;`)
	if err != nil {
		return &domain.WriteError{Op: "archive", ClientID: clientID, Err: err}
	}

	stmt, err := txn.Prepare(pq.CopyIn(tempTableName, "transaction_id", "client_id", "amount", "ts", "archived_at", "run_id"))
	if err != nil {
		return &domain.WriteError{Op: "archive", ClientID: clientID, Err: err}
	}

	for _, rec := range records {
		if _, err = stmt.ExecContext(ctx, rec.ID, rec.ClientID, rec.Amount, rec.Timestamp, rec.ArchivedAt, rec.RunID); err != nil {
			_ = stmt.Close()
			return &domain.WriteError{Op: "archive", ClientID: clientID, Err: err}
		}
	}
	if err := stmt.Close(); err != nil {
		return &domain.WriteError{Op: "archive", ClientID: clientID, Err: err}
	}

	_, err = txn.ExecContext(ctx, `
		INSERT INTO archived_items (transaction_id, client_id, amount, ts, archived_at, run_id)
		SELECT transaction_id, client_id, amount, ts, archived_at, run_id FROM `+tempTableName+`
		ON CONFLICT (transaction_id) DO NOTHING;`)
	if err != nil {
		return &domain.WriteError{Op: "archive", ClientID: clientID, Err: err}
	}

	if err := txn.Commit(); err != nil {
		return &domain.WriteError{Op: "archive", ClientID: clientID, Err: err}
	}
	return nil
}

// DeleteTransactions removes the given ids from hot storage.
func (r *LedgerRepository) DeleteTransactions(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM ledger_line_items WHERE transaction_id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, &domain.WriteError{Op: "delete", Err: err}
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, &domain.WriteError{Op: "delete", Err: err}
	}
	return deleted, nil
}

// InsertSummary writes a balance-forward summary row.
func (r *LedgerRepository) InsertSummary(ctx context.Context, summary domain.BalanceForwardSummary) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO compressed_transactions
			(client_id, period_start, period_end, net_amount, source_count, created_at, run_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		summary.ClientID, summary.PeriodStart, summary.PeriodEnd,
		summary.NetAmount, summary.SourceCount, summary.CreatedAt, summary.RunID)
	if err != nil {
		return &domain.WriteError{Op: "summary_write", ClientID: summary.ClientID, Err: err}
	}
	return nil
}

// CountRemaining counts hot transactions at or after threshold.
func (r *LedgerRepository) CountRemaining(ctx context.Context, threshold time.Time) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM ledger_line_items WHERE ts >= $1`, threshold).Scan(&n)
	if err != nil {
		return 0, &domain.QueryError{Op: "count_remaining", Err: err}
	}
	return n, nil
}
