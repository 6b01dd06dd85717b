package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/avekarev/ledgerfold/internal/domain"
)

const duplicateKeyCode = 11000

// Collections names the three collections the compactor touches.
type Collections struct {
	Hot       string
	Archive   string
	Summaries string
}

// DefaultCollections mirrors the upstream schema layout.
func DefaultCollections() Collections {
	return Collections{
		Hot:       "ledger_line_items",
		Archive:   "archived_items",
		Summaries: "compressed_transactions",
	}
}

// LedgerRepository implements domain.LedgerStore on a MongoDB database.
// Eligibility selection is pushed down into a single aggregation so a run
// costs one round trip regardless of row count.
type LedgerRepository struct {
	client    *mongo.Client
	hot       *mongo.Collection
	archive   *mongo.Collection
	summaries *mongo.Collection
	logger    *slog.Logger
}

// NewLedgerRepository creates a MongoDB-backed ledger store.
func NewLedgerRepository(client *mongo.Client, database string, cols Collections, logger *slog.Logger) *LedgerRepository {
	db := client.Database(database)
	return &LedgerRepository{
		client:    client,
		hot:       db.Collection(cols.Hot),
		archive:   db.Collection(cols.Archive),
		summaries: db.Collection(cols.Summaries),
		logger:    logger.With("component", "mongo_repository"),
	}
}

// EnsureIndexes creates the (client_id, timestamp) index the eligibility scan
// depends on at million-row scale. Safe to call on every startup.
func (r *LedgerRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.hot.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "client_id", Value: 1}, {Key: "timestamp", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("creating hot collection index: %w", err)
	}
	_, err = r.summaries.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "client_id", Value: 1}, {Key: "period_end", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("creating summaries index: %w", err)
	}
	return nil
}

// EligibleTransactions selects every transaction strictly older than
// threshold in one cursor-streamed scan sorted on (client_id, timestamp) and
// groups it by client as the rows arrive. Grouping client-side keeps each
// client's batch off the server's single-document size limit, so one client
// with a very large eligible backlog cannot make the selection fail.
func (r *LedgerRepository) EligibleTransactions(ctx context.Context, threshold time.Time) ([]domain.ClientBatch, error) {
	filter := bson.M{"timestamp": bson.M{"$lt": threshold}}
	// The sort matches the (client_id, timestamp) index.
	findOpts := options.Find().SetSort(bson.D{
		{Key: "client_id", Value: 1},
		{Key: "timestamp", Value: 1},
	})

	cur, err := r.hot.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, &domain.QueryError{Op: "eligible_transactions", Err: err}
	}
	defer cur.Close(ctx)

	var batches []domain.ClientBatch
	var current *domain.ClientBatch
	for cur.Next(ctx) {
		var tx domain.Transaction
		if err := cur.Decode(&tx); err != nil {
			return nil, &domain.QueryError{Op: "eligible_transactions", Err: err}
		}
		// Rows arrive sorted by client, so a client change closes a batch.
		if current == nil || current.ClientID != tx.ClientID {
			batches = append(batches, domain.ClientBatch{ClientID: tx.ClientID})
			current = &batches[len(batches)-1]
		}
		current.Transactions = append(current.Transactions, tx)
	}
	if err := cur.Err(); err != nil {
		return nil, &domain.QueryError{Op: "eligible_transactions", Err: err}
	}
	return batches, nil
}

// ArchiveTransactions copies the records into the archive collection with an
// unordered bulk insert. Duplicate transaction ids mean a previous run
// already archived those rows, so they count as success.
func (r *LedgerRepository) ArchiveTransactions(ctx context.Context, records []domain.ArchiveRecord) error {
	if len(records) == 0 {
		return nil
	}
	docs := make([]interface{}, len(records))
	for i, rec := range records {
		docs[i] = rec
	}
	_, err := r.archive.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil && !duplicateKeysOnly(err) {
		return &domain.WriteError{Op: "archive", ClientID: records[0].ClientID, Err: err}
	}
	return nil
}

// DeleteTransactions removes the given ids from hot storage. Ids already
// deleted by an earlier attempt are simply absent from the result count.
func (r *LedgerRepository) DeleteTransactions(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := r.hot.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, &domain.WriteError{Op: "delete", Err: err}
	}
	return res.DeletedCount, nil
}

// InsertSummary writes a balance-forward summary document.
func (r *LedgerRepository) InsertSummary(ctx context.Context, summary domain.BalanceForwardSummary) error {
	if _, err := r.summaries.InsertOne(ctx, summary); err != nil {
		return &domain.WriteError{Op: "summary_write", ClientID: summary.ClientID, Err: err}
	}
	return nil
}

// CountRemaining counts hot transactions at or after threshold.
func (r *LedgerRepository) CountRemaining(ctx context.Context, threshold time.Time) (int64, error) {
	n, err := r.hot.CountDocuments(ctx, bson.M{"timestamp": bson.M{"$gte": threshold}})
	if err != nil {
		return 0, &domain.QueryError{Op: "count_remaining", Err: err}
	}
	return n, nil
}

// TransactionalLedgerRepository adds multi-document transaction scoping on
// top of LedgerRepository. It requires a replica set; deployments running a
// standalone server use the plain repository and rely on the compactor's
// archive-before-delete ordering.
type TransactionalLedgerRepository struct {
	*LedgerRepository
}

// NewTransactionalLedgerRepository creates a MongoDB-backed ledger store
// whose per-client mutations run in one server-side transaction.
func NewTransactionalLedgerRepository(client *mongo.Client, database string, cols Collections, logger *slog.Logger) *TransactionalLedgerRepository {
	return &TransactionalLedgerRepository{
		LedgerRepository: NewLedgerRepository(client, database, cols, logger),
	}
}

// WithTransaction runs fn inside a MongoDB session transaction.
func (r *TransactionalLedgerRepository) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	sess, err := r.client.StartSession()
	if err != nil {
		return fmt.Errorf("starting mongo session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

// duplicateKeysOnly reports whether err is a bulk write failure consisting
// solely of duplicate key errors, with the write concern satisfied.
func duplicateKeysOnly(err error) bool {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) {
		return false
	}
	if bwe.WriteConcernError != nil {
		return false
	}
	for _, we := range bwe.WriteErrors {
		if we.Code != duplicateKeyCode {
			return false
		}
	}
	return len(bwe.WriteErrors) > 0
}
