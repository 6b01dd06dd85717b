package integration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	mongorepo "github.com/avekarev/ledgerfold/internal/adapter/repository/mongo"
	"github.com/avekarev/ledgerfold/internal/domain"
	"github.com/avekarev/ledgerfold/internal/usecase"
)

// The suite needs a reachable MongoDB instance; set LEDGERFOLD_MONGO_URI to
// run it, e.g. LEDGERFOLD_MONGO_URI=mongodb://localhost:27017 go test ./tests/...
func mongoURI(t *testing.T) string {
	t.Helper()
	uri := os.Getenv("LEDGERFOLD_MONGO_URI")
	if uri == "" {
		t.Skip("LEDGERFOLD_MONGO_URI not set, skipping integration test")
	}
	return uri
}

func TestCompactionFlow(t *testing.T) {
	uri := mongoURI(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("failed to connect to mongodb: %v", err)
	}
	defer client.Disconnect(context.Background())
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		t.Fatalf("failed to ping mongodb: %v", err)
	}

	dbName := fmt.Sprintf("ledgerfold_it_%d", time.Now().UnixNano())
	defer client.Database(dbName).Drop(context.Background())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cols := mongorepo.DefaultCollections()
	repo := mongorepo.NewLedgerRepository(client, dbName, cols, logger)
	if err := repo.EnsureIndexes(ctx); err != nil {
		t.Fatalf("failed to ensure indexes: %v", err)
	}

	// BSON datetimes carry millisecond precision.
	now := time.Now().UTC().Truncate(time.Millisecond)
	old := func(days int) time.Time { return now.Add(-time.Duration(days) * 24 * time.Hour) }

	seed := []interface{}{
		domain.Transaction{ID: "t1", ClientID: "1", Amount: 500, Timestamp: old(45)},
		domain.Transaction{ID: "t2", ClientID: "1", Amount: -200, Timestamp: old(31)},
		domain.Transaction{ID: "t3", ClientID: "1", Amount: 50, Timestamp: old(10)},
		domain.Transaction{ID: "t4", ClientID: "2", Amount: 75, Timestamp: old(60)},
		domain.Transaction{ID: "t5", ClientID: "3", Amount: -10, Timestamp: old(5)},
	}
	hot := client.Database(dbName).Collection(cols.Hot)
	if _, err := hot.InsertMany(ctx, seed); err != nil {
		t.Fatalf("failed to seed transactions: %v", err)
	}

	compactor := usecase.NewCompactor(repo, nil, logger, 2)
	report, err := compactor.Compact(ctx, 30)
	if err != nil {
		t.Fatalf("compaction failed: %v", err)
	}

	if report.CompressedCount != 3 {
		t.Errorf("expected compressed count 3, got %d", report.CompressedCount)
	}
	if report.ArchivedCount != 3 {
		t.Errorf("expected archived count 3, got %d", report.ArchivedCount)
	}
	if report.RemainingCount != 2 {
		t.Errorf("expected remaining count 2, got %d", report.RemainingCount)
	}

	hotCount, err := hot.CountDocuments(ctx, bson.D{})
	if err != nil {
		t.Fatalf("failed to count hot documents: %v", err)
	}
	if hotCount != 2 {
		t.Errorf("expected 2 hot documents after the run, got %d", hotCount)
	}

	var archived []domain.ArchiveRecord
	cur, err := client.Database(dbName).Collection(cols.Archive).Find(ctx, bson.D{})
	if err != nil {
		t.Fatalf("failed to read archive: %v", err)
	}
	if err := cur.All(ctx, &archived); err != nil {
		t.Fatalf("failed to decode archive: %v", err)
	}
	if len(archived) != 3 {
		t.Fatalf("expected 3 archive records, got %d", len(archived))
	}
	for _, rec := range archived {
		if rec.RunID != report.RunID {
			t.Errorf("archive record %s not tagged with run id %s", rec.ID, report.RunID)
		}
	}

	var summaries []domain.BalanceForwardSummary
	cur, err = client.Database(dbName).Collection(cols.Summaries).Find(ctx, bson.D{{Key: "client_id", Value: "1"}})
	if err != nil {
		t.Fatalf("failed to read summaries: %v", err)
	}
	if err := cur.All(ctx, &summaries); err != nil {
		t.Fatalf("failed to decode summaries: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary for client 1, got %d", len(summaries))
	}
	if summaries[0].NetAmount != 300 {
		t.Errorf("expected net amount 300 for client 1, got %d", summaries[0].NetAmount)
	}
	if summaries[0].SourceCount != 2 {
		t.Errorf("expected source count 2 for client 1, got %d", summaries[0].SourceCount)
	}

	// A second run over the same data has nothing left to fold.
	second, err := compactor.Compact(ctx, 30)
	if err != nil {
		t.Fatalf("second compaction failed: %v", err)
	}
	if second.CompressedCount != 0 {
		t.Errorf("expected nothing eligible on the second run, got %d", second.CompressedCount)
	}
	archiveCount, err := client.Database(dbName).Collection(cols.Archive).CountDocuments(ctx, bson.D{})
	if err != nil {
		t.Fatalf("failed to count archive documents: %v", err)
	}
	if archiveCount != 3 {
		t.Errorf("expected the archive unchanged at 3 records, got %d", archiveCount)
	}
}

func TestEligibleSelectionGroupsInterleavedClients(t *testing.T) {
	uri := mongoURI(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("failed to connect to mongodb: %v", err)
	}
	defer client.Disconnect(context.Background())

	dbName := fmt.Sprintf("ledgerfold_it_%d", time.Now().UnixNano())
	defer client.Database(dbName).Drop(context.Background())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cols := mongorepo.DefaultCollections()
	repo := mongorepo.NewLedgerRepository(client, dbName, cols, logger)

	now := time.Now().UTC().Truncate(time.Millisecond)
	threshold := now.Add(-30 * 24 * time.Hour)

	// Insertion order interleaves clients; the selection must still come
	// back as one contiguous batch per client.
	seed := []interface{}{
		domain.Transaction{ID: "i1", ClientID: "b", Amount: 1, Timestamp: threshold.Add(-3 * time.Hour)},
		domain.Transaction{ID: "i2", ClientID: "a", Amount: 2, Timestamp: threshold.Add(-2 * time.Hour)},
		domain.Transaction{ID: "i3", ClientID: "b", Amount: 3, Timestamp: threshold.Add(-1 * time.Hour)},
		domain.Transaction{ID: "i4", ClientID: "a", Amount: 4, Timestamp: threshold.Add(-4 * time.Hour)},
		domain.Transaction{ID: "i5", ClientID: "a", Amount: 5, Timestamp: threshold.Add(time.Hour)}, // too recent
	}
	hot := client.Database(dbName).Collection(cols.Hot)
	if _, err := hot.InsertMany(ctx, seed); err != nil {
		t.Fatalf("failed to seed transactions: %v", err)
	}

	batches, err := repo.EligibleTransactions(ctx, threshold)
	if err != nil {
		t.Fatalf("selection failed: %v", err)
	}
	if len(batches) != 2 {
		t.Fatalf("expected 2 client batches, got %d", len(batches))
	}
	if batches[0].ClientID != "a" || batches[1].ClientID != "b" {
		t.Errorf("expected batches for clients a, b in order, got %s, %s",
			batches[0].ClientID, batches[1].ClientID)
	}
	if len(batches[0].Transactions) != 2 || len(batches[1].Transactions) != 2 {
		t.Errorf("expected 2 eligible transactions per client, got %d and %d",
			len(batches[0].Transactions), len(batches[1].Transactions))
	}
	// Within a batch, rows arrive in timestamp order.
	a := batches[0].Transactions
	if a[0].ID != "i4" || a[1].ID != "i2" {
		t.Errorf("expected client a's transactions ordered i4, i2, got %s, %s", a[0].ID, a[1].ID)
	}
	for _, batch := range batches {
		for _, tx := range batch.Transactions {
			if !tx.Timestamp.Before(threshold) {
				t.Errorf("transaction %s at or after the threshold was selected", tx.ID)
			}
		}
	}
}

func TestArchiveIdempotence(t *testing.T) {
	uri := mongoURI(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("failed to connect to mongodb: %v", err)
	}
	defer client.Disconnect(context.Background())

	dbName := fmt.Sprintf("ledgerfold_it_%d", time.Now().UnixNano())
	defer client.Database(dbName).Drop(context.Background())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := mongorepo.NewLedgerRepository(client, dbName, mongorepo.DefaultCollections(), logger)

	now := time.Now().UTC().Truncate(time.Millisecond)
	records := []domain.ArchiveRecord{
		{ID: "r1", ClientID: "1", Amount: 10, Timestamp: now, ArchivedAt: now, RunID: "run-a"},
		{ID: "r2", ClientID: "1", Amount: 20, Timestamp: now, ArchivedAt: now, RunID: "run-a"},
	}

	if err := repo.ArchiveTransactions(ctx, records); err != nil {
		t.Fatalf("first archive failed: %v", err)
	}
	// Re-archiving the same ids must be treated as success, not an error.
	if err := repo.ArchiveTransactions(ctx, records); err != nil {
		t.Fatalf("re-archive of existing records failed: %v", err)
	}

	count, err := client.Database(dbName).Collection("archived_items").CountDocuments(ctx, bson.D{})
	if err != nil {
		t.Fatalf("failed to count archive documents: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 archive records, got %d", count)
	}
}
