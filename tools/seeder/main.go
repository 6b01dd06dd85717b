package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/time/rate"

	"github.com/avekarev/ledgerfold/internal/domain"
)

func main() {
	uri := flag.String("uri", "mongodb://localhost:27017", "MongoDB connection URI")
	database := flag.String("db", "items", "Database name")
	collection := flag.String("collection", "ledger_line_items", "Hot transaction collection")
	count := flag.Int("n", 1000000, "Number of transactions to generate")
	clients := flag.Int("clients", 1000, "Number of distinct client ids")
	days := flag.Int("days", 730, "Timestamp spread in days before now")
	batchSize := flag.Int("batch", 5000, "Insert batch size")
	concurrency := flag.Int("c", 4, "Number of concurrent insert workers")
	bps := flag.Int("bps", 50, "Batch inserts per second limit")
	drop := flag.Bool("drop", false, "Drop the collection before seeding")
	flag.Parse()

	ctx := context.Background()
	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(*uri))
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer mongoClient.Disconnect(ctx)

	coll := mongoClient.Database(*database).Collection(*collection)
	if *drop {
		if err := coll.Drop(ctx); err != nil {
			log.Fatalf("Failed to drop collection: %v", err)
		}
	}

	log.Printf("Seeding %d transactions across %d clients over %d days", *count, *clients, *days)
	start := time.Now()

	spread := time.Duration(*days) * 24 * time.Hour
	now := time.Now().UTC()

	batches := make(chan []interface{})
	var inserted atomic.Int64
	var wg sync.WaitGroup
	limiter := rate.NewLimiter(rate.Limit(*bps), *bps)

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range batches {
				limiter.Wait(ctx)
				if _, err := coll.InsertMany(ctx, batch); err != nil {
					log.Printf("Insert batch failed: %v", err)
					continue
				}
				total := inserted.Add(int64(len(batch)))
				if total%100000 < int64(len(batch)) {
					log.Printf("Inserted %d documents", total)
				}
			}
		}()
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	batch := make([]interface{}, 0, *batchSize)
	for i := 0; i < *count; i++ {
		tx := domain.Transaction{
			ID:       uuid.NewString(),
			ClientID: fmt.Sprintf("%d", rng.Intn(*clients)),
			// Signed minor units in [-1,000,000, 1,000,000).
			Amount:    rng.Int63n(2_000_000) - 1_000_000,
			Timestamp: now.Add(-time.Duration(rng.Int63n(int64(spread)))),
		}
		batch = append(batch, tx)
		if len(batch) == *batchSize || i == *count-1 {
			batches <- batch
			batch = make([]interface{}, 0, *batchSize)
		}
	}
	close(batches)
	wg.Wait()

	// The eligibility scan needs this index at scale.
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "client_id", Value: 1}, {Key: "timestamp", Value: 1}},
	})
	if err != nil {
		log.Fatalf("Failed to create index: %v", err)
	}

	total, err := coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		log.Fatalf("Failed to count documents: %v", err)
	}
	log.Printf("Seeding complete in %s. Total documents: %d", time.Since(start).Round(time.Millisecond), total)
}
