package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// rsinit performs the one-time replica-set bootstrap the compactor's
// transactional mode depends on. It issues replSetInitiate and then polls
// with backoff until the cluster reports a writable primary.
func main() {
	uri := flag.String("uri", "mongodb://localhost:27017/?directConnection=true", "MongoDB connection URI")
	rsName := flag.String("rs", "rs0", "Replica set name")
	members := flag.String("members", "localhost:27017", "Comma-separated replica set member host:port list")
	timeout := flag.Duration("timeout", 2*time.Minute, "How long to wait for a healthy primary")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(*uri))
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer client.Disconnect(context.Background())

	var memberDocs bson.A
	for i, host := range strings.Split(*members, ",") {
		memberDocs = append(memberDocs, bson.D{
			{Key: "_id", Value: i},
			{Key: "host", Value: strings.TrimSpace(host)},
		})
	}
	cfg := bson.D{
		{Key: "_id", Value: *rsName},
		{Key: "members", Value: memberDocs},
	}

	admin := client.Database("admin")
	err = admin.RunCommand(ctx, bson.D{{Key: "replSetInitiate", Value: cfg}}).Err()
	if err != nil {
		// AlreadyInitialized means a previous bootstrap succeeded.
		var cmdErr mongo.CommandError
		if errors.As(err, &cmdErr) && cmdErr.Code == 23 {
			log.Printf("Replica set already initialized")
		} else {
			log.Fatalf("replSetInitiate failed: %v", err)
		}
	} else {
		log.Printf("Replica set %s initiated with %d member(s)", *rsName, len(memberDocs))
	}

	backoff := 500 * time.Millisecond
	for {
		var hello struct {
			IsWritablePrimary bool `bson:"isWritablePrimary"`
		}
		err := admin.RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).Decode(&hello)
		if err == nil && hello.IsWritablePrimary {
			log.Printf("Replica set healthy, primary elected")
			return
		}

		select {
		case <-ctx.Done():
			log.Fatalf("Timed out waiting for a writable primary: %v", ctx.Err())
		case <-time.After(backoff):
		}
		if backoff < 5*time.Second {
			backoff *= 2
		}
	}
}
