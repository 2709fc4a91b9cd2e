package export

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoLedger stores one document per task in a MongoDB collection.
type MongoLedger struct {
	client *mongo.Client
	tasks  *mongo.Collection
}

// NewMongoLedger connects and ensures the query index exists.
func NewMongoLedger(ctx context.Context, uri, database string) (*MongoLedger, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("export: mongo connect: %w", err)
	}
	tasks := client.Database(database).Collection("export_tasks")
	if _, err := tasks.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "destination.region", Value: 1}, {Key: "created_at", Value: 1}},
	}); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("export: mongo index: %w", err)
	}
	return &MongoLedger{client: client, tasks: tasks}, nil
}

// Record implements Ledger. The replace only matches an older revision; a
// stale write falls through to an upsert that collides on _id and is
// dropped.
func (l *MongoLedger) Record(ctx context.Context, task Task) error {
	filter := bson.M{"_id": task.ID, "revision": bson.M{"$lt": task.Revision}}
	_, err := l.tasks.ReplaceOne(ctx, filter, task, options.Replace().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("export: mongo record %s: %w", task.ID, err)
	}
	return nil
}

// Load implements Ledger.
func (l *MongoLedger) Load(ctx context.Context) ([]Task, error) {
	cur, err := l.tasks.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("export: mongo load: %w", err)
	}
	defer cur.Close(ctx)
	var out []Task
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("export: mongo decode: %w", err)
	}
	return out, nil
}

// Close disconnects the client.
func (l *MongoLedger) Close(ctx context.Context) error {
	return l.client.Disconnect(ctx)
}
