package persistence

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig configures the Mongo saga-history store.
type MongoConfig struct {
	URI         string
	Database    string
	Collection  string
	MaxPoolSize uint64
	MinPoolSize uint64
}

// DefaultMongoConfig returns sane defaults for local development.
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		Database:    "sutra",
		Collection:  "saga_history",
		MaxPoolSize: 100,
		MinPoolSize: 10,
	}
}

// mongoStepRecord is the BSON-tagged wire shape of SagaStepRecord.
type mongoStepRecord struct {
	SagaID     string    `bson:"saga_id"`
	StepName   string    `bson:"step_name"`
	Status     string    `bson:"status"`
	Error      string    `bson:"error,omitempty"`
	RecordedAt time.Time `bson:"recorded_at"`
	Context    bson.Raw  `bson:"context,omitempty"`
}

// MongoSagaHistory appends and queries saga step records in MongoDB.
type MongoSagaHistory struct {
	config     MongoConfig
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoSagaHistory connects to MongoDB and returns a ready store.
func NewMongoSagaHistory(ctx context.Context, config MongoConfig) (*MongoSagaHistory, error) {
	if config.Collection == "" {
		config.Collection = "saga_history"
	}

	opts := options.Client().
		ApplyURI(config.URI).
		SetMaxPoolSize(config.MaxPoolSize).
		SetMinPoolSize(config.MinPoolSize)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("persistence: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("persistence: ping: %w", err)
	}

	collection := client.Database(config.Database).Collection(config.Collection)
	if _, err := collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "saga_id", Value: 1}, {Key: "recorded_at", Value: 1}},
	}); err != nil {
		return nil, fmt.Errorf("persistence: create index: %w", err)
	}

	return &MongoSagaHistory{config: config, client: client, collection: collection}, nil
}

// Append records one step outcome.
func (s *MongoSagaHistory) Append(ctx context.Context, rec SagaStepRecord) error {
	doc := mongoStepRecord{
		SagaID:     rec.SagaID,
		StepName:   rec.StepName,
		Status:     rec.Status,
		Error:      rec.Error,
		RecordedAt: rec.RecordedAt,
		Context:    bson.Raw(rec.ContextJSON),
	}
	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("persistence: append: %w", err)
	}
	return nil
}

// History returns every recorded step for sagaID, oldest first.
func (s *MongoSagaHistory) History(ctx context.Context, sagaID string) ([]SagaStepRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "recorded_at", Value: 1}})
	cursor, err := s.collection.Find(ctx, bson.M{"saga_id": sagaID}, opts)
	if err != nil {
		return nil, fmt.Errorf("persistence: history: %w", err)
	}
	defer cursor.Close(ctx)

	var records []SagaStepRecord
	for cursor.Next(ctx) {
		var doc mongoStepRecord
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("persistence: decode: %w", err)
		}
		records = append(records, SagaStepRecord{
			SagaID:      doc.SagaID,
			StepName:    doc.StepName,
			Status:      doc.Status,
			Error:       doc.Error,
			RecordedAt:  doc.RecordedAt,
			ContextJSON: []byte(doc.Context),
		})
	}
	return records, cursor.Err()
}

// Close disconnects the Mongo client.
func (s *MongoSagaHistory) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
