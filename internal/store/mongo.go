package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoStore backs the store contract with a pooled MongoDB client owned by
// the process.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongo connects, pings, and returns a ready store.
func NewMongo(ctx context.Context, uri, dbName string) (*MongoStore, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(100).
		SetMinPoolSize(5).
		SetConnectTimeout(10 * time.Second).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to store: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	log.Info().Str("database", dbName).Msg("Connected to MongoDB store")

	return &MongoStore{
		client: client,
		db:     client.Database(dbName),
	}, nil
}

// EnsureIndexes creates the unique index on users.user_id.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(CollectionUsers).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create users index: %w", err)
	}
	return nil
}

func (s *MongoStore) InsertOne(ctx context.Context, collection string, doc any) error {
	_, err := s.db.Collection(collection).InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert into %s: %w", collection, err)
	}
	return nil
}

func (s *MongoStore) FindOne(ctx context.Context, collection string, filter bson.M, out any) error {
	err := s.db.Collection(collection).FindOne(ctx, filter).Decode(out)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrNotFound
		}
		return fmt.Errorf("find one in %s: %w", collection, err)
	}
	return nil
}

func (s *MongoStore) Find(ctx context.Context, collection string, filter bson.M) (Cursor, error) {
	cur, err := s.db.Collection(collection).Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", collection, err)
	}
	return cur, nil
}

func (s *MongoStore) UpdateOne(ctx context.Context, collection string, filter bson.M, set bson.M) (int64, error) {
	res, err := s.db.Collection(collection).UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return 0, fmt.Errorf("update one in %s: %w", collection, err)
	}
	return res.MatchedCount, nil
}

func (s *MongoStore) DeleteOne(ctx context.Context, collection string, filter bson.M) (int64, error) {
	res, err := s.db.Collection(collection).DeleteOne(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("delete one in %s: %w", collection, err)
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) DeleteMany(ctx context.Context, collection string, filter bson.M) (int64, error) {
	res, err := s.db.Collection(collection).DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("delete many in %s: %w", collection, err)
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) Aggregate(ctx context.Context, collection string, pipeline []bson.M) (Cursor, error) {
	stages := make(mongo.Pipeline, 0, len(pipeline))
	for _, stage := range pipeline {
		d := bson.D{}
		for k, v := range stage {
			d = append(d, bson.E{Key: k, Value: v})
		}
		stages = append(stages, d)
	}
	cur, err := s.db.Collection(collection).Aggregate(ctx, stages)
	if err != nil {
		return nil, fmt.Errorf("aggregate in %s: %w", collection, err)
	}
	return cur, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
