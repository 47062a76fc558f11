package store

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
)

// Logical collection names
const (
	CollectionUsers        = "users"
	CollectionLinks        = "links"
	CollectionRules        = "rules"
	CollectionPolicies     = "policies"
	CollectionClusters     = "clusters"
	CollectionTransactions = "transactions"
)

var (
	// ErrNotFound is returned by FindOne when no document matches.
	ErrNotFound = errors.New("document not found")
	// ErrDuplicateKey is returned by InsertOne on a unique-index violation.
	ErrDuplicateKey = errors.New("duplicate key")
)

// Cursor iterates documents returned by Find and Aggregate. The method set
// matches mongo.Cursor so the Mongo driver satisfies it directly.
type Cursor interface {
	Next(ctx context.Context) bool
	Decode(v any) error
	Err() error
	Close(ctx context.Context) error
}

// Store is the collection-parametric persistence contract the engine
// consumes. Every primitive is atomic per document; multi-document
// transactions are never used.
type Store interface {
	InsertOne(ctx context.Context, collection string, doc any) error
	FindOne(ctx context.Context, collection string, filter bson.M, out any) error
	Find(ctx context.Context, collection string, filter bson.M) (Cursor, error)
	UpdateOne(ctx context.Context, collection string, filter bson.M, set bson.M) (int64, error)
	DeleteOne(ctx context.Context, collection string, filter bson.M) (int64, error)
	DeleteMany(ctx context.Context, collection string, filter bson.M) (int64, error)
	Aggregate(ctx context.Context, collection string, pipeline []bson.M) (Cursor, error)

	EnsureIndexes(ctx context.Context) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Open selects the driver: the in-memory store when useMemory is set or no
// URI is configured, otherwise Mongo.
func Open(ctx context.Context, uri, dbName string, useMemory bool) (Store, error) {
	if useMemory || uri == "" {
		return NewMemory(), nil
	}
	return NewMongo(ctx, uri, dbName)
}
