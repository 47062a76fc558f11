package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/frauddetect/fraud-engine/internal/models"
	"github.com/frauddetect/fraud-engine/internal/store"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrTransactionExists   = errors.New("transaction already exists")
)

// TransactionRepository handles transaction history persistence
type TransactionRepository struct {
	store store.Store
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(st store.Store) *TransactionRepository {
	return &TransactionRepository{store: st}
}

// Create inserts a transaction into the history
func (r *TransactionRepository) Create(ctx context.Context, tx *models.Transaction) error {
	err := r.store.InsertOne(ctx, store.CollectionTransactions, tx)
	if errors.Is(err, store.ErrDuplicateKey) {
		return ErrTransactionExists
	}
	return err
}

// GetByID retrieves a transaction by its external identifier
func (r *TransactionRepository) GetByID(ctx context.Context, transactionID string) (*models.Transaction, error) {
	tx := &models.Transaction{}
	err := r.store.FindOne(ctx, store.CollectionTransactions, bson.M{"transaction_id": transactionID}, tx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return tx, nil
}

// AggregateSince computes an aggregation over one field of a user's
// transactions newer than the cutoff. An empty window aggregates to zero.
func (r *TransactionRepository) AggregateSince(ctx context.Context, userID, field, fn string, since time.Time) (float64, error) {
	var acc bson.M
	switch fn {
	case models.AggCount:
		acc = bson.M{"$sum": 1}
	case models.AggSum:
		acc = bson.M{"$sum": "$" + field}
	case models.AggAverage:
		acc = bson.M{"$avg": "$" + field}
	default:
		return 0, fmt.Errorf("unknown aggregation function %q", fn)
	}

	pipeline := []bson.M{
		{"$match": bson.M{
			"user_id":   userID,
			"timestamp": bson.M{"$gte": since},
		}},
		{"$group": bson.M{"_id": nil, "value": acc}},
	}

	cur, err := r.store.Aggregate(ctx, store.CollectionTransactions, pipeline)
	if err != nil {
		return 0, err
	}
	defer cur.Close(ctx)

	if !cur.Next(ctx) {
		if err := cur.Err(); err != nil {
			return 0, err
		}
		return 0, nil
	}

	var result struct {
		Value float64 `bson:"value"`
	}
	if err := cur.Decode(&result); err != nil {
		return 0, err
	}
	return result.Value, nil
}
