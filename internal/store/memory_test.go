package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

type memDoc struct {
	UserID string    `bson:"user_id"`
	Amount float64   `bson:"amount"`
	Tags   []string  `bson:"tags,omitempty"`
	At     time.Time `bson:"at,omitempty"`
}

func TestMemoryInsertAndFindOne(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()

	require.NoError(t, st.InsertOne(ctx, CollectionTransactions, memDoc{UserID: "u1", Amount: 100}))

	var got memDoc
	require.NoError(t, st.FindOne(ctx, CollectionTransactions, bson.M{"user_id": "u1"}, &got))
	assert.Equal(t, 100.0, got.Amount)

	err := st.FindOne(ctx, CollectionTransactions, bson.M{"user_id": "ghost"}, &got)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryUniqueUserID(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()

	require.NoError(t, st.InsertOne(ctx, CollectionUsers, bson.M{"user_id": "u1"}))
	err := st.InsertOne(ctx, CollectionUsers, bson.M{"user_id": "u1"})
	assert.ErrorIs(t, err, ErrDuplicateKey)

	// uniqueness is a users-only index
	require.NoError(t, st.InsertOne(ctx, CollectionLinks, bson.M{"user_id": "u1"}))
	require.NoError(t, st.InsertOne(ctx, CollectionLinks, bson.M{"user_id": "u1"}))
}

func TestMemoryUpdateAndDelete(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()

	require.NoError(t, st.InsertOne(ctx, CollectionRules, bson.M{"rule_id": "r1", "name": "old"}))

	matched, err := st.UpdateOne(ctx, CollectionRules, bson.M{"rule_id": "r1"}, bson.M{"name": "new"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), matched)

	var got bson.M
	require.NoError(t, st.FindOne(ctx, CollectionRules, bson.M{"rule_id": "r1"}, &got))
	assert.Equal(t, "new", got["name"])

	matched, err = st.UpdateOne(ctx, CollectionRules, bson.M{"rule_id": "ghost"}, bson.M{"name": "x"})
	require.NoError(t, err)
	assert.Zero(t, matched)

	deleted, err := st.DeleteOne(ctx, CollectionRules, bson.M{"rule_id": "r1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	deleted, err = st.DeleteOne(ctx, CollectionRules, bson.M{"rule_id": "r1"})
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestMemoryDeleteMany(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, st.InsertOne(ctx, CollectionLinks, bson.M{"source": id, "target": "x"}))
	}
	require.NoError(t, st.InsertOne(ctx, CollectionLinks, bson.M{"source": "d", "target": "y"}))

	deleted, err := st.DeleteMany(ctx, CollectionLinks, bson.M{"target": "x"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	cur, err := st.Find(ctx, CollectionLinks, bson.M{})
	require.NoError(t, err)
	count := 0
	for cur.Next(ctx) {
		count++
	}
	assert.Equal(t, 1, count)
}

func TestMemoryFilterOperators(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()

	docs := []memDoc{
		{UserID: "u1", Amount: 100, Tags: []string{"r1", "r2"}},
		{UserID: "u2", Amount: 200},
		{UserID: "u3", Amount: 300, Tags: []string{"r3"}},
	}
	for _, d := range docs {
		require.NoError(t, st.InsertOne(ctx, CollectionLinks, d))
	}

	countMatching := func(filter bson.M) int {
		cur, err := st.Find(ctx, CollectionLinks, filter)
		require.NoError(t, err)
		n := 0
		for cur.Next(ctx) {
			n++
		}
		return n
	}

	assert.Equal(t, 2, countMatching(bson.M{"amount": bson.M{"$gte": 200}}))
	assert.Equal(t, 1, countMatching(bson.M{"amount": bson.M{"$gt": 200}}))
	assert.Equal(t, 2, countMatching(bson.M{"amount": bson.M{"$ne": 200}}))
	assert.Equal(t, 2, countMatching(bson.M{"user_id": bson.M{"$in": []string{"u1", "u3"}}}))
	assert.Equal(t, 2, countMatching(bson.M{"$or": []bson.M{{"user_id": "u1"}, {"user_id": "u2"}}}))
	assert.Equal(t, 1, countMatching(bson.M{"$and": []bson.M{{"user_id": "u1"}, {"amount": 100}}}))

	// array field matches a scalar when any element equals it
	assert.Equal(t, 1, countMatching(bson.M{"tags": "r2"}))
	assert.Equal(t, 0, countMatching(bson.M{"tags": "r9"}))
}

func TestMemoryTimeComparison(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, st.InsertOne(ctx, CollectionTransactions, memDoc{UserID: "u1", At: now.Add(-time.Hour)}))
	require.NoError(t, st.InsertOne(ctx, CollectionTransactions, memDoc{UserID: "u1", At: now.Add(-48 * time.Hour)}))

	cur, err := st.Find(ctx, CollectionTransactions, bson.M{"at": bson.M{"$gte": now.Add(-24 * time.Hour)}})
	require.NoError(t, err)
	count := 0
	for cur.Next(ctx) {
		count++
	}
	assert.Equal(t, 1, count)
}

func TestMemoryAggregate(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()

	amounts := []float64{100, 200, 300}
	for _, a := range amounts {
		require.NoError(t, st.InsertOne(ctx, CollectionTransactions, memDoc{UserID: "u1", Amount: a}))
	}
	require.NoError(t, st.InsertOne(ctx, CollectionTransactions, memDoc{UserID: "u2", Amount: 999}))

	pipeline := []bson.M{
		{"$match": bson.M{"user_id": "u1"}},
		{"$group": bson.M{
			"_id":   nil,
			"count": bson.M{"$sum": 1},
			"total": bson.M{"$sum": "$amount"},
			"avg":   bson.M{"$avg": "$amount"},
		}},
	}

	cur, err := st.Aggregate(ctx, CollectionTransactions, pipeline)
	require.NoError(t, err)
	require.True(t, cur.Next(ctx))

	var out bson.M
	require.NoError(t, cur.Decode(&out))
	assert.Equal(t, 3.0, out["count"])
	assert.Equal(t, 600.0, out["total"])
	assert.Equal(t, 200.0, out["avg"])
	assert.False(t, cur.Next(ctx))
}

func TestMemoryAggregateEmptyMatch(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()

	pipeline := []bson.M{
		{"$match": bson.M{"user_id": "nobody"}},
		{"$group": bson.M{"_id": nil, "count": bson.M{"$sum": 1}}},
	}

	cur, err := st.Aggregate(ctx, CollectionTransactions, pipeline)
	require.NoError(t, err)
	assert.False(t, cur.Next(ctx))
}

func TestMemoryAggregateSkipsNonNumeric(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()

	require.NoError(t, st.InsertOne(ctx, CollectionTransactions, bson.M{"user_id": "u1", "amount": 100}))
	require.NoError(t, st.InsertOne(ctx, CollectionTransactions, bson.M{"user_id": "u1", "amount": "oops"}))

	pipeline := []bson.M{
		{"$group": bson.M{"_id": nil, "total": bson.M{"$sum": "$amount"}, "avg": bson.M{"$avg": "$amount"}}},
	}
	cur, err := st.Aggregate(ctx, CollectionTransactions, pipeline)
	require.NoError(t, err)
	require.True(t, cur.Next(ctx))

	var out bson.M
	require.NoError(t, cur.Decode(&out))
	assert.Equal(t, 100.0, out["total"])
	assert.Equal(t, 100.0, out["avg"])
}

func TestOpenSelectsMemoryDriver(t *testing.T) {
	st, err := Open(context.Background(), "", "frauddetect", false)
	require.NoError(t, err)
	_, ok := st.(*MemoryStore)
	assert.True(t, ok)

	st, err = Open(context.Background(), "mongodb://ignored", "frauddetect", true)
	require.NoError(t, err)
	_, ok = st.(*MemoryStore)
	assert.True(t, ok)
}

func TestMemoryFindCursorSnapshotsDocuments(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()

	require.NoError(t, st.InsertOne(ctx, CollectionTransactions, memDoc{UserID: "u1", Amount: 100}))

	cur, err := st.Find(ctx, CollectionTransactions, bson.M{"user_id": "u1"})
	require.NoError(t, err)
	defer cur.Close(ctx)

	// an update landing between Find and Decode must not bleed into the cursor
	matched, err := st.UpdateOne(ctx, CollectionTransactions, bson.M{"user_id": "u1"}, bson.M{"amount": 999})
	require.NoError(t, err)
	require.Equal(t, int64(1), matched)

	require.True(t, cur.Next(ctx))
	var got memDoc
	require.NoError(t, cur.Decode(&got))
	assert.Equal(t, 100.0, got.Amount)

	var fresh memDoc
	require.NoError(t, st.FindOne(ctx, CollectionTransactions, bson.M{"user_id": "u1"}, &fresh))
	assert.Equal(t, 999.0, fresh.Amount)
}

func TestMemoryConcurrentFindAndUpdate(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, st.InsertOne(ctx, CollectionTransactions, memDoc{UserID: "u1", Amount: float64(i)}))
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			cur, err := st.Find(ctx, CollectionTransactions, bson.M{"user_id": "u1"})
			if err != nil {
				t.Error(err)
				return
			}
			for cur.Next(ctx) {
				var doc memDoc
				if err := cur.Decode(&doc); err != nil {
					t.Error(err)
					return
				}
			}
			cur.Close(ctx)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if _, err := st.UpdateOne(ctx, CollectionTransactions, bson.M{"user_id": "u1"}, bson.M{"amount": float64(i)}); err != nil {
				t.Error(err)
				return
			}
		}
	}()
	wg.Wait()
}
