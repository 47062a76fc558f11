package repositories

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/frauddetect/fraud-engine/internal/models"
	"github.com/frauddetect/fraud-engine/internal/store"
)

var (
	ErrLinkNotFound = errors.New("link not found")
)

// LinkRepository handles link persistence. Links are undirected: a pair is
// matched in either orientation.
type LinkRepository struct {
	store store.Store
}

// NewLinkRepository creates a new link repository
func NewLinkRepository(st store.Store) *LinkRepository {
	return &LinkRepository{store: st}
}

func pairFilter(source, target string) bson.M {
	return bson.M{"$or": []bson.M{
		{"source": source, "target": target},
		{"source": target, "target": source},
	}}
}

// Create inserts a new link
func (r *LinkRepository) Create(ctx context.Context, link *models.Link) error {
	return r.store.InsertOne(ctx, store.CollectionLinks, link)
}

// Get retrieves the link between two users, in either orientation
func (r *LinkRepository) Get(ctx context.Context, source, target string) (*models.Link, error) {
	link := &models.Link{}
	err := r.store.FindOne(ctx, store.CollectionLinks, pairFilter(source, target), link)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrLinkNotFound
		}
		return nil, err
	}
	return link, nil
}

// Delete removes the link between two users
func (r *LinkRepository) Delete(ctx context.Context, source, target string) error {
	deleted, err := r.store.DeleteOne(ctx, store.CollectionLinks, pairFilter(source, target))
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrLinkNotFound
	}
	return nil
}

// DeleteByUser removes every link touching the given user
func (r *LinkRepository) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	filter := bson.M{"$or": []bson.M{
		{"source": userID},
		{"target": userID},
	}}
	return r.store.DeleteMany(ctx, store.CollectionLinks, filter)
}

// DeleteByRuleID removes every link that lists the given rule
func (r *LinkRepository) DeleteByRuleID(ctx context.Context, ruleID string) (int64, error) {
	return r.store.DeleteMany(ctx, store.CollectionLinks, bson.M{"rule_ids": ruleID})
}

// ListByRuleID retrieves every link that lists the given rule
func (r *LinkRepository) ListByRuleID(ctx context.Context, ruleID string) ([]*models.Link, error) {
	return r.list(ctx, bson.M{"rule_ids": ruleID})
}

// ListWithin retrieves links with both endpoints among the given users
func (r *LinkRepository) ListWithin(ctx context.Context, members []string) ([]*models.Link, error) {
	filter := bson.M{
		"source": bson.M{"$in": members},
		"target": bson.M{"$in": members},
	}
	return r.list(ctx, filter)
}

// List retrieves all links
func (r *LinkRepository) List(ctx context.Context) ([]*models.Link, error) {
	return r.list(ctx, bson.M{})
}

func (r *LinkRepository) list(ctx context.Context, filter bson.M) ([]*models.Link, error) {
	cur, err := r.store.Find(ctx, store.CollectionLinks, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var links []*models.Link
	for cur.Next(ctx) {
		link := &models.Link{}
		if err := cur.Decode(link); err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return links, nil
}
