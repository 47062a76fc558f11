package repositories

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/frauddetect/fraud-engine/internal/models"
	"github.com/frauddetect/fraud-engine/internal/store"
)

var (
	ErrClusterNotFound = errors.New("cluster not found")
)

// ClusterRepository handles persisted cluster snapshots
type ClusterRepository struct {
	store store.Store
}

// NewClusterRepository creates a new cluster repository
func NewClusterRepository(st store.Store) *ClusterRepository {
	return &ClusterRepository{store: st}
}

// ReplaceAll clears the collection and persists the given snapshot
func (r *ClusterRepository) ReplaceAll(ctx context.Context, clusters []models.Cluster) error {
	if _, err := r.store.DeleteMany(ctx, store.CollectionClusters, bson.M{}); err != nil {
		return err
	}
	for i := range clusters {
		if err := r.store.InsertOne(ctx, store.CollectionClusters, &clusters[i]); err != nil {
			return err
		}
	}
	return nil
}

// GetByID retrieves a cluster by identifier
func (r *ClusterRepository) GetByID(ctx context.Context, clusterID string) (*models.Cluster, error) {
	cluster := &models.Cluster{}
	err := r.store.FindOne(ctx, store.CollectionClusters, bson.M{"cluster_id": clusterID}, cluster)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrClusterNotFound
		}
		return nil, err
	}
	return cluster, nil
}

// RemoveMember pulls a user out of whichever cluster holds it. A cluster
// that would drop below two members is removed entirely.
func (r *ClusterRepository) RemoveMember(ctx context.Context, userID string) error {
	cluster := &models.Cluster{}
	err := r.store.FindOne(ctx, store.CollectionClusters, bson.M{"members": userID}, cluster)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	members := cluster.Members[:0:0]
	for _, m := range cluster.Members {
		if m != userID {
			members = append(members, m)
		}
	}

	if len(members) < 2 {
		_, err = r.store.DeleteOne(ctx, store.CollectionClusters, bson.M{"cluster_id": cluster.ClusterID})
		return err
	}

	_, err = r.store.UpdateOne(ctx, store.CollectionClusters,
		bson.M{"cluster_id": cluster.ClusterID}, bson.M{"members": members})
	return err
}

// List retrieves all clusters
func (r *ClusterRepository) List(ctx context.Context) ([]*models.Cluster, error) {
	cur, err := r.store.Find(ctx, store.CollectionClusters, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var clusters []*models.Cluster
	for cur.Next(ctx) {
		cluster := &models.Cluster{}
		if err := cur.Decode(cluster); err != nil {
			return nil, err
		}
		clusters = append(clusters, cluster)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return clusters, nil
}
