package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frauddetect/fraud-engine/internal/models"
)

func TestClusterNodesByZip(t *testing.T) {
	f := newGraphFixture(t)
	ctx := context.Background()
	f.addUser(t, "u1", "11111", false)
	f.addUser(t, "u2", "11111", false)
	f.addUser(t, "u3", "22222", false)
	f.addUser(t, "u4", "22222", false)
	f.addUser(t, "u5", "33333", false)

	clusters, err := f.engine.ClusterNodes(ctx)
	require.NoError(t, err)
	require.Len(t, clusters, 2)

	assert.Equal(t, "u1", clusters[0].ClusterID)
	assert.Equal(t, []string{"u1", "u2"}, clusters[0].Members)
	assert.Equal(t, "u3", clusters[1].ClusterID)
	assert.Equal(t, []string{"u3", "u4"}, clusters[1].Members)
}

func TestClusterNodesEmptyZipNeverMatches(t *testing.T) {
	f := newGraphFixture(t)
	f.addUser(t, "u1", "", false)
	f.addUser(t, "u2", "", false)

	clusters, err := f.engine.ClusterNodes(context.Background())
	require.NoError(t, err)
	assert.Empty(t, clusters)
}

func TestClusterNodesGraphRuleTransitivity(t *testing.T) {
	f := newGraphFixture(t)
	ctx := context.Background()
	require.NoError(t, f.rules.Create(ctx, &models.Rule{
		RuleID:   "g-mail",
		RuleType: models.RuleTypeGraph,
		Name:     "same email domain",
		Field1:   "email_domain",
		Operator: models.OpEqual,
		Field2:   "email_domain",
	}))

	users := []*models.User{
		{UserID: "u1", EmailDomain: "a.example", AddressZip: "11111"},
		{UserID: "u2", EmailDomain: "a.example"},
		{UserID: "u3", AddressZip: "11111"},
		{UserID: "u4", EmailDomain: "b.example"},
	}
	for _, u := range users {
		require.NoError(t, f.engine.CreateUser(ctx, u))
	}

	clusters, err := f.engine.ClusterNodes(ctx)
	require.NoError(t, err)

	// u1-u2 share a domain, u1-u3 share a zip: one component of three
	require.Len(t, clusters, 1)
	assert.Equal(t, "u1", clusters[0].ClusterID)
	assert.Equal(t, []string{"u1", "u2", "u3"}, clusters[0].Members)
}

func TestClusterNodesReplacesSnapshot(t *testing.T) {
	f := newGraphFixture(t)
	ctx := context.Background()
	f.addUser(t, "u1", "11111", false)
	f.addUser(t, "u2", "11111", false)

	_, err := f.engine.ClusterNodes(ctx)
	require.NoError(t, err)

	user, err := f.engine.ReadUser(ctx, "u2")
	require.NoError(t, err)
	user.AddressZip = "99999"
	require.NoError(t, f.engine.UpdateUser(ctx, user))

	clusters, err := f.engine.ClusterNodes(ctx)
	require.NoError(t, err)
	assert.Empty(t, clusters)

	persisted, err := f.engine.AllClusters(ctx)
	require.NoError(t, err)
	assert.Empty(t, persisted)
}

func TestUnionFind(t *testing.T) {
	uf := newUnionFind(5)
	uf.union(0, 1)
	uf.union(3, 4)

	assert.Equal(t, uf.find(0), uf.find(1))
	assert.NotEqual(t, uf.find(1), uf.find(2))
	assert.Equal(t, uf.find(3), uf.find(4))

	uf.union(1, 3)
	assert.Equal(t, uf.find(0), uf.find(4))
	assert.NotEqual(t, uf.find(2), uf.find(0))
}

func TestDeleteUserDissolvesTwoMemberCluster(t *testing.T) {
	f := newGraphFixture(t)
	ctx := context.Background()
	f.addUser(t, "u1", "11111", false)
	f.addUser(t, "u2", "11111", false)

	clusters, err := f.engine.ClusterNodes(ctx)
	require.NoError(t, err)
	require.Len(t, clusters, 1)

	require.NoError(t, f.engine.DeleteUser(ctx, "u1"))

	// the record is gone and the survivor carries no stale membership
	remaining, err := f.engine.AllClusters(ctx)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	nodes, err := f.engine.AllNodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "u2", nodes[0].UserID)
	assert.Empty(t, nodes[0].ClusterID)
}

func TestDeleteUserKeepsLargerCluster(t *testing.T) {
	f := newGraphFixture(t)
	ctx := context.Background()
	f.addUser(t, "u1", "11111", false)
	f.addUser(t, "u2", "11111", false)
	f.addUser(t, "u3", "11111", false)

	require.NoError(t, f.engine.DeleteUser(ctx, "u3"))

	remaining, err := f.engine.AllClusters(ctx)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, []string{"u1", "u2"}, remaining[0].Members)

	nodes, err := f.engine.AllNodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "u1", nodes[0].ClusterID)
	assert.Equal(t, "u1", nodes[1].ClusterID)
}
