package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frauddetect/fraud-engine/internal/models"
)

func TestGenerateLinksZipHeuristic(t *testing.T) {
	f := newGraphFixture(t)
	ctx := context.Background()
	f.addUser(t, "u1", "11111", false)
	f.addUser(t, "u2", "11111", false)
	f.addUser(t, "u3", "22222", false)

	created, err := f.engine.GenerateLinks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	link, err := f.engine.ReadLink(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.Equal(t, models.LinkTypeGenerated, link.Type)
	assert.Equal(t, 0.5, link.Weight)
	assert.Equal(t, []string{models.ZipCodeMatch}, link.Reasons)
	assert.Equal(t, []string{models.ZipCodeMatch}, link.RuleIDs)
}

func TestGenerateLinksCollectsAllMatchingRules(t *testing.T) {
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

	require.NoError(t, f.engine.CreateUser(ctx, &models.User{
		UserID: "u1", EmailDomain: "a.example", AddressZip: "11111",
	}))
	require.NoError(t, f.engine.CreateUser(ctx, &models.User{
		UserID: "u2", EmailDomain: "a.example", AddressZip: "11111",
	}))

	created, err := f.engine.GenerateLinks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	link, err := f.engine.ReadLink(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.Equal(t, []string{"same email domain", models.ZipCodeMatch}, link.Reasons)
	assert.Equal(t, []string{"g-mail", models.ZipCodeMatch}, link.RuleIDs)
}

func TestGenerateLinksPreservesExistingLinks(t *testing.T) {
	f := newGraphFixture(t)
	ctx := context.Background()
	f.addUser(t, "u1", "11111", false)
	f.addUser(t, "u2", "11111", false)
	f.addLink(t, "u1", "u2")

	created, err := f.engine.GenerateLinks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, created)

	link, err := f.engine.ReadLink(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.Equal(t, models.LinkTypeManual, link.Type)
}

func TestGenerateLinksIdempotent(t *testing.T) {
	f := newGraphFixture(t)
	ctx := context.Background()
	f.addUser(t, "u1", "11111", false)
	f.addUser(t, "u2", "11111", false)

	created, err := f.engine.GenerateLinks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	created, err = f.engine.GenerateLinks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, created)

	// a new matching user only yields the missing pairs
	f.addUser(t, "u3", "11111", false)
	created, err = f.engine.GenerateLinks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, created)
}
