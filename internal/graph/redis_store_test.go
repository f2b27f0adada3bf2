package graph

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stacksync/pkg/models"
)

func setupStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestFindEntitiesByTypeEmpty(t *testing.T) {
	s := setupStore(t)
	entities, err := s.FindEntitiesByType(context.Background(), "threatstack_agent")
	require.NoError(t, err)
	assert.Empty(t, entities)
}

func TestPublishAndReload(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	agent := models.Entity{
		Key:        "threatstack:agent:a1",
		Type:       "threatstack_agent",
		Class:      "HostAgent",
		Properties: map[string]interface{}{"hostname": "web01", "active": true},
	}
	require.NoError(t, s.Publish(ctx,
		[]models.EntityOperation{{Kind: models.OpCreate, Entity: agent}},
		nil,
	))

	entities, err := s.FindEntitiesByType(ctx, "threatstack_agent")
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, agent.Key, entities[0].Key)
	assert.Equal(t, "web01", entities[0].Properties["hostname"])
	assert.Equal(t, true, entities[0].Properties["active"])
}

func TestPublishUpdateReplacesPayload(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	e := models.Entity{Key: "k1", Type: "threatstack_agent", Class: "HostAgent",
		Properties: map[string]interface{}{"status": "online"}}
	require.NoError(t, s.Publish(ctx, []models.EntityOperation{{Kind: models.OpCreate, Entity: e}}, nil))

	e.Properties["status"] = "offline"
	require.NoError(t, s.Publish(ctx, []models.EntityOperation{{Kind: models.OpUpdate, Entity: e}}, nil))

	entities, err := s.FindEntitiesByType(ctx, "threatstack_agent")
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "offline", entities[0].Properties["status"])
}

func TestPublishDeleteRemovesRecord(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	e := models.Entity{Key: "k1", Type: "threatstack_agent", Class: "HostAgent"}
	require.NoError(t, s.Publish(ctx, []models.EntityOperation{{Kind: models.OpCreate, Entity: e}}, nil))
	require.NoError(t, s.Publish(ctx, []models.EntityOperation{{Kind: models.OpDelete, Entity: e}}, nil))

	entities, err := s.FindEntitiesByType(ctx, "threatstack_agent")
	require.NoError(t, err)
	assert.Empty(t, entities)
}

func TestPublishMappedRelationshipRoundTrip(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	rel := models.Relationship{
		Key:   "threatstack:agent:a1|identified|cve-1",
		Type:  "threatstack_agent_identified_vulnerability",
		Class: "IDENTIFIED",
		Properties: map[string]interface{}{
			"finding":    "pkg 1.0",
			"suppressed": false,
		},
		Mapping: &models.Mapping{
			SourceKey:        "threatstack:agent:a1",
			Direction:        models.DirectionForward,
			TargetFilterKeys: [][]string{{"type", "key"}},
			TargetEntity: models.Entity{
				Key:        "cve-1",
				Type:       "cve",
				Class:      "Vulnerability",
				Properties: map[string]interface{}{"targets": []interface{}{"i-123"}},
			},
		},
	}
	require.NoError(t, s.Publish(ctx, nil,
		[]models.RelationshipOperation{{Kind: models.OpCreate, Relationship: rel}}))

	rels, err := s.FindRelationshipsByType(ctx, rel.Type)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, rel.Key, rels[0].Key)
	require.NotNil(t, rels[0].Mapping)
	assert.Equal(t, [][]string{{"type", "key"}}, rels[0].Mapping.TargetFilterKeys)
	assert.Equal(t, "cve-1", rels[0].Mapping.TargetEntity.Key)
}
