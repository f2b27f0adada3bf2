package opsjson

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stacksync/pkg/models"
)

func TestWriterAppendsOneLinePerOperation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "ops.jsonl")
	w, err := NewWriter(path)
	require.NoError(t, err)

	entityOps := []models.EntityOperation{
		{Kind: models.OpCreate, Entity: models.Entity{Key: "threatstack:agent:a1", Type: "threatstack_agent"}},
		{Kind: models.OpDelete, Entity: models.Entity{Key: "threatstack:agent:a2", Type: "threatstack_agent"}},
	}
	relationshipOps := []models.RelationshipOperation{
		{Kind: models.OpCreate, Relationship: models.Relationship{Key: "a|has|b", Type: "threatstack_account_has_agent"}},
	}
	require.NoError(t, w.WriteOperations(entityOps, relationshipOps))
	require.NoError(t, w.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		lines = append(lines, rec)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, lines, 3)
	assert.Equal(t, "entity", lines[0].Record)
	assert.Equal(t, models.OpCreate, lines[0].Kind)
	assert.Equal(t, "threatstack:agent:a1", lines[0].Entity.Key)
	assert.Equal(t, models.OpDelete, lines[1].Kind)
	assert.Equal(t, "relationship", lines[2].Record)
	assert.Equal(t, "a|has|b", lines[2].Relationship.Key)
	assert.Nil(t, lines[2].Entity)
}
