// Package graph persists the synchronized entity/relationship snapshot
// and applies computed change-sets.
package graph

import (
	"context"

	"stacksync/pkg/models"
)

// Store is the graph snapshot the reconciler diffs against. Publish
// applies entity operations before relationship operations.
type Store interface {
	FindEntitiesByType(ctx context.Context, entityType string) ([]models.Entity, error)
	FindRelationshipsByType(ctx context.Context, relationshipType string) ([]models.Relationship, error)
	Publish(ctx context.Context, entityOps []models.EntityOperation, relationshipOps []models.RelationshipOperation) error
}
