package reconcile

import "stacksync/pkg/models"

// ProcessEntities diffs old vs. new entity sets by stable key: present
// only in new is a create, present in both with differing mapped fields
// is an update, present only in old is a delete.
func ProcessEntities(old, new []models.Entity) []models.EntityOperation {
	oldByKey := make(map[string]models.Entity, len(old))
	for _, e := range old {
		oldByKey[e.Key] = e
	}

	var ops []models.EntityOperation
	seen := make(map[string]struct{}, len(new))
	for _, e := range new {
		seen[e.Key] = struct{}{}
		prev, ok := oldByKey[e.Key]
		switch {
		case !ok:
			ops = append(ops, models.EntityOperation{Kind: models.OpCreate, Entity: e})
		case !models.EntitiesEqual(prev, e):
			ops = append(ops, models.EntityOperation{Kind: models.OpUpdate, Entity: e})
		}
	}
	for _, e := range old {
		if _, ok := seen[e.Key]; !ok {
			ops = append(ops, models.EntityOperation{Kind: models.OpDelete, Entity: e})
		}
	}
	return ops
}

// ProcessRelationships applies the same keyed diff to relationships.
func ProcessRelationships(old, new []models.Relationship) []models.RelationshipOperation {
	oldByKey := make(map[string]models.Relationship, len(old))
	for _, r := range old {
		oldByKey[r.Key] = r
	}

	var ops []models.RelationshipOperation
	seen := make(map[string]struct{}, len(new))
	for _, r := range new {
		seen[r.Key] = struct{}{}
		prev, ok := oldByKey[r.Key]
		switch {
		case !ok:
			ops = append(ops, models.RelationshipOperation{Kind: models.OpCreate, Relationship: r})
		case !models.RelationshipsEqual(prev, r):
			ops = append(ops, models.RelationshipOperation{Kind: models.OpUpdate, Relationship: r})
		}
	}
	for _, r := range old {
		if _, ok := seen[r.Key]; !ok {
			ops = append(ops, models.RelationshipOperation{Kind: models.OpDelete, Relationship: r})
		}
	}
	return ops
}
