package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"stacksync/internal/metrics"
	"stacksync/pkg/models"
)

// RedisConfig configures Redis access for graph persistence.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStore keeps one hash per record type, field = record key,
// value = JSON. Change-sets are applied through a single pipeline per
// phase so a publish failure never drops part of a computed diff
// silently: the pipeline error surfaces with the operations intact.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore constructs a Redis-backed graph store.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = "stacksync:graph"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis graph store: %w", err)
	}

	return &RedisStore{client: client, prefix: strings.TrimSpace(cfg.KeyPrefix)}, nil
}

// FindEntitiesByType loads all persisted entities of one type.
func (s *RedisStore) FindEntitiesByType(ctx context.Context, entityType string) ([]models.Entity, error) {
	hash, err := s.client.HGetAll(ctx, s.entitiesKey(entityType)).Result()
	if err != nil {
		return nil, fmt.Errorf("read entities %s: %w", entityType, err)
	}
	entities := make([]models.Entity, 0, len(hash))
	for key, raw := range hash {
		var e models.Entity
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("decode entity %s: %w", key, err)
		}
		entities = append(entities, e)
	}
	return entities, nil
}

// FindRelationshipsByType loads all persisted relationships of one type.
func (s *RedisStore) FindRelationshipsByType(ctx context.Context, relationshipType string) ([]models.Relationship, error) {
	hash, err := s.client.HGetAll(ctx, s.relationshipsKey(relationshipType)).Result()
	if err != nil {
		return nil, fmt.Errorf("read relationships %s: %w", relationshipType, err)
	}
	relationships := make([]models.Relationship, 0, len(hash))
	for key, raw := range hash {
		var r models.Relationship
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("decode relationship %s: %w", key, err)
		}
		relationships = append(relationships, r)
	}
	return relationships, nil
}

// Publish applies the change-set, entities first, then relationships.
func (s *RedisStore) Publish(ctx context.Context, entityOps []models.EntityOperation, relationshipOps []models.RelationshipOperation) error {
	pipe := s.client.Pipeline()
	for _, op := range entityOps {
		key := s.entitiesKey(op.Entity.Type)
		switch op.Kind {
		case models.OpDelete:
			pipe.HDel(ctx, key, op.Entity.Key)
		default:
			raw, err := json.Marshal(op.Entity)
			if err != nil {
				return fmt.Errorf("marshal entity %s: %w", op.Entity.Key, err)
			}
			pipe.HSet(ctx, key, op.Entity.Key, raw)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish entity operations: %w", err)
	}
	for _, op := range entityOps {
		metrics.GraphOperations.WithLabelValues(string(op.Kind), "entity").Inc()
	}

	pipe = s.client.Pipeline()
	for _, op := range relationshipOps {
		key := s.relationshipsKey(op.Relationship.Type)
		switch op.Kind {
		case models.OpDelete:
			pipe.HDel(ctx, key, op.Relationship.Key)
		default:
			raw, err := json.Marshal(op.Relationship)
			if err != nil {
				return fmt.Errorf("marshal relationship %s: %w", op.Relationship.Key, err)
			}
			pipe.HSet(ctx, key, op.Relationship.Key, raw)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish relationship operations: %w", err)
	}
	for _, op := range relationshipOps {
		metrics.GraphOperations.WithLabelValues(string(op.Kind), "relationship").Inc()
	}

	return nil
}

// Close closes Redis resources.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) entitiesKey(entityType string) string {
	return s.prefix + ":entities:" + entityType
}

func (s *RedisStore) relationshipsKey(relationshipType string) string {
	return s.prefix + ":relationships:" + relationshipType
}
