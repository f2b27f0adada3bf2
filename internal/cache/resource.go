package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"stacksync/pkg/models"
)

// Resource categories managed by the fetch steps.
const (
	CategoryOnlineAgents    = "onlineAgents"
	CategoryOfflineAgents   = "offlineAgents"
	CategoryVulnerabilities = "vulnerabilities"
)

// ResourceCache is a per-category view over a Cache: raw entries keyed by
// resource ID, an ordered ID list accumulated across invocations, and a
// completion marker for the current fetch cycle.
type ResourceCache struct {
	cache    Cache
	category string
}

// NewResourceCache creates the view for one resource category.
func NewResourceCache(c Cache, category string) *ResourceCache {
	return &ResourceCache{cache: c, category: category}
}

// Category returns the resource category name.
func (r *ResourceCache) Category() string {
	return r.category
}

// GetIDs returns the IDs discovered so far this cycle, in fetch order.
func (r *ResourceCache) GetIDs(ctx context.Context) ([]string, error) {
	return r.cache.GetList(ctx, r.idsKey())
}

// PutIDs replaces the running ID list. Callers must write the entries the
// list references first, so the list never points at an absent payload.
func (r *ResourceCache) PutIDs(ctx context.Context, ids []string) error {
	return r.cache.PutList(ctx, r.idsKey(), ids)
}

// PutEntries writes raw records in one batch, keyed by resource ID.
func (r *ResourceCache) PutEntries(ctx context.Context, entries []Entry) error {
	prefixed := make([]Entry, len(entries))
	for i, e := range entries {
		prefixed[i] = Entry{Key: r.entryKey(e.Key), Data: e.Data}
	}
	return r.cache.PutEntries(ctx, prefixed)
}

// GetData reads the raw record for one resource ID.
func (r *ResourceCache) GetData(ctx context.Context, id string, out interface{}) error {
	return r.cache.GetEntry(ctx, r.entryKey(id), out)
}

// GetAll loads every record referenced by the ID list, decoding each
// payload into a fresh value produced by decode.
func (r *ResourceCache) GetAll(ctx context.Context, decode func(key string, data json.RawMessage) error) error {
	ids, err := r.GetIDs(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.entryKey(id)
	}
	entries, err := r.cache.GetEntries(ctx, keys)
	if err != nil {
		if errors.Is(err, ErrMissingEntry) {
			return fmt.Errorf("%s key list references unwritten entry: %w", r.category, err)
		}
		return err
	}
	for i, e := range entries {
		if err := decode(ids[i], e.Data); err != nil {
			return fmt.Errorf("decode %s entry %s: %w", r.category, ids[i], err)
		}
	}
	return nil
}

// GetState reads the completion marker; a missing marker means the cycle
// never finished.
func (r *ResourceCache) GetState(ctx context.Context) (models.ResourceState, error) {
	var state models.ResourceState
	err := r.cache.GetEntry(ctx, r.stateKey(), &state)
	if errors.Is(err, ErrMissingEntry) {
		return models.ResourceState{}, nil
	}
	if err != nil {
		return models.ResourceState{}, err
	}
	return state, nil
}

// PutState writes the completion marker.
func (r *ResourceCache) PutState(ctx context.Context, state models.ResourceState) error {
	return r.cache.PutEntry(ctx, r.stateKey(), state)
}

// Reset discards all category data at the start of a new fetch cycle.
func (r *ResourceCache) Reset(ctx context.Context) error {
	if err := r.cache.DeletePrefix(ctx, r.category+"/"); err != nil {
		return fmt.Errorf("reset %s cache: %w", r.category, err)
	}
	return nil
}

func (r *ResourceCache) idsKey() string {
	return r.category + "/ids"
}

func (r *ResourceCache) stateKey() string {
	return r.category + "/state"
}

func (r *ResourceCache) entryKey(id string) string {
	return r.category + "/" + id
}
