package cache

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrMissingEntry marks a lookup for a key with no stored payload. A key
// list referencing an absent entry indicates a prior partial write, so
// callers must treat this as corruption, never as "no data".
var ErrMissingEntry = errors.New("cache entry missing")

// Entry pairs a resource key with its raw payload.
type Entry struct {
	Key  string
	Data json.RawMessage
}

// Cache is a durable key-value store that survives process teardown
// between invocations.
type Cache interface {
	// PutEntry stores one value under key, replacing any previous value.
	PutEntry(ctx context.Context, key string, data interface{}) error
	// GetEntry reads the value at key into out. A missing key yields an
	// error wrapping ErrMissingEntry.
	GetEntry(ctx context.Context, key string, out interface{}) error
	// PutEntries stores a batch in one write.
	PutEntries(ctx context.Context, entries []Entry) error
	// GetEntries reads a batch; any missing key fails the whole read.
	GetEntries(ctx context.Context, keys []string) ([]Entry, error)
	// PutList replaces the string list stored at key.
	PutList(ctx context.Context, key string, values []string) error
	// GetList reads the string list at key; a missing list is empty.
	GetList(ctx context.Context, key string) ([]string, error)
	// DeletePrefix removes every key beginning with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}
