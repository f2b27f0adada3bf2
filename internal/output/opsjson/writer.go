package opsjson

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"stacksync/internal/logger"
	"stacksync/pkg/models"
)

// record is one exported change, tagged by record kind so a single JSONL
// stream can carry both entity and relationship operations.
type record struct {
	Record       string               `json:"record"`
	Kind         models.OperationKind `json:"kind"`
	Entity       *models.Entity       `json:"entity,omitempty"`
	Relationship *models.Relationship `json:"relationship,omitempty"`
}

// Writer exports graph operations to a JSON lines file.
type Writer struct {
	file    *os.File
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewWriter creates a JSONL writer for graph operations.
func NewWriter(path string) (*Writer, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open output file: %w", err)
	}

	logger.Infof("Operation JSON writer initialized: %s", path)
	return &Writer{
		file:    f,
		encoder: json.NewEncoder(f),
	}, nil
}

// WriteOperations appends one line per operation, entities first.
func (w *Writer) WriteOperations(entityOps []models.EntityOperation, relationshipOps []models.RelationshipOperation) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i := range entityOps {
		rec := record{Record: "entity", Kind: entityOps[i].Kind, Entity: &entityOps[i].Entity}
		if err := w.encoder.Encode(rec); err != nil {
			return fmt.Errorf("failed to encode entity operation: %w", err)
		}
	}
	for i := range relationshipOps {
		rec := record{Record: "relationship", Kind: relationshipOps[i].Kind, Relationship: &relationshipOps[i].Relationship}
		if err := w.encoder.Encode(rec); err != nil {
			return fmt.Errorf("failed to encode relationship operation: %w", err)
		}
	}
	return nil
}

// Close closes the output file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		return w.file.Close()
	}
	return nil
}
