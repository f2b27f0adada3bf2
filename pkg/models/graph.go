package models

import (
	"bytes"
	"encoding/json"
)

// Entity is a typed graph node. Key is stable across syncs and drives the
// create/update/delete diff; Properties hold the mapped source fields.
type Entity struct {
	Key        string                 `json:"key"`
	Type       string                 `json:"type"`
	Class      string                 `json:"class"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// RelationshipDirection orients a mapped relationship.
type RelationshipDirection string

const (
	DirectionForward RelationshipDirection = "FORWARD"
	DirectionReverse RelationshipDirection = "REVERSE"
)

// Mapping defers a relationship target to a filter rule instead of a
// resolved key, for targets that may not exist in the graph yet. The
// graph store applies the relationship once an entity matching
// TargetFilterKeys against TargetEntity appears.
type Mapping struct {
	SourceKey        string                `json:"sourceKey"`
	Direction        RelationshipDirection `json:"direction"`
	TargetFilterKeys [][]string            `json:"targetFilterKeys"`
	TargetEntity     Entity                `json:"targetEntity"`
}

// Relationship is a typed directed edge. A nil Mapping means both ends are
// resolved; otherwise ToKey is empty and the target is selected by the
// mapping rule.
type Relationship struct {
	Key        string                 `json:"key"`
	Type       string                 `json:"type"`
	Class      string                 `json:"class"`
	FromKey    string                 `json:"fromKey,omitempty"`
	ToKey      string                 `json:"toKey,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	Mapping    *Mapping               `json:"mapping,omitempty"`
}

// OperationKind is one of the three diff outcomes.
type OperationKind string

const (
	OpCreate OperationKind = "create"
	OpUpdate OperationKind = "update"
	OpDelete OperationKind = "delete"
)

// EntityOperation applies one entity change to the graph.
type EntityOperation struct {
	Kind   OperationKind `json:"kind"`
	Entity Entity        `json:"entity"`
}

// RelationshipOperation applies one relationship change to the graph.
type RelationshipOperation struct {
	Kind         OperationKind `json:"kind"`
	Relationship Relationship  `json:"relationship"`
}

// CanonicalJSON renders v with sorted object keys, for byte-wise
// comparison of mapped payloads that may have crossed a JSON round trip.
func CanonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// EntitiesEqual reports whether two entities carry the same mapped fields.
func EntitiesEqual(a, b Entity) bool {
	ca, err := CanonicalJSON(a)
	if err != nil {
		return false
	}
	cb, err := CanonicalJSON(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ca, cb)
}

// RelationshipsEqual reports whether two relationships carry the same
// mapped fields, including any mapping rule.
func RelationshipsEqual(a, b Relationship) bool {
	ca, err := CanonicalJSON(a)
	if err != nil {
		return false
	}
	cb, err := CanonicalJSON(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ca, cb)
}
