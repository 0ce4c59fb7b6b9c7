// Package schema describes collection metadata consumed by the query compiler:
// field types, relationships and primary keys. The physical DDL manager owns
// the real tables; bundata only reads the shape through the Provider contract.
package schema

import (
	"errors"
	"fmt"
	"strings"
)

// FieldType is the logical type of a collection field.
type FieldType string

const (
	TypeString     FieldType = "string"
	TypeText       FieldType = "text"
	TypeUUID       FieldType = "uuid"
	TypeInteger    FieldType = "integer"
	TypeBigInteger FieldType = "bigInteger"
	TypeFloat      FieldType = "float"
	TypeDecimal    FieldType = "decimal"
	TypeBoolean    FieldType = "boolean"
	TypeTimestamp  FieldType = "timestamp"
	TypeDate       FieldType = "date"
	TypeTime       FieldType = "time"
	TypeJSON       FieldType = "json"
	TypeArray      FieldType = "array"
	TypeGeometry   FieldType = "geometry"
)

// IsText reports whether the type holds searchable text or identifiers.
func (t FieldType) IsText() bool {
	switch t {
	case TypeString, TypeText, TypeUUID:
		return true
	}
	return false
}

// IsNumeric reports whether the type supports numeric comparison.
func (t FieldType) IsNumeric() bool {
	switch t {
	case TypeInteger, TypeBigInteger, TypeFloat, TypeDecimal:
		return true
	}
	return false
}

// IsTemporal reports whether the type holds a date or time value.
func (t FieldType) IsTemporal() bool {
	switch t {
	case TypeTimestamp, TypeDate, TypeTime:
		return true
	}
	return false
}

// Field is a single column on a collection.
type Field struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Nullable bool      `json:"nullable,omitempty"`
}

// RelationKind distinguishes the join direction of a relationship.
type RelationKind string

const (
	// RelManyToOne: this collection holds a foreign key to the target.
	RelManyToOne RelationKind = "m2o"
	// RelOneToMany: the target collection holds a foreign key back to this one.
	RelOneToMany RelationKind = "o2m"
)

// Relationship is a named edge from a collection to a target collection.
type Relationship struct {
	Kind   RelationKind `json:"kind"`
	Target string       `json:"target"`
	// ForeignKey is the FK column: on this collection for m2o,
	// on the target collection for o2m.
	ForeignKey string `json:"foreignKey"`
}

var (
	// ErrUnknownCollection is returned for a collection absent from the schema.
	ErrUnknownCollection = errors.New("unknown collection")
	// ErrUnknownField is returned for a field path that does not resolve.
	ErrUnknownField = errors.New("unknown field")
)

// Provider exposes collection metadata to the compiler. Implementations must
// be safe for concurrent readers; bundata never mutates schema state.
type Provider interface {
	// Fields returns all fields of a collection.
	Fields(collection string) ([]Field, error)
	// FieldType resolves a field path, traversing relationships on dots
	// (e.g. "author.name"). Returns ErrUnknownField if any segment is absent.
	FieldType(collection, fieldPath string) (FieldType, error)
	// Relationships returns the named relationships of a collection.
	Relationships(collection string) (map[string]Relationship, error)
	// PrimaryKey returns the primary key field name of a collection.
	PrimaryKey(collection string) (string, error)
}

// ResolvePath walks a dot-separated field path and returns the terminal
// collection and field name. Depth counts relation hops; a path deeper than
// maxDepth is rejected.
func ResolvePath(p Provider, collection, fieldPath string, maxDepth int) (string, string, error) {
	parts := strings.Split(fieldPath, ".")
	if maxDepth > 0 && len(parts)-1 > maxDepth {
		return "", "", fmt.Errorf("%w: path %q exceeds relation depth %d", ErrUnknownField, fieldPath, maxDepth)
	}
	current := collection
	for i, part := range parts {
		if i == len(parts)-1 {
			return current, part, nil
		}
		rels, err := p.Relationships(current)
		if err != nil {
			return "", "", err
		}
		rel, ok := rels[part]
		if !ok {
			return "", "", fmt.Errorf("%w: %q is not a relationship on %q", ErrUnknownField, part, current)
		}
		current = rel.Target
	}
	return current, fieldPath, nil
}
