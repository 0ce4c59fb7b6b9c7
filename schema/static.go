package schema

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed snapshot.schema.json
var snapshotFS embed.FS

// Collection is the snapshot form of one collection's metadata.
type Collection struct {
	Name       string                  `json:"name"`
	PrimaryKey string                  `json:"primaryKey,omitempty"`
	Fields     []Field                 `json:"fields"`
	Relations  map[string]Relationship `json:"relations,omitempty"`
}

// Snapshot is the JSON document a Static provider is loaded from.
type Snapshot struct {
	Collections []Collection `json:"collections"`
}

// Static is an immutable, in-memory Provider built from a Snapshot document.
// Used for embedding, tooling and tests; the platform feeds it from the DDL
// manager's metadata export.
type Static struct {
	collections map[string]Collection
	fieldTypes  map[string]map[string]FieldType
}

// LoadSnapshot validates raw against the embedded JSON Schema and builds a
// Static provider from it.
func LoadSnapshot(raw []byte) (*Static, error) {
	schemaDoc, err := snapshotFS.ReadFile("snapshot.schema.json")
	if err != nil {
		return nil, err
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaDoc),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to validate schema snapshot: %w", err)
	}
	if !result.Valid() {
		var details []string
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return nil, fmt.Errorf("invalid schema snapshot: %s", strings.Join(details, "; "))
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode schema snapshot: %w", err)
	}
	return NewStatic(snap)
}

// NewStatic builds a Static provider from an already-decoded Snapshot.
func NewStatic(snap Snapshot) (*Static, error) {
	s := &Static{
		collections: make(map[string]Collection, len(snap.Collections)),
		fieldTypes:  make(map[string]map[string]FieldType, len(snap.Collections)),
	}
	for _, col := range snap.Collections {
		if _, exists := s.collections[col.Name]; exists {
			return nil, fmt.Errorf("duplicate collection %q in snapshot", col.Name)
		}
		if col.PrimaryKey == "" {
			col.PrimaryKey = "id"
		}
		types := make(map[string]FieldType, len(col.Fields))
		for _, f := range col.Fields {
			types[f.Name] = f.Type
		}
		s.collections[col.Name] = col
		s.fieldTypes[col.Name] = types
	}
	// Relation targets must exist in the same snapshot.
	for _, col := range s.collections {
		for name, rel := range col.Relations {
			if _, ok := s.collections[rel.Target]; !ok {
				return nil, fmt.Errorf("relation %q on %q targets unknown collection %q", name, col.Name, rel.Target)
			}
		}
	}
	return s, nil
}

func (s *Static) Fields(collection string) ([]Field, error) {
	col, ok := s.collections[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, collection)
	}
	return col.Fields, nil
}

func (s *Static) FieldType(collection, fieldPath string) (FieldType, error) {
	target, field, err := ResolvePath(s, collection, fieldPath, 0)
	if err != nil {
		return "", err
	}
	types, ok := s.fieldTypes[target]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCollection, target)
	}
	ft, ok := types[field]
	if !ok {
		return "", fmt.Errorf("%w: %q on %q", ErrUnknownField, field, target)
	}
	return ft, nil
}

func (s *Static) Relationships(collection string) (map[string]Relationship, error) {
	col, ok := s.collections[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, collection)
	}
	return col.Relations, nil
}

func (s *Static) PrimaryKey(collection string) (string, error) {
	col, ok := s.collections[collection]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCollection, collection)
	}
	return col.PrimaryKey, nil
}
