package permissions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kartikbazzad/bunbase/bundata/access"
)

// StaticStore serves a fixed permission set. Used by the offline CLI and in
// tests; production wiring uses PGStore.
type StaticStore struct {
	Records []access.Permission
}

func (s *StaticStore) List(ctx context.Context) ([]access.Permission, error) {
	return s.Records, nil
}

// LoadStatic parses a JSON array of permission records into a StaticStore.
func LoadStatic(data []byte) (*StaticStore, error) {
	var records []access.Permission
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse permission records: %w", err)
	}
	return &StaticStore{Records: records}, nil
}
