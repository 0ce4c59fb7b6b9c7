package permissions

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kartikbazzad/bunbase/bundata/access"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PGStore persists permission records in the _permissions table. Condition
// trees, field allowlists and defaults are stored as JSONB in their raw form;
// parsing and validation happen at resolve time against the live schema.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore connects the store to a pool and runs the embedded migrations.
// dsn is only used by the migrator; queries go through the pool.
func NewPGStore(ctx context.Context, pool *pgxpool.Pool, dsn string) (*PGStore, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

// List returns every permission record, for snapshot builds.
func (s *PGStore) List(ctx context.Context) ([]access.Permission, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, role, collection, action, fields, conditions, rel_conditions, default_values, validation
		FROM _permissions
		ORDER BY role, collection, action
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query permissions: %w", err)
	}
	defer rows.Close()

	var perms []access.Permission
	for rows.Next() {
		var (
			p                                         access.Permission
			fieldsJSON, condJSON, relJSON, defltsJSON []byte
		)
		if err := rows.Scan(&p.ID, &p.Role, &p.Collection, &p.Action, &fieldsJSON, &condJSON, &relJSON, &defltsJSON, &p.Validation); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		if err := decodeJSON(fieldsJSON, &p.Fields); err != nil {
			return nil, fmt.Errorf("permission %s: bad fields: %w", p.ID, err)
		}
		if err := decodeJSON(condJSON, &p.Conditions); err != nil {
			return nil, fmt.Errorf("permission %s: bad conditions: %w", p.ID, err)
		}
		if err := decodeJSON(relJSON, &p.RelConditions); err != nil {
			return nil, fmt.Errorf("permission %s: bad rel_conditions: %w", p.ID, err)
		}
		if err := decodeJSON(defltsJSON, &p.DefaultValues); err != nil {
			return nil, fmt.Errorf("permission %s: bad default_values: %w", p.ID, err)
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// Create inserts a record. The unique tuple index rejects a second rule for
// the same (role, collection, action).
func (s *PGStore) Create(ctx context.Context, p access.Permission) (access.Permission, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	fieldsJSON, condJSON, relJSON, defltsJSON, err := encodePermission(p)
	if err != nil {
		return access.Permission{}, err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO _permissions (id, role, collection, action, fields, conditions, rel_conditions, default_values, validation)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, p.ID, p.Role, p.Collection, p.Action, fieldsJSON, condJSON, relJSON, defltsJSON, p.Validation)
	if err != nil {
		return access.Permission{}, fmt.Errorf("failed to create permission: %w", err)
	}
	return p, nil
}

// Update replaces a record by id.
func (s *PGStore) Update(ctx context.Context, p access.Permission) error {
	fieldsJSON, condJSON, relJSON, defltsJSON, err := encodePermission(p)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE _permissions
		SET role = $2, collection = $3, action = $4, fields = $5, conditions = $6,
		    rel_conditions = $7, default_values = $8, validation = $9, updated_at = NOW()
		WHERE id = $1
	`, p.ID, p.Role, p.Collection, p.Action, fieldsJSON, condJSON, relJSON, defltsJSON, p.Validation)
	if err != nil {
		return fmt.Errorf("failed to update permission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("permission %s not found", p.ID)
	}
	return nil
}

// Delete removes a record by id.
func (s *PGStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM _permissions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete permission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("permission %s not found", id)
	}
	return nil
}

func encodePermission(p access.Permission) (fields, cond, rel, deflts []byte, err error) {
	if fields, err = encodeJSON(p.Fields); err != nil {
		return
	}
	if cond, err = encodeJSON(p.Conditions); err != nil {
		return
	}
	if rel, err = encodeJSON(p.RelConditions); err != nil {
		return
	}
	deflts, err = encodeJSON(p.DefaultValues)
	return
}

func encodeJSON(v any) ([]byte, error) {
	switch value := v.(type) {
	case []string:
		if value == nil {
			return nil, nil
		}
	case map[string]any:
		if value == nil {
			return nil, nil
		}
	case map[string]map[string]any:
		if value == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func decodeJSON(raw []byte, target any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, target)
}
