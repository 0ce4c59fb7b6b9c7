// Package permissions resolves what a caller may do to a collection: the
// field allowlist, the mandatory row filter, per-relation conditions and
// write-path defaults. Records live in a process-wide snapshot cache that is
// replaced wholesale on every permission mutation.
package permissions

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/kartikbazzad/bunbase/bundata/access"
)

type key struct {
	role       string
	collection string
	action     access.Action
}

// snapshot is one immutable generation of the permission set. Readers borrow
// the current snapshot for the duration of a compile; writers never touch a
// published snapshot.
type snapshot struct {
	version uint64
	records map[key]access.Permission
}

// Store lists the full permission set used to build cache snapshots.
type Store interface {
	List(ctx context.Context) ([]access.Permission, error)
}

// Cache is the process-wide permission cache. Lookups are lock-free; Reload
// builds a fresh snapshot from the store and publishes it with an atomic
// pointer swap, so readers always observe either the old or the new
// generation in full.
type Cache struct {
	store   Store
	current atomic.Pointer[snapshot]
	version atomic.Uint64
}

// NewCache builds an empty cache over a store. Call Reload before first use.
func NewCache(store Store) *Cache {
	c := &Cache{store: store}
	c.current.Store(&snapshot{records: map[key]access.Permission{}})
	return c
}

// Reload reads the full permission set and publishes a new snapshot. A
// duplicate (role, collection, action) tuple is structural corruption and
// fails the reload; the previous snapshot stays live.
func (c *Cache) Reload(ctx context.Context) error {
	perms, err := c.store.List(ctx)
	if err != nil {
		reloadsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to list permissions: %w", err)
	}

	records := make(map[key]access.Permission, len(perms))
	for _, p := range perms {
		k := key{role: p.Role, collection: p.Collection, action: p.Action}
		if _, dup := records[k]; dup {
			reloadsTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("duplicate permission for role=%q collection=%q action=%q", p.Role, p.Collection, p.Action)
		}
		records[k] = p
	}

	next := &snapshot{
		version: c.version.Add(1),
		records: records,
	}
	c.current.Store(next)

	reloadsTotal.WithLabelValues("ok").Inc()
	snapshotRecords.Set(float64(len(records)))
	slog.Debug("permission snapshot published", "version", next.version, "records", len(records))
	return nil
}

// Lookup returns the permission record for (role, collection, action) from
// the current snapshot. Absence is a normal outcome, not an error.
func (c *Cache) Lookup(role, collection string, action access.Action) (access.Permission, bool) {
	snap := c.current.Load()
	p, ok := snap.records[key{role: role, collection: collection, action: action}]
	return p, ok
}

// Version returns the generation counter of the current snapshot.
func (c *Cache) Version() uint64 {
	return c.current.Load().version
}
