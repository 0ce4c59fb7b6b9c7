package permissions

import (
	"fmt"

	"github.com/kartikbazzad/bunbase/bundata/access"
	"github.com/kartikbazzad/bunbase/bundata/query"
)

// Grant is the resolved outcome of a permission lookup. Condition trees are
// parsed but still carry unresolved dynamic variables; the engine resolves
// them at merge time against the same "now" instant as the caller's filter.
type Grant struct {
	// Denied marks a default-deny outcome: no record existed for the tuple
	// and the caller is not an administrator.
	Denied bool

	// Fields is the allowlist; nil means all fields.
	Fields []string

	// Conditions is the mandatory row filter; nil means no restriction.
	Conditions query.Node

	// RelConditions are per-relation security filters.
	RelConditions map[string]query.Node

	// DefaultValues and Validation serve the write path only.
	DefaultValues map[string]any
	Validation    string
}

// AllFields reports whether every field is permitted.
func (g *Grant) AllFields() bool {
	return !g.Denied && g.Fields == nil
}

// FieldAllowed reports whether one field survives the allowlist.
func (g *Grant) FieldAllowed(name string) bool {
	if g.Denied {
		return false
	}
	if g.Fields == nil {
		return true
	}
	for _, f := range g.Fields {
		if f == name {
			return true
		}
	}
	return false
}

// Resolver turns (accountability, collection, action) into a Grant using the
// snapshot cache. Lookups never fail for absence; only a record that cannot
// be parsed against the schema is an error, since that means the stored
// policy is corrupt.
type Resolver struct {
	cache  *Cache
	parser *query.Parser
}

// NewResolver builds a resolver over a cache and a filter parser bound to the
// live schema.
func NewResolver(cache *Cache, parser *query.Parser) *Resolver {
	return &Resolver{cache: cache, parser: parser}
}

// Resolve implements the grant algorithm:
//  1. administrators get an unrestricted grant;
//  2. otherwise the snapshot is consulted by (role, collection, action);
//  3. absence is a deny (empty field list, match-nothing filter);
//  4. a found record is parsed into AST form with variables left in place.
func (r *Resolver) Resolve(acc *access.Accountability, collection string, action access.Action) (Grant, error) {
	if acc == nil {
		acc = &access.Accountability{}
	}
	if acc.IsAdmin() {
		return Grant{}, nil
	}

	perm, ok := r.lookup(acc, collection, action)
	if !ok {
		return Grant{
			Denied:     true,
			Fields:     []string{},
			Conditions: query.MatchNothing(),
		}, nil
	}

	conditions, err := r.parser.Parse(collection, perm.Conditions)
	if err != nil {
		return Grant{}, fmt.Errorf("permission %s has an invalid condition tree: %w", perm.ID, err)
	}

	var relConditions map[string]query.Node
	if len(perm.RelConditions) > 0 {
		relConditions = make(map[string]query.Node, len(perm.RelConditions))
		rels, err := r.parser.Schema.Relationships(collection)
		if err != nil {
			return Grant{}, err
		}
		for name, raw := range perm.RelConditions {
			rel, declared := rels[name]
			if !declared {
				return Grant{}, fmt.Errorf("permission %s references undeclared relation %q on %q", perm.ID, name, collection)
			}
			node, err := r.parser.Parse(rel.Target, raw)
			if err != nil {
				return Grant{}, fmt.Errorf("permission %s has an invalid condition for relation %q: %w", perm.ID, name, err)
			}
			relConditions[name] = node
		}
	}

	return Grant{
		Fields:        perm.Fields,
		Conditions:    conditions,
		RelConditions: relConditions,
		DefaultValues: perm.DefaultValues,
		Validation:    perm.Validation,
	}, nil
}

// lookup prefers records preloaded on the accountability (the auth layer may
// inline them) and falls back to the process-wide snapshot.
func (r *Resolver) lookup(acc *access.Accountability, collection string, action access.Action) (access.Permission, bool) {
	if len(acc.Permissions) > 0 {
		for _, p := range acc.Permissions {
			if p.Role == acc.RoleID() && p.Collection == collection && p.Action == action {
				return p, true
			}
		}
		return access.Permission{}, false
	}
	return r.cache.Lookup(acc.RoleID(), collection, action)
}
