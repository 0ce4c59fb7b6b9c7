package bundata

import (
	"context"
	"sort"

	"github.com/kartikbazzad/bunbase/bundata/access"
	"github.com/kartikbazzad/bunbase/bundata/compile"
	"github.com/kartikbazzad/bunbase/bundata/permissions"
	"github.com/kartikbazzad/bunbase/bundata/query"
	"github.com/kartikbazzad/bunbase/bundata/schema"
)

// hydrate attaches related rows per relation plan. Each target collection's
// own read permission is resolved anew: a denied target omits the relation
// key entirely, and allowed targets carry their own security filter into the
// fetch. Returns the names of the relations actually attached.
func (e *Engine) hydrate(ctx context.Context, acc *access.Accountability, vars *query.VarResolver, parent string, rows []map[string]any, relations map[string]*compile.RelationPlan) ([]string, error) {
	if len(relations) == 0 || len(rows) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(relations))
	for name := range relations {
		names = append(names, name)
	}
	sort.Strings(names)

	var attached []string
	for _, name := range names {
		plan := relations[name]

		grant, err := e.resolver.Resolve(acc, plan.Rel.Target, access.ActionRead)
		if err != nil {
			return nil, err
		}
		if grant.Denied {
			continue
		}
		security, err := vars.ResolveNode(grant.Conditions)
		if err != nil {
			return nil, err
		}
		if err := e.hydrateOne(ctx, acc, vars, parent, rows, plan, grant, security); err != nil {
			return nil, err
		}
		attached = append(attached, name)
	}
	return attached, nil
}

func (e *Engine) hydrateOne(ctx context.Context, acc *access.Accountability, vars *query.VarResolver, parent string, rows []map[string]any, plan *compile.RelationPlan, grant permissions.Grant, security query.Node) error {
	targetKey, parentKey, err := e.compiler.RelationKey(parent, plan.Rel)
	if err != nil {
		return err
	}

	keys := make([]any, 0, len(rows))
	seen := make(map[any]bool, len(rows))
	for _, row := range rows {
		v, ok := row[parentKey]
		if !ok || v == nil {
			continue
		}
		if !seen[v] {
			seen[v] = true
			keys = append(keys, v)
		}
	}

	var related []map[string]any
	if len(keys) > 0 {
		fetch := *plan
		fetch.Fields = fetchColumns(plan, grant)
		sqlText, args, err := e.compiler.RelationFetch(&fetch, keys, security)
		if err != nil {
			return err
		}
		related, err = e.exec.Query(ctx, sqlText, args)
		if err != nil {
			return err
		}
	}

	childNames, err := e.hydrate(ctx, acc, vars, plan.Rel.Target, related, plan.Children)
	if err != nil {
		return err
	}

	groups := make(map[any][]map[string]any, len(related))
	for _, rel := range related {
		groups[rel[targetKey]] = append(groups[rel[targetKey]], rel)
	}

	for _, row := range rows {
		switch plan.Rel.Kind {
		case schema.RelManyToOne:
			var match map[string]any
			if v := row[parentKey]; v != nil {
				if g := groups[v]; len(g) > 0 {
					match = g[0]
				}
			}
			if match != nil {
				row[plan.Name] = match
			} else {
				row[plan.Name] = nil
			}
		case schema.RelOneToMany:
			g := groups[row[parentKey]]
			if g == nil {
				g = []map[string]any{}
			}
			row[plan.Name] = g
		}
	}

	// Strip after grouping: the join key may not itself be a response field.
	projectRows(related, relationKeepSet(plan, grant, childNames))
	return nil
}

// fetchColumns filters the planned target columns by the target grant,
// keeping hydration keys for nested levels. Keys stay internal; the
// projector strips them before the response.
func fetchColumns(plan *compile.RelationPlan, grant permissions.Grant) []string {
	if grant.AllFields() {
		return plan.Fields
	}
	extra := make(map[string]bool, len(plan.Extra))
	for _, f := range plan.Extra {
		extra[f] = true
	}
	out := make([]string, 0, len(plan.Fields))
	for _, f := range plan.Fields {
		if extra[f] || grant.FieldAllowed(f) {
			out = append(out, f)
		}
	}
	return out
}

// rootKeepSet lists the response fields of the root rows: the requested,
// allowed columns minus hydration extras, plus hydrated relation names.
func rootKeepSet(plan *compile.Plan, grant permissions.Grant, hydrated []string) map[string]bool {
	keep := keepSet(plan.Columns, plan.Extra, grant)
	for _, name := range hydrated {
		keep[name] = true
	}
	return keep
}

func relationKeepSet(plan *compile.RelationPlan, grant permissions.Grant, hydrated []string) map[string]bool {
	keep := keepSet(plan.Fields, plan.Extra, grant)
	for _, name := range hydrated {
		keep[name] = true
	}
	return keep
}

func keepSet(columns, extras []string, grant permissions.Grant) map[string]bool {
	extra := make(map[string]bool, len(extras))
	for _, f := range extras {
		extra[f] = true
	}
	keep := make(map[string]bool, len(columns))
	for _, col := range columns {
		if extra[col] {
			continue
		}
		if grant.FieldAllowed(col) {
			keep[col] = true
		}
	}
	return keep
}

// projectRows strips every key outside keep. Applying it twice is a no-op.
func projectRows(rows []map[string]any, keep map[string]bool) {
	for _, row := range rows {
		for k := range row {
			if !keep[k] {
				delete(row, k)
			}
		}
	}
}
