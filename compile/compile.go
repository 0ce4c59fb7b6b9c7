package compile

import (
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/kartikbazzad/bunbase/bundata/qerr"
	"github.com/kartikbazzad/bunbase/bundata/query"
	"github.com/kartikbazzad/bunbase/bundata/schema"
)

// DefaultMaxRelationDepth bounds dot-path expansion when the compiler is not
// configured otherwise.
const DefaultMaxRelationDepth = 7

// Input is the merged, variable-resolved query the compiler turns into SQL.
// Filters and relation conditions are already ANDed with the security policy;
// the compiler treats them as one opaque tree.
type Input struct {
	Collection      string
	Filter          query.Node
	Fields          []string
	Sort            []query.Sort
	Page            int
	Limit           int
	Search          string
	SearchFields    []string
	SearchRelevance bool
	Aggregate       map[string]query.Aggregate
	GroupBy         []string
	RelConditions   map[string]query.Node
}

// RelationPlan describes one relation the engine hydrates after the root
// query executes. Fields are the requested target fields before the target's
// own permission allowlist is applied.
type RelationPlan struct {
	Name     string
	Rel      schema.Relationship
	Fields   []string
	Children map[string]*RelationPlan

	// Extra lists columns added for hydration joins that the caller did not
	// request; the projector removes them from the response.
	Extra []string
}

// Plan is the executable form of a compiled query.
type Plan struct {
	SQL  string
	Args []any

	// CountSQL computes totalCount from the merged filter, independent of
	// pagination. Empty for an aggregate query without groupBy (one group).
	CountSQL  string
	CountArgs []any

	// Columns are the output column names of the root query, in order.
	Columns []string

	// Relations are hydrated per row after execution.
	Relations map[string]*RelationPlan

	// Extra lists root columns selected only to drive relation hydration.
	Extra []string

	IsAggregate bool
}

// Compiler assembles merged queries into SQL for one dialect (Postgres,
// dollar placeholders).
type Compiler struct {
	Schema           schema.Provider
	MaxRelationDepth int
}

func (c *Compiler) maxDepth() int {
	if c.MaxRelationDepth > 0 {
		return c.MaxRelationDepth
	}
	return DefaultMaxRelationDepth
}

// Compile produces the Plan for an Input. The input is trusted to be merged
// already; this stage only rejects structural query errors (bad projections,
// undeclared relations, aggregate inconsistencies).
func (c *Compiler) Compile(in Input) (*Plan, error) {
	builder := &sqlBuilder{schema: c.Schema}
	table := quoteIdent(in.Collection)

	where, err := c.buildWhere(builder, in, table)
	if err != nil {
		return nil, err
	}

	if len(in.Aggregate) > 0 || len(in.GroupBy) > 0 {
		return c.compileAggregate(in, table, where)
	}

	columns, relations, err := c.expandProjection(in.Collection, in.Fields, 1)
	if err != nil {
		return nil, err
	}
	columns, extra, err := c.ensureHydrationKeys(in.Collection, columns, relations)
	if err != nil {
		return nil, err
	}

	selectCols := make([]string, len(columns))
	for i, col := range columns {
		selectCols[i] = table + "." + quoteIdent(col)
	}

	qb := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).
		Select(selectCols...).
		From(table).
		Where(where)

	qb, err = c.applySort(qb, in, table)
	if err != nil {
		return nil, err
	}
	qb = applyPagination(qb, in.Page, in.Limit)

	sqlText, args, err := qb.ToSql()
	if err != nil {
		return nil, err
	}

	countSQL, countArgs, err := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).
		Select("COUNT(*)").
		From(table).
		Where(where).
		ToSql()
	if err != nil {
		return nil, err
	}

	return &Plan{
		SQL:       sqlText,
		Args:      args,
		CountSQL:  countSQL,
		CountArgs: countArgs,
		Columns:   columns,
		Relations: relations,
		Extra:     extra,
	}, nil
}

// buildWhere combines the merged filter, relation existence constraints and
// the search condition into one conjunction.
func (c *Compiler) buildWhere(builder *sqlBuilder, in Input, table string) (sq.Sqlizer, error) {
	conj := sq.And{}

	filter, err := builder.node(in.Collection, table, in.Filter)
	if err != nil {
		return nil, err
	}
	conj = append(conj, filter)

	if len(in.RelConditions) > 0 {
		rels, err := c.Schema.Relationships(in.Collection)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(in.RelConditions))
		for name := range in.RelConditions {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			rel, declared := rels[name]
			if !declared {
				return nil, qerr.Malformed("%q is not a relationship on %q", name, in.Collection)
			}
			exists, err := builder.exists(in.Collection, table, rel, name, in.RelConditions[name])
			if err != nil {
				return nil, err
			}
			conj = append(conj, exists)
		}
	}

	if in.Search != "" {
		search, err := c.buildSearch(in, table)
		if err != nil {
			return nil, err
		}
		conj = append(conj, search)
	}

	return conj, nil
}

// expandProjection resolves requested fields into local columns and relation
// plans. depth counts relation hops starting at 1 for the root collection.
func (c *Compiler) expandProjection(collection string, fields []string, depth int) ([]string, map[string]*RelationPlan, error) {
	if depth > c.maxDepth() {
		return nil, nil, qerr.Malformed("field projection exceeds relation depth %d", c.maxDepth())
	}
	if len(fields) == 0 {
		fields = []string{"*"}
	}

	rels, err := c.Schema.Relationships(collection)
	if err != nil {
		return nil, nil, err
	}

	var columns []string
	seen := map[string]bool{}
	relFields := map[string][]string{}
	var relOrder []string

	addColumn := func(name string) {
		if !seen[name] {
			seen[name] = true
			columns = append(columns, name)
		}
	}

	for _, field := range fields {
		head, rest, nested := strings.Cut(field, ".")

		if !nested {
			if field == "*" {
				all, err := c.Schema.Fields(collection)
				if err != nil {
					return nil, nil, err
				}
				for _, f := range all {
					addColumn(f.Name)
				}
				continue
			}
			if _, isRel := rels[field]; isRel {
				// Bare relation name is shorthand for rel.*.
				head, rest = field, "*"
			} else {
				if _, err := c.Schema.FieldType(collection, field); err != nil {
					return nil, nil, qerr.Malformed("field %q: %v", field, err)
				}
				addColumn(field)
				continue
			}
		}

		if _, isRel := rels[head]; !isRel {
			return nil, nil, qerr.Malformed("%q is not a relationship on %q", head, collection)
		}
		if _, tracked := relFields[head]; !tracked {
			relOrder = append(relOrder, head)
		}
		relFields[head] = append(relFields[head], rest)
	}

	relations := make(map[string]*RelationPlan, len(relFields))
	for _, name := range relOrder {
		rel := rels[name]
		subCols, subRels, err := c.expandProjection(rel.Target, relFields[name], depth+1)
		if err != nil {
			return nil, nil, err
		}
		relations[name] = &RelationPlan{
			Name:     name,
			Rel:      rel,
			Fields:   subCols,
			Children: subRels,
		}
	}
	if len(relations) == 0 {
		relations = nil
	}
	return columns, relations, nil
}

// ensureHydrationKeys appends the columns relation hydration joins on: the
// local FK for m2o relations and the primary key when o2m relations are
// requested.
func (c *Compiler) ensureHydrationKeys(collection string, columns []string, relations map[string]*RelationPlan) ([]string, []string, error) {
	if len(relations) == 0 {
		return columns, nil, nil
	}
	has := func(name string) bool {
		for _, col := range columns {
			if col == name {
				return true
			}
		}
		return false
	}
	var extra []string
	needPK := false
	names := make([]string, 0, len(relations))
	for name := range relations {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		plan := relations[name]
		switch plan.Rel.Kind {
		case schema.RelManyToOne:
			if !has(plan.Rel.ForeignKey) {
				columns = append(columns, plan.Rel.ForeignKey)
				extra = append(extra, plan.Rel.ForeignKey)
			}
		case schema.RelOneToMany:
			needPK = true
		}
		subCols, subExtra, err := c.ensureHydrationKeys(plan.Rel.Target, plan.Fields, plan.Children)
		if err != nil {
			return nil, nil, err
		}
		plan.Fields = subCols
		plan.Extra = subExtra
	}
	if needPK {
		pk, err := c.Schema.PrimaryKey(collection)
		if err != nil {
			return nil, nil, err
		}
		if !has(pk) {
			columns = append(columns, pk)
			extra = append(extra, pk)
		}
	}
	return columns, extra, nil
}

// applySort renders the sort specification. Relation-qualified entries
// compile to scalar subqueries and are only valid for m2o relations, where a
// parent row maps to at most one related row.
func (c *Compiler) applySort(qb sq.SelectBuilder, in Input, table string) (sq.SelectBuilder, error) {
	if in.Search != "" && in.SearchRelevance {
		rel, args, err := c.relevanceExpr(in, table)
		if err != nil {
			return qb, err
		}
		qb = qb.OrderByClause(sq.Expr(rel+" DESC", args...))
	}

	for _, s := range in.Sort {
		dir := " ASC"
		if s.Desc {
			dir = " DESC"
		}
		head, rest, nested := strings.Cut(s.Field, ".")
		if !nested {
			if _, err := c.Schema.FieldType(in.Collection, s.Field); err != nil {
				return qb, qerr.Malformed("sort field %q: %v", s.Field, err)
			}
			qb = qb.OrderBy(table + "." + quoteIdent(s.Field) + dir)
			continue
		}

		rels, err := c.Schema.Relationships(in.Collection)
		if err != nil {
			return qb, err
		}
		rel, ok := rels[head]
		if !ok {
			return qb, qerr.Malformed("sort field %q: %q is not a relationship on %q", s.Field, head, in.Collection)
		}
		if rel.Kind != schema.RelManyToOne {
			return qb, qerr.Malformed("sort field %q: only many-to-one relations are sortable", s.Field)
		}
		if _, err := c.Schema.FieldType(rel.Target, rest); err != nil {
			return qb, qerr.Malformed("sort field %q: %v", s.Field, err)
		}
		targetPK, err := c.Schema.PrimaryKey(rel.Target)
		if err != nil {
			return qb, err
		}
		sub := "(SELECT " + quoteIdent(rel.Target) + "." + quoteIdent(rest) +
			" FROM " + quoteIdent(rel.Target) +
			" WHERE " + quoteIdent(rel.Target) + "." + quoteIdent(targetPK) +
			" = " + table + "." + quoteIdent(rel.ForeignKey) + ")"
		qb = qb.OrderBy(sub + dir)
	}
	return qb, nil
}

func applyPagination(qb sq.SelectBuilder, page, limit int) sq.SelectBuilder {
	if limit < 0 {
		return qb
	}
	qb = qb.Limit(uint64(limit))
	if page > 1 {
		qb = qb.Offset(uint64(page-1) * uint64(limit))
	}
	return qb
}
