package compile

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/kartikbazzad/bunbase/bundata/qerr"
	"github.com/kartikbazzad/bunbase/bundata/query"
)

// datePartRe matches groupBy entries that extract a date part from a
// timestamp field, e.g. "year(created_at)".
var datePartRe = regexp.MustCompile(`^(year|month|day|hour)\(([A-Za-z0-9_]+)\)$`)

type groupEntry struct {
	raw   string
	field string
	part  string // empty for a plain field
	alias string
}

// compileAggregate builds the aggregate/groupBy form of the query. Every
// selected non-aggregated field must appear in groupBy; the result rows are
// the groups, and totalCount is the number of groups.
func (c *Compiler) compileAggregate(in Input, table string, where sq.Sqlizer) (*Plan, error) {
	groups, err := c.parseGroupBy(in, table)
	if err != nil {
		return nil, err
	}
	if err := c.checkSelectedFields(in, groups); err != nil {
		return nil, err
	}

	var selectExprs []string
	var columns []string
	var groupExprs []string

	for _, g := range groups {
		expr := c.groupExpr(table, g)
		selectExprs = append(selectExprs, expr+" AS "+quoteIdent(g.alias))
		groupExprs = append(groupExprs, expr)
		columns = append(columns, g.alias)
	}

	aliases := make([]string, 0, len(in.Aggregate))
	for alias := range in.Aggregate {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	for _, alias := range aliases {
		agg := in.Aggregate[alias]
		expr, err := c.aggregateExpr(in.Collection, table, agg)
		if err != nil {
			return nil, fmt.Errorf("aggregate %q: %w", alias, err)
		}
		selectExprs = append(selectExprs, expr+" AS "+quoteIdent(alias))
		columns = append(columns, alias)
	}
	if len(selectExprs) == 0 {
		return nil, qerr.Malformed("aggregate query selects nothing")
	}

	qb := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).
		Select(selectExprs...).
		From(table).
		Where(where)
	if len(groupExprs) > 0 {
		qb = qb.GroupBy(groupExprs...)
	}
	for _, s := range in.Sort {
		dir := " ASC"
		if s.Desc {
			dir = " DESC"
		}
		if !containsAlias(columns, s.Field) {
			return nil, qerr.Malformed("sort field %q is not a grouped or aggregated column", s.Field)
		}
		qb = qb.OrderBy(quoteIdent(s.Field) + dir)
	}
	qb = applyPagination(qb, in.Page, in.Limit)

	sqlText, args, err := qb.ToSql()
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		SQL:         sqlText,
		Args:        args,
		Columns:     columns,
		IsAggregate: true,
	}

	// totalCount is the number of groups. Without groupBy there is exactly
	// one group and no count query is needed.
	if len(groupExprs) > 0 {
		inner := sq.StatementBuilder.PlaceholderFormat(sq.Question).
			Select("1").
			From(table).
			Where(where).
			GroupBy(groupExprs...)
		innerSQL, innerArgs, err := inner.ToSql()
		if err != nil {
			return nil, err
		}
		countSQL, countArgs, err := sq.Expr("SELECT COUNT(*) FROM ("+innerSQL+") AS grp", innerArgs...).ToSql()
		if err != nil {
			return nil, err
		}
		countSQL, err = sq.Dollar.ReplacePlaceholders(countSQL)
		if err != nil {
			return nil, err
		}
		plan.CountSQL = countSQL
		plan.CountArgs = countArgs
	}

	return plan, nil
}

func (c *Compiler) parseGroupBy(in Input, table string) ([]groupEntry, error) {
	groups := make([]groupEntry, 0, len(in.GroupBy))
	for _, raw := range in.GroupBy {
		entry := groupEntry{raw: raw, field: raw, alias: raw}
		if m := datePartRe.FindStringSubmatch(raw); m != nil {
			entry.part = m[1]
			entry.field = m[2]
			entry.alias = m[2] + "_" + m[1]
		}
		if strings.IndexByte(entry.field, '.') >= 0 {
			return nil, qerr.Malformed("groupBy field %q: relation paths cannot be grouped", raw)
		}
		ft, err := c.Schema.FieldType(in.Collection, entry.field)
		if err != nil {
			return nil, qerr.Malformed("groupBy field %q: %v", entry.field, err)
		}
		if entry.part != "" && !ft.IsTemporal() {
			return nil, qerr.Malformed("groupBy %q: date part extraction needs a timestamp field", raw)
		}
		groups = append(groups, entry)
	}
	return groups, nil
}

// checkSelectedFields enforces the groupBy consistency rule: a requested
// field must be grouped or aggregated.
func (c *Compiler) checkSelectedFields(in Input, groups []groupEntry) error {
	for _, field := range in.Fields {
		if field == "*" {
			return fmt.Errorf("%w: %q", qerr.ErrIncompatibleAggregate, field)
		}
		grouped := false
		for _, g := range groups {
			if g.field == field || g.raw == field {
				grouped = true
				break
			}
		}
		if grouped {
			continue
		}
		aggregated := false
		for _, agg := range in.Aggregate {
			if agg.Field == field {
				aggregated = true
				break
			}
		}
		if !aggregated {
			return fmt.Errorf("%w: %q", qerr.ErrIncompatibleAggregate, field)
		}
	}
	return nil
}

func (c *Compiler) groupExpr(table string, g groupEntry) string {
	col := table + "." + quoteIdent(g.field)
	if g.part == "" {
		return col
	}
	return "EXTRACT(" + strings.ToUpper(g.part) + " FROM " + col + ")::int"
}

func (c *Compiler) aggregateExpr(collection, table string, agg query.Aggregate) (string, error) {
	var col string
	if agg.Field == "*" {
		if agg.Fn != query.AggCount {
			return "", qerr.Malformed("%q cannot be applied to *", agg.Fn)
		}
		col = "*"
	} else {
		if strings.IndexByte(agg.Field, '.') >= 0 {
			return "", qerr.Malformed("aggregate field %q: relation paths cannot be aggregated", agg.Field)
		}
		ft, err := c.Schema.FieldType(collection, agg.Field)
		if err != nil {
			return "", qerr.Malformed("field %q: %v", agg.Field, err)
		}
		switch agg.Fn {
		case query.AggSum, query.AggAvg:
			if !ft.IsNumeric() {
				return "", fmt.Errorf("%w: %q needs a numeric field", qerr.ErrTypeMismatch, agg.Fn)
			}
		}
		col = table + "." + quoteIdent(agg.Field)
	}

	switch agg.Fn {
	case query.AggCount:
		return "COUNT(" + col + ")", nil
	case query.AggCountDistinct:
		return "COUNT(DISTINCT " + col + ")", nil
	case query.AggSum:
		return "SUM(" + col + ")", nil
	case query.AggAvg:
		return "AVG(" + col + ")", nil
	case query.AggMin:
		return "MIN(" + col + ")", nil
	case query.AggMax:
		return "MAX(" + col + ")", nil
	case query.AggArrayAgg:
		return "ARRAY_AGG(" + col + ")", nil
	}
	return "", qerr.Malformed("unknown aggregate function %q", agg.Fn)
}

func containsAlias(columns []string, name string) bool {
	for _, col := range columns {
		if col == name {
			return true
		}
	}
	return false
}
