package compile

import (
	sq "github.com/Masterminds/squirrel"

	"github.com/kartikbazzad/bunbase/bundata/qerr"
	"github.com/kartikbazzad/bunbase/bundata/schema"
)

// buildSearch renders the free-text condition: an OR of case-insensitive
// LIKEs over the search fields, ANDed with the merged filter by the caller.
func (c *Compiler) buildSearch(in Input, table string) (sq.Sqlizer, error) {
	fields, err := c.searchFields(in)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		// No searchable column; a search term that can match nothing.
		return sq.Expr("(1=0)"), nil
	}
	pattern := likePattern(in.Search, true, true)
	disj := make(sq.Or, 0, len(fields))
	for _, field := range fields {
		disj = append(disj, sq.ILike{c.searchColumn(in.Collection, table, field): pattern})
	}
	return disj, nil
}

// relevanceExpr scores a row by how many search fields match the term, for
// optional relevance ordering.
func (c *Compiler) relevanceExpr(in Input, table string) (string, []any, error) {
	fields, err := c.searchFields(in)
	if err != nil {
		return "", nil, err
	}
	if len(fields) == 0 {
		return "0", nil, nil
	}
	pattern := likePattern(in.Search, true, true)
	expr := "("
	args := make([]any, 0, len(fields))
	for i, field := range fields {
		if i > 0 {
			expr += " + "
		}
		expr += "(CASE WHEN " + c.searchColumn(in.Collection, table, field) + " ILIKE ? THEN 1 ELSE 0 END)"
		args = append(args, pattern)
	}
	expr += ")"
	return expr, args, nil
}

// searchColumn renders a search column reference; uuid columns are cast to
// text so ILIKE applies.
func (c *Compiler) searchColumn(collection, table, field string) string {
	col := table + "." + quoteIdent(field)
	if ft, err := c.Schema.FieldType(collection, field); err == nil && ft == schema.TypeUUID {
		col += "::text"
	}
	return col
}

// searchFields returns the caller-restricted search fields, validated as
// text-typed, or every text/identifier field of the collection.
func (c *Compiler) searchFields(in Input) ([]string, error) {
	if len(in.SearchFields) > 0 {
		for _, field := range in.SearchFields {
			ft, err := c.Schema.FieldType(in.Collection, field)
			if err != nil {
				return nil, qerr.Malformed("search field %q: %v", field, err)
			}
			if !ft.IsText() {
				return nil, qerr.Malformed("search field %q is not text-typed", field)
			}
		}
		return in.SearchFields, nil
	}

	all, err := c.Schema.Fields(in.Collection)
	if err != nil {
		return nil, err
	}
	var fields []string
	for _, f := range all {
		if f.Type.IsText() {
			fields = append(fields, f.Name)
		}
	}
	return fields, nil
}
