package compile

import (
	"encoding/json"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/kartikbazzad/bunbase/bundata/qerr"
	"github.com/kartikbazzad/bunbase/bundata/query"
	"github.com/kartikbazzad/bunbase/bundata/schema"
)

// allowedCasts is the closed set of SQL-level casts a filter leaf may request.
// Cast names reach the SQL text, so anything outside this set is rejected.
var allowedCasts = map[string]bool{
	"numeric":     true,
	"integer":     true,
	"bigint":      true,
	"float":       true,
	"text":        true,
	"varchar":     true,
	"boolean":     true,
	"timestamp":   true,
	"timestamptz": true,
	"json":        true,
	"jsonb":       true,
}

// sqlBuilder renders filter trees to squirrel Sqlizers. One builder serves
// one compile; the alias counter keeps correlated subqueries distinct even
// for self-referencing relations.
type sqlBuilder struct {
	schema schema.Provider
	aliasN int
}

func (b *sqlBuilder) nextAlias(rel string) string {
	b.aliasN++
	rel = strings.ReplaceAll(rel, `"`, "")
	return fmt.Sprintf("__%s_%d", rel, b.aliasN)
}

// node renders a filter node scoped to a collection. qual is the quoted table
// reference (table name or alias) used to prefix columns.
func (b *sqlBuilder) node(collection, qual string, n query.Node) (sq.Sqlizer, error) {
	if n == nil {
		return sq.Expr("(1=1)"), nil
	}
	switch node := n.(type) {
	case *query.And:
		if len(node.Children) == 0 {
			return sq.Expr("(1=1)"), nil
		}
		conj := make(sq.And, 0, len(node.Children))
		for _, child := range node.Children {
			s, err := b.node(collection, qual, child)
			if err != nil {
				return nil, err
			}
			conj = append(conj, s)
		}
		return conj, nil
	case *query.Or:
		if len(node.Children) == 0 {
			return sq.Expr("(1=0)"), nil
		}
		disj := make(sq.Or, 0, len(node.Children))
		for _, child := range node.Children {
			s, err := b.node(collection, qual, child)
			if err != nil {
				return nil, err
			}
			disj = append(disj, s)
		}
		return disj, nil
	case *query.Not:
		child, err := b.node(collection, qual, node.Child)
		if err != nil {
			return nil, err
		}
		childSQL, childArgs, err := child.ToSql()
		if err != nil {
			return nil, err
		}
		return sq.Expr("NOT ("+childSQL+")", childArgs...), nil
	case *query.Condition:
		return b.condition(collection, qual, node)
	}
	return nil, fmt.Errorf("unexpected filter node %T", n)
}

// condition renders a leaf. A dot path becomes a chain of correlated EXISTS
// subqueries through the declared relationships; the terminal segment is a
// plain column comparison.
func (b *sqlBuilder) condition(collection, qual string, c *query.Condition) (sq.Sqlizer, error) {
	head, rest, nested := strings.Cut(c.Field, ".")
	if !nested {
		return b.leaf(qual, c)
	}

	rels, err := b.schema.Relationships(collection)
	if err != nil {
		return nil, err
	}
	rel, ok := rels[head]
	if !ok {
		return nil, qerr.Malformed("%q is not a relationship on %q", head, collection)
	}

	inner := &query.Condition{Field: rest, Op: c.Op, Value: c.Value, Cast: c.Cast}
	return b.exists(collection, qual, rel, head, inner)
}

// exists builds EXISTS (SELECT 1 FROM target AS alias WHERE join AND child).
func (b *sqlBuilder) exists(collection, qual string, rel schema.Relationship, relName string, child query.Node) (sq.Sqlizer, error) {
	alias := b.nextAlias(relName)
	join, err := b.joinClause(collection, qual, rel, quoteIdent(alias))
	if err != nil {
		return nil, err
	}
	childSQL, err := b.node(rel.Target, quoteIdent(alias), child)
	if err != nil {
		return nil, err
	}

	sub := sq.Select("1").
		From(quoteIdent(rel.Target) + " AS " + quoteIdent(alias)).
		Where(sq.And{sq.Expr(join), childSQL})
	subSQL, subArgs, err := sub.ToSql()
	if err != nil {
		return nil, err
	}
	return sq.Expr("EXISTS ("+subSQL+")", subArgs...), nil
}

// joinClause renders the correlation predicate between parent and related
// table references.
func (b *sqlBuilder) joinClause(collection, parentQual string, rel schema.Relationship, targetQual string) (string, error) {
	switch rel.Kind {
	case schema.RelManyToOne:
		targetPK, err := b.schema.PrimaryKey(rel.Target)
		if err != nil {
			return "", err
		}
		return targetQual + "." + quoteIdent(targetPK) + " = " + parentQual + "." + quoteIdent(rel.ForeignKey), nil
	case schema.RelOneToMany:
		parentPK, err := b.schema.PrimaryKey(collection)
		if err != nil {
			return "", err
		}
		return targetQual + "." + quoteIdent(rel.ForeignKey) + " = " + parentQual + "." + quoteIdent(parentPK), nil
	}
	return "", fmt.Errorf("unknown relation kind %q", rel.Kind)
}

func (b *sqlBuilder) leaf(qual string, c *query.Condition) (sq.Sqlizer, error) {
	col := qual + "." + quoteIdent(c.Field)
	if c.Cast != "" {
		if !allowedCasts[c.Cast] {
			return nil, qerr.Malformed("unsupported cast %q", c.Cast)
		}
		col = "(" + col + ")::" + c.Cast
	}

	switch c.Op {
	case query.OpEq:
		return sq.Eq{col: c.Value}, nil
	case query.OpNeq:
		return sq.NotEq{col: c.Value}, nil
	case query.OpLt:
		return sq.Lt{col: c.Value}, nil
	case query.OpLte:
		return sq.LtOrEq{col: c.Value}, nil
	case query.OpGt:
		return sq.Gt{col: c.Value}, nil
	case query.OpGte:
		return sq.GtOrEq{col: c.Value}, nil

	case query.OpIn:
		return sq.Eq{col: c.Value}, nil
	case query.OpNin:
		return sq.NotEq{col: c.Value}, nil

	case query.OpIsNull:
		if c.Value == true {
			return sq.Eq{col: nil}, nil
		}
		return sq.NotEq{col: nil}, nil

	case query.OpContains:
		return sq.Like{col: likePattern(c.Value, true, true)}, nil
	case query.OpNContains:
		return sq.NotLike{col: likePattern(c.Value, true, true)}, nil
	case query.OpIContains:
		return sq.ILike{col: likePattern(c.Value, true, true)}, nil
	case query.OpStartsWith:
		return sq.Like{col: likePattern(c.Value, false, true)}, nil
	case query.OpNStartsWith:
		return sq.NotLike{col: likePattern(c.Value, false, true)}, nil
	case query.OpIStartsWith:
		return sq.ILike{col: likePattern(c.Value, false, true)}, nil
	case query.OpEndsWith:
		return sq.Like{col: likePattern(c.Value, true, false)}, nil
	case query.OpNEndsWith:
		return sq.NotLike{col: likePattern(c.Value, true, false)}, nil
	case query.OpIEndsWith:
		return sq.ILike{col: likePattern(c.Value, true, false)}, nil

	case query.OpBetween:
		pair := c.Value.([]any)
		return sq.Expr(col+" BETWEEN ? AND ?", pair[0], pair[1]), nil
	case query.OpNBetween:
		pair := c.Value.([]any)
		return sq.Expr(col+" NOT BETWEEN ? AND ?", pair[0], pair[1]), nil

	case query.OpIsEmpty:
		if c.Value == true {
			return sq.Expr("(" + col + " IS NULL OR " + col + "::text = '')"), nil
		}
		return sq.Expr("(" + col + " IS NOT NULL AND " + col + "::text <> '')"), nil

	case query.OpArrayContains:
		return sq.Expr("? = ANY("+col+")", c.Value), nil
	case query.OpArrayOverlaps:
		return sq.Expr(col+" && ?", c.Value), nil

	case query.OpJSONPath:
		return sq.Expr(col+" @? ?::jsonpath", c.Value), nil

	case query.OpIntersects:
		geo, err := geoJSON(c.Value)
		if err != nil {
			return nil, err
		}
		return sq.Expr("ST_Intersects("+col+", ST_GeomFromGeoJSON(?))", geo), nil
	case query.OpNIntersects:
		geo, err := geoJSON(c.Value)
		if err != nil {
			return nil, err
		}
		return sq.Expr("NOT ST_Intersects("+col+", ST_GeomFromGeoJSON(?))", geo), nil
	}
	return nil, fmt.Errorf("%w: %q", qerr.ErrInvalidOperator, c.Op)
}

// likePattern escapes LIKE metacharacters in the term and wraps it in
// wildcards as requested.
func likePattern(v any, leading, trailing bool) string {
	term := fmt.Sprintf("%v", v)
	term = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(term)
	if leading {
		term = "%" + term
	}
	if trailing {
		term += "%"
	}
	return term
}

func geoJSON(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", qerr.Malformed("bad geometry value: %v", err)
	}
	return string(raw), nil
}

// quoteIdent quotes a SQL identifier, doubling embedded quotes.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
