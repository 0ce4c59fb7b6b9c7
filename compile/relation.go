package compile

import (
	sq "github.com/Masterminds/squirrel"

	"github.com/kartikbazzad/bunbase/bundata/qerr"
	"github.com/kartikbazzad/bunbase/bundata/query"
	"github.com/kartikbazzad/bunbase/bundata/schema"
)

// RelationKey returns the column on the relation target that joins it back to
// the parent rows, and the parent column holding the matching values.
func (c *Compiler) RelationKey(parent string, rel schema.Relationship) (targetKey, parentKey string, err error) {
	switch rel.Kind {
	case schema.RelManyToOne:
		pk, err := c.Schema.PrimaryKey(rel.Target)
		if err != nil {
			return "", "", err
		}
		return pk, rel.ForeignKey, nil
	case schema.RelOneToMany:
		pk, err := c.Schema.PrimaryKey(parent)
		if err != nil {
			return "", "", err
		}
		return rel.ForeignKey, pk, nil
	}
	return "", "", qerr.Malformed("unknown relation kind %q", rel.Kind)
}

// RelationFetch builds the statement that loads the rows of one relation
// level for a batch of parent key values. security is the already
// variable-resolved permission condition of the target collection; nil means
// unrestricted.
func (c *Compiler) RelationFetch(plan *RelationPlan, keys []any, security query.Node) (string, []any, error) {
	targetKey := plan.Rel.ForeignKey
	if plan.Rel.Kind == schema.RelManyToOne {
		pk, err := c.Schema.PrimaryKey(plan.Rel.Target)
		if err != nil {
			return "", nil, err
		}
		targetKey = pk
	}

	cols := plan.Fields
	found := false
	for _, col := range cols {
		if col == targetKey {
			found = true
			break
		}
	}
	if !found {
		cols = append(append([]string(nil), cols...), targetKey)
	}
	quoted := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = quoteIdent(col)
	}

	b := &sqlBuilder{schema: c.Schema}
	where, err := b.node(plan.Rel.Target, quoteIdent(plan.Rel.Target), security)
	if err != nil {
		return "", nil, err
	}

	q := sq.Select(quoted...).
		From(quoteIdent(plan.Rel.Target)).
		Where(sq.Eq{quoteIdent(plan.Rel.Target) + "." + quoteIdent(targetKey): keys}).
		Where(where).
		PlaceholderFormat(sq.Dollar)
	return q.ToSql()
}
