package query

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kartikbazzad/bunbase/bundata/qerr"
)

func TestParseEmptyFilter(t *testing.T) {
	p := &Parser{Schema: testProvider(t)}
	node, err := p.Parse("posts", nil)
	require.NoError(t, err)
	require.Nil(t, node)

	node, err = p.Parse("posts", map[string]any{})
	require.NoError(t, err)
	require.Nil(t, node)
}

func TestParseImplicitEq(t *testing.T) {
	p := &Parser{Schema: testProvider(t)}
	node, err := p.Parse("posts", map[string]any{"status": "published"})
	require.NoError(t, err)

	cond, ok := node.(*Condition)
	require.True(t, ok)
	require.Equal(t, "status", cond.Field)
	require.Equal(t, OpEq, cond.Op)
	require.Equal(t, "published", cond.Value)
}

func TestParseLogicalNesting(t *testing.T) {
	p := &Parser{Schema: testProvider(t)}
	node, err := p.Parse("posts", map[string]any{
		"OR": []any{
			map[string]any{"status": "published"},
			map[string]any{
				"AND": []any{
					map[string]any{"likes": map[string]any{"gt": 10}},
					map[string]any{"NOT": map[string]any{"title": map[string]any{"isNull": true}}},
				},
			},
		},
	})
	require.NoError(t, err)

	or, ok := node.(*Or)
	require.True(t, ok)
	require.Len(t, or.Children, 2)

	and, ok := or.Children[1].(*And)
	require.True(t, ok)
	require.Len(t, and.Children, 2)
	_, ok = and.Children[1].(*Not)
	require.True(t, ok)
}

func TestParseMultipleKeysBecomeAnd(t *testing.T) {
	p := &Parser{Schema: testProvider(t)}
	node, err := p.Parse("posts", map[string]any{
		"status": "published",
		"likes":  map[string]any{"gte": 5},
	})
	require.NoError(t, err)

	and, ok := node.(*And)
	require.True(t, ok)
	require.Len(t, and.Children, 2)
	// Keys are sorted, so "likes" comes first regardless of map order.
	first := and.Children[0].(*Condition)
	require.Equal(t, "likes", first.Field)
	require.Equal(t, OpGte, first.Op)
}

func TestParseRelationPath(t *testing.T) {
	p := &Parser{Schema: testProvider(t), MaxDepth: 3}
	node, err := p.Parse("posts", map[string]any{
		"author.name": map[string]any{"icontains": "smith"},
	})
	require.NoError(t, err)
	cond := node.(*Condition)
	require.Equal(t, "author.name", cond.Field)
}

func TestParseCast(t *testing.T) {
	p := &Parser{Schema: testProvider(t)}
	node, err := p.Parse("posts", map[string]any{
		"meta": map[string]any{"cast": "text", "icontains": "beta"},
	})
	require.NoError(t, err)
	cond := node.(*Condition)
	require.Equal(t, "text", cond.Cast)
	require.Equal(t, OpIContains, cond.Op)
}

func TestParseErrors(t *testing.T) {
	p := &Parser{Schema: testProvider(t), MaxDepth: 1}
	tests := []struct {
		name string
		raw  map[string]any
	}{
		{"unknown field", map[string]any{"missing": 1}},
		{"unknown operator", map[string]any{"status": map[string]any{"regex": ".*"}}},
		{"type mismatch", map[string]any{"likes": map[string]any{"icontains": "x"}}},
		{"OR not a list", map[string]any{"OR": map[string]any{"status": "x"}}},
		{"NOT not an object", map[string]any{"NOT": []any{}}},
		{"no operator", map[string]any{"status": map[string]any{"cast": "text"}}},
		{"unknown cast", map[string]any{"likes": map[string]any{"cast": "money", "gt": 1}}},
		{"cast not a string", map[string]any{"likes": map[string]any{"cast": 7, "gt": 1}}},
		{"unknown relation segment", map[string]any{"editor.name": "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Parse("posts", tt.raw)
			require.ErrorIs(t, err, qerr.ErrMalformedFilter)
		})
	}
}
