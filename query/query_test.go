package query

import (
	"testing"

	"github.com/kartikbazzad/bunbase/bundata/schema"
)

func testProvider(t *testing.T) *schema.Static {
	t.Helper()
	s, err := schema.NewStatic(schema.Snapshot{Collections: []schema.Collection{
		{
			Name: "posts",
			Fields: []schema.Field{
				{Name: "id", Type: schema.TypeUUID},
				{Name: "title", Type: schema.TypeString},
				{Name: "status", Type: schema.TypeString},
				{Name: "author_id", Type: schema.TypeUUID},
				{Name: "likes", Type: schema.TypeInteger},
				{Name: "created_at", Type: schema.TypeTimestamp},
				{Name: "tags", Type: schema.TypeArray},
				{Name: "meta", Type: schema.TypeJSON},
			},
			Relations: map[string]schema.Relationship{
				"author":   {Kind: schema.RelManyToOne, Target: "users", ForeignKey: "author_id"},
				"comments": {Kind: schema.RelOneToMany, Target: "comments", ForeignKey: "post_id"},
			},
		},
		{
			Name: "users",
			Fields: []schema.Field{
				{Name: "id", Type: schema.TypeUUID},
				{Name: "name", Type: schema.TypeString},
				{Name: "email", Type: schema.TypeString},
				{Name: "age", Type: schema.TypeInteger},
				{Name: "tenant", Type: schema.TypeUUID},
			},
		},
		{
			Name: "comments",
			Fields: []schema.Field{
				{Name: "id", Type: schema.TypeUUID},
				{Name: "post_id", Type: schema.TypeUUID},
				{Name: "body", Type: schema.TypeText},
				{Name: "approved", Type: schema.TypeBoolean},
			},
		},
	}})
	if err != nil {
		t.Fatal(err)
	}
	return s
}
