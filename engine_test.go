package bundata

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kartikbazzad/bunbase/bundata/access"
	"github.com/kartikbazzad/bunbase/bundata/permissions"
	"github.com/kartikbazzad/bunbase/bundata/qerr"
	"github.com/kartikbazzad/bunbase/bundata/query"
	"github.com/kartikbazzad/bunbase/bundata/schema"
)

type execCall struct {
	sql  string
	args []any
}

// fakeExec records every statement and serves queued results in order.
type fakeExec struct {
	calls   []execCall
	results [][]map[string]any
}

func (f *fakeExec) Query(ctx context.Context, sql string, args []any) ([]map[string]any, error) {
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	if len(f.results) == 0 {
		return nil, nil
	}
	next := f.results[0]
	f.results = f.results[1:]
	return next, nil
}

func (f *fakeExec) queue(rows ...map[string]any) {
	f.results = append(f.results, rows)
}

func testSchema(t *testing.T) schema.Provider {
	t.Helper()
	s, err := schema.NewStatic(schema.Snapshot{Collections: []schema.Collection{
		{
			Name: "posts",
			Fields: []schema.Field{
				{Name: "id", Type: schema.TypeUUID},
				{Name: "title", Type: schema.TypeString},
				{Name: "status", Type: schema.TypeString},
				{Name: "owner", Type: schema.TypeUUID},
				{Name: "author_id", Type: schema.TypeUUID},
				{Name: "likes", Type: schema.TypeInteger},
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

func testEngine(t *testing.T, exec Execer, records ...access.Permission) *Engine {
	t.Helper()
	e, err := New(Config{
		Schema: testSchema(t),
		Store:  &permissions.StaticStore{Records: records},
		Exec:   exec,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.ReloadPermissions(context.Background()); err != nil {
		t.Fatal(err)
	}
	return e
}

func editorAcc() *access.Accountability {
	return &access.Accountability{
		User: &access.User{ID: "u-1", Role: "editor"},
		Role: &access.Role{ID: "editor"},
	}
}

func adminAcc() *access.Accountability {
	return &access.Accountability{User: &access.User{ID: "root", IsAdmin: true}}
}

func TestQueryDeniedWithoutPermission(t *testing.T) {
	exec := &fakeExec{}
	e := testEngine(t, exec)

	_, err := e.Query(context.Background(), editorAcc(), "posts", query.Request{})
	require.ErrorIs(t, err, qerr.ErrAccessDenied)
	require.Empty(t, exec.calls, "a denied request must not reach the database")

	_, err = e.Query(context.Background(), nil, "posts", query.Request{})
	require.ErrorIs(t, err, qerr.ErrAccessDenied)
}

func TestQueryMergesSecurityFilter(t *testing.T) {
	exec := &fakeExec{}
	e := testEngine(t, exec, access.Permission{
		ID: "p1", Role: "editor", Collection: "posts", Action: access.ActionRead,
		Conditions: map[string]any{"owner": "$CURRENT_USER"},
	})
	exec.queue(map[string]any{"id": "p1", "title": "T", "status": "published", "owner": "u-1", "author_id": nil, "likes": int64(3)})
	exec.queue(map[string]any{"count": int64(1)})

	res, err := e.Query(context.Background(), editorAcc(), "posts", query.Request{
		Filter: map[string]any{"status": "published"},
		Fields: []string{"id", "title"},
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), res.TotalCount)

	require.Len(t, exec.calls, 2)
	main := exec.calls[0]
	require.Contains(t, main.sql, `"posts"."status" = $1`)
	require.Contains(t, main.sql, `"posts"."owner" = $2`)
	require.Equal(t, []any{"published", "u-1"}, main.args)

	// Count runs the same merged filter without pagination.
	require.Contains(t, exec.calls[1].sql, "COUNT(*)")
	require.Equal(t, []any{"published", "u-1"}, exec.calls[1].args)
	require.NotContains(t, exec.calls[1].sql, "LIMIT")
}

func TestQueryDefaultLimit(t *testing.T) {
	exec := &fakeExec{}
	e := testEngine(t, exec, access.Permission{
		ID: "p1", Role: "editor", Collection: "posts", Action: access.ActionRead,
	})
	exec.queue()
	exec.queue(map[string]any{"count": int64(0)})

	_, err := e.Query(context.Background(), editorAcc(), "posts", query.Request{Fields: []string{"id"}})
	require.NoError(t, err)
	require.Contains(t, exec.calls[0].sql, "LIMIT 100")

	exec.calls = nil
	exec.queue()
	exec.queue(map[string]any{"count": int64(0)})
	_, err = e.Query(context.Background(), editorAcc(), "posts", query.Request{Fields: []string{"id"}, Limit: -1})
	require.NoError(t, err)
	require.NotContains(t, exec.calls[0].sql, "LIMIT")
}

func TestQueryProjectionFollowsAllowlist(t *testing.T) {
	exec := &fakeExec{}
	e := testEngine(t, exec, access.Permission{
		ID: "p1", Role: "editor", Collection: "posts", Action: access.ActionRead,
		Fields: []string{"id", "title"},
	})
	// The executor hands back a column outside the allowlist; the projector
	// must still strip it.
	exec.queue(map[string]any{"id": "p1", "title": "T", "owner": "u-9"})
	exec.queue(map[string]any{"count": int64(1)})

	res, err := e.Query(context.Background(), editorAcc(), "posts", query.Request{
		Fields: []string{"*", "owner"},
	})
	require.NoError(t, err)

	// Requested owner is dropped, not an error; selection covers the
	// allowlist only.
	require.Contains(t, exec.calls[0].sql, `"posts"."id", "posts"."title"`)
	require.NotContains(t, exec.calls[0].sql, `"owner"`)

	require.Equal(t, map[string]any{"id": "p1", "title": "T"}, res.Data[0])
}

func TestQuerySearchFieldsOutsideAllowlistMatchNothing(t *testing.T) {
	exec := &fakeExec{}
	e := testEngine(t, exec, access.Permission{
		ID: "p1", Role: "editor", Collection: "posts", Action: access.ActionRead,
		Fields: []string{"id", "title"},
	})
	exec.queue()
	exec.queue(map[string]any{"count": int64(0)})

	// Every requested search field is hidden; the search must not widen
	// to other columns.
	res, err := e.Query(context.Background(), editorAcc(), "posts", query.Request{
		Fields:       []string{"id"},
		Search:       "secret",
		SearchFields: []string{"status"},
	})
	require.NoError(t, err)
	require.Zero(t, res.TotalCount)
	require.Contains(t, exec.calls[0].sql, "(1=0)")
	require.NotContains(t, exec.calls[0].sql, "ILIKE")
}

func TestQuerySearchDefaultScopeStaysInAllowlist(t *testing.T) {
	exec := &fakeExec{}
	e := testEngine(t, exec, access.Permission{
		ID: "p1", Role: "editor", Collection: "posts", Action: access.ActionRead,
		Fields: []string{"id", "title"},
	})
	exec.queue()
	exec.queue(map[string]any{"count": int64(0)})

	_, err := e.Query(context.Background(), editorAcc(), "posts", query.Request{
		Fields: []string{"id"},
		Search: "se",
	})
	require.NoError(t, err)
	require.Contains(t, exec.calls[0].sql, `"posts"."title" ILIKE`)
	require.Contains(t, exec.calls[0].sql, `"posts"."id"::text ILIKE`)
	require.NotContains(t, exec.calls[0].sql, `"posts"."status"`)
	require.NotContains(t, exec.calls[0].sql, `"posts"."owner"`)
	require.NotContains(t, exec.calls[0].sql, `"posts"."author_id"`)
}

func TestQueryDisallowedSortDropped(t *testing.T) {
	exec := &fakeExec{}
	e := testEngine(t, exec, access.Permission{
		ID: "p1", Role: "editor", Collection: "posts", Action: access.ActionRead,
		Fields: []string{"id", "title"},
	})
	exec.queue()
	exec.queue(map[string]any{"count": int64(0)})

	_, err := e.Query(context.Background(), editorAcc(), "posts", query.Request{
		Fields: []string{"id"},
		Sort:   []query.Sort{{Field: "likes", Desc: true}, {Field: "title"}},
	})
	require.NoError(t, err)
	require.NotContains(t, exec.calls[0].sql, `"likes"`)
	require.Contains(t, exec.calls[0].sql, `ORDER BY "posts"."title" ASC`)
}

func TestQueryHydratesManyToOne(t *testing.T) {
	exec := &fakeExec{}
	e := testEngine(t, exec,
		access.Permission{ID: "p1", Role: "editor", Collection: "posts", Action: access.ActionRead},
		access.Permission{ID: "p2", Role: "editor", Collection: "users", Action: access.ActionRead,
			Fields: []string{"name"}},
	)
	exec.queue(
		map[string]any{"id": "p1", "title": "One", "author_id": "u-9"},
		map[string]any{"id": "p2", "title": "Two", "author_id": nil},
	)
	exec.queue(map[string]any{"count": int64(2)})
	exec.queue(map[string]any{"name": "Ada", "email": "ada@example.com", "id": "u-9"})

	res, err := e.Query(context.Background(), editorAcc(), "posts", query.Request{
		Fields: []string{"id", "title", "author.name"},
	})
	require.NoError(t, err)
	require.Len(t, exec.calls, 3)

	fetch := exec.calls[2]
	require.Contains(t, fetch.sql, `FROM "users"`)
	require.Contains(t, fetch.sql, `"users"."id" IN ($1)`)
	require.Equal(t, []any{"u-9"}, fetch.args)

	// Nested rows carry only the target's allowlisted fields; the join key
	// and the root FK are stripped.
	require.Equal(t, map[string]any{
		"id":     "p1",
		"title":  "One",
		"author": map[string]any{"name": "Ada"},
	}, res.Data[0])
	require.Equal(t, map[string]any{
		"id":     "p2",
		"title":  "Two",
		"author": nil,
	}, res.Data[1])
}

func TestQueryHydratesOneToManyWithSecurity(t *testing.T) {
	exec := &fakeExec{}
	e := testEngine(t, exec,
		access.Permission{ID: "p1", Role: "editor", Collection: "posts", Action: access.ActionRead},
		access.Permission{ID: "p2", Role: "editor", Collection: "comments", Action: access.ActionRead,
			Conditions: map[string]any{"approved": true}},
	)
	exec.queue(
		map[string]any{"id": "p1", "title": "One", "author_id": nil, "status": "x", "owner": nil, "likes": int64(0)},
		map[string]any{"id": "p2", "title": "Two", "author_id": nil, "status": "x", "owner": nil, "likes": int64(0)},
	)
	exec.queue(map[string]any{"count": int64(2)})
	exec.queue(
		map[string]any{"body": "first", "post_id": "p1"},
		map[string]any{"body": "second", "post_id": "p1"},
	)

	res, err := e.Query(context.Background(), editorAcc(), "posts", query.Request{
		Fields: []string{"id", "comments.body"},
	})
	require.NoError(t, err)

	fetch := exec.calls[2]
	require.Contains(t, fetch.sql, `"comments"."post_id" IN ($1,$2)`)
	// The target's own security filter rides along on the hydration fetch.
	require.Contains(t, fetch.sql, `"comments"."approved" = $3`)
	require.Equal(t, []any{"p1", "p2", true}, fetch.args)

	require.Equal(t, []map[string]any{
		{"body": "first"},
		{"body": "second"},
	}, res.Data[0]["comments"])
	require.Equal(t, []map[string]any{}, res.Data[1]["comments"])
}

func TestQueryOmitsRelationWhenTargetDenied(t *testing.T) {
	exec := &fakeExec{}
	e := testEngine(t, exec, access.Permission{
		ID: "p1", Role: "editor", Collection: "posts", Action: access.ActionRead,
	})
	exec.queue(map[string]any{"id": "p1", "author_id": "u-9"})
	exec.queue(map[string]any{"count": int64(1)})

	res, err := e.Query(context.Background(), editorAcc(), "posts", query.Request{
		Fields: []string{"id", "author.name"},
	})
	require.NoError(t, err)
	// No fetch against users happened.
	require.Len(t, exec.calls, 2)

	_, present := res.Data[0]["author"]
	require.False(t, present)
	_, present = res.Data[0]["author_id"]
	require.False(t, present, "hydration key must not leak")
}

func TestQueryRelConditionsConstrainRoot(t *testing.T) {
	exec := &fakeExec{}
	e := testEngine(t, exec, access.Permission{
		ID: "p1", Role: "editor", Collection: "posts", Action: access.ActionRead,
	})
	exec.queue()
	exec.queue(map[string]any{"count": int64(0)})

	_, err := e.Query(context.Background(), editorAcc(), "posts", query.Request{
		Fields:        []string{"id"},
		RelConditions: map[string]map[string]any{"comments": {"approved": true}},
	})
	require.NoError(t, err)
	require.Contains(t, exec.calls[0].sql, `EXISTS (SELECT 1 FROM "comments"`)

	_, err = e.Query(context.Background(), editorAcc(), "posts", query.Request{
		Fields:        []string{"id"},
		RelConditions: map[string]map[string]any{"nope": {"x": 1}},
	})
	require.ErrorIs(t, err, qerr.ErrMalformedFilter)
}

func TestQueryAdminBypass(t *testing.T) {
	exec := &fakeExec{}
	e := testEngine(t, exec)
	exec.queue(map[string]any{"id": "p1", "title": "T"})
	exec.queue(map[string]any{"count": int64(1)})

	res, err := e.Query(context.Background(), adminAcc(), "posts", query.Request{
		Fields: []string{"id", "title"},
	})
	require.NoError(t, err)
	require.Equal(t, "T", res.Data[0]["title"])
}

func TestQueryAggregateWithoutGroupBy(t *testing.T) {
	exec := &fakeExec{}
	e := testEngine(t, exec, access.Permission{
		ID: "p1", Role: "editor", Collection: "posts", Action: access.ActionRead,
	})
	exec.queue(map[string]any{"total": int64(42)})

	res, err := e.Query(context.Background(), editorAcc(), "posts", query.Request{
		Aggregate: map[string]query.Aggregate{"total": {Fn: query.AggCount, Field: "*"}},
		Limit:     -1,
	})
	require.NoError(t, err)
	// One implicit group, no separate count query.
	require.Len(t, exec.calls, 1)
	require.Equal(t, int64(1), res.TotalCount)
	require.Equal(t, int64(42), res.Data[0]["total"])
}

func TestQueryAggregateOverHiddenFieldDenied(t *testing.T) {
	exec := &fakeExec{}
	e := testEngine(t, exec, access.Permission{
		ID: "p1", Role: "editor", Collection: "posts", Action: access.ActionRead,
		Fields: []string{"id", "title"},
	})

	_, err := e.Query(context.Background(), editorAcc(), "posts", query.Request{
		Aggregate: map[string]query.Aggregate{"sum": {Fn: query.AggSum, Field: "likes"}},
	})
	require.ErrorIs(t, err, qerr.ErrAccessDenied)

	_, err = e.Query(context.Background(), editorAcc(), "posts", query.Request{
		Aggregate: map[string]query.Aggregate{"n": {Fn: query.AggCount, Field: "*"}},
		GroupBy:   []string{"status"},
	})
	require.ErrorIs(t, err, qerr.ErrAccessDenied)
	require.Empty(t, exec.calls)
}

func TestResolveDefaultsOverlaysVariables(t *testing.T) {
	e := testEngine(t, &fakeExec{}, access.Permission{
		ID: "p1", Role: "editor", Collection: "posts", Action: access.ActionCreate,
		DefaultValues: map[string]any{"owner": "$CURRENT_USER", "status": "draft"},
	})

	out, err := e.ResolveDefaults(editorAcc(), "posts", access.ActionCreate, map[string]any{
		"title":  "New",
		"status": "published",
	})
	require.NoError(t, err)
	require.Equal(t, "u-1", out["owner"])
	// Caller-provided values win over defaults.
	require.Equal(t, "published", out["status"])
	require.Equal(t, "New", out["title"])
}

func TestValidatePayload(t *testing.T) {
	e := testEngine(t, &fakeExec{}, access.Permission{
		ID: "p1", Role: "editor", Collection: "posts", Action: access.ActionCreate,
		Fields:     []string{"title", "status"},
		Validation: `payload.status in ["draft", "published"]`,
	})
	acc := editorAcc()

	require.NoError(t, e.ValidatePayload(acc, "posts", access.ActionCreate, map[string]any{
		"title": "ok", "status": "draft",
	}))

	err := e.ValidatePayload(acc, "posts", access.ActionCreate, map[string]any{
		"title": "ok", "owner": "u-2",
	})
	require.ErrorIs(t, err, qerr.ErrAccessDenied)

	err = e.ValidatePayload(acc, "posts", access.ActionCreate, map[string]any{
		"title": "ok", "status": "archived",
	})
	require.ErrorIs(t, err, qerr.ErrValidationFailed)

	err = e.ValidatePayload(acc, "posts", access.ActionDelete, map[string]any{})
	require.ErrorIs(t, err, qerr.ErrAccessDenied)
}

func TestRowPermitted(t *testing.T) {
	e := testEngine(t, &fakeExec{}, access.Permission{
		ID: "p1", Role: "editor", Collection: "posts", Action: access.ActionUpdate,
		Conditions: map[string]any{"owner": "$CURRENT_USER"},
	})
	acc := editorAcc()

	ok, err := e.RowPermitted(acc, "posts", access.ActionUpdate, map[string]any{"owner": "u-1"})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = e.RowPermitted(acc, "posts", access.ActionUpdate, map[string]any{"owner": "u-2"})
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = e.RowPermitted(acc, "posts", access.ActionDelete, map[string]any{"owner": "u-1"})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSecurityFilter(t *testing.T) {
	e := testEngine(t, &fakeExec{}, access.Permission{
		ID: "p1", Role: "editor", Collection: "posts", Action: access.ActionDelete,
		Conditions: map[string]any{"owner": "$CURRENT_USER"},
	})

	node, err := e.SecurityFilter(editorAcc(), "posts", access.ActionDelete)
	require.NoError(t, err)
	cond := node.(*query.Condition)
	require.Equal(t, "owner", cond.Field)
	require.Equal(t, "u-1", cond.Value)

	_, err = e.SecurityFilter(editorAcc(), "posts", access.ActionCreate)
	require.ErrorIs(t, err, qerr.ErrAccessDenied)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	_, err = New(Config{Schema: testSchema(t)})
	require.Error(t, err)
	_, err = New(Config{Schema: testSchema(t), Store: &permissions.StaticStore{}})
	require.Error(t, err)
}
