// Package bundata is the query and permission compiler behind bunbase's
// collections API. It takes a declarative read request plus the caller's
// Accountability and produces one executable SQL query whose result rows and
// returned fields are bounded by the caller's permission records: the
// caller's filter is ANDed with the mandatory security filter, relation
// traversal re-applies the target collection's own permissions, and field
// projection strips everything outside the permission's allowlist.
//
// bundata is a library. The platform's HTTP layer translates request shapes
// into query.Request values, the auth middleware supplies the Accountability,
// and the DDL manager feeds the schema.Provider. Typical wiring:
//
//	provider, _ := schema.LoadSnapshot(snapshotJSON)
//	store, _ := permissions.NewPGStore(ctx, pool, dsn)
//	engine, _ := bundata.New(bundata.Config{
//	    Schema: provider,
//	    Store:  store,
//	    Exec:   &bundata.PgxExecer{Pool: pool},
//	})
//	_ = engine.ReloadPermissions(ctx)
//
//	result, err := engine.Query(ctx, acc, "posts", query.Request{
//	    Filter: map[string]any{"status": map[string]any{"eq": "published"}},
//	    Fields: []string{"id", "title", "author.name"},
//	    Limit:  25,
//	})
package bundata
