package bundata

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kartikbazzad/bunbase/bundata/access"
	"github.com/kartikbazzad/bunbase/bundata/compile"
	"github.com/kartikbazzad/bunbase/bundata/permissions"
	"github.com/kartikbazzad/bunbase/bundata/qerr"
	"github.com/kartikbazzad/bunbase/bundata/query"
	"github.com/kartikbazzad/bunbase/bundata/rules"
	"github.com/kartikbazzad/bunbase/bundata/schema"
)

// DefaultLimit is the page size applied when a request leaves Limit unset.
const DefaultLimit = 100

// Config wires an Engine. Schema, Store and Exec are required.
type Config struct {
	Schema schema.Provider
	Store  permissions.Store
	Exec   Execer

	Logger *slog.Logger

	// DefaultLimit overrides the page size for requests without one.
	DefaultLimit int

	// MaxRelationDepth bounds dot-path traversal in filters and projections.
	MaxRelationDepth int
}

// Engine compiles read requests into permission-bounded SQL and executes
// them. One Engine serves all collections of a schema snapshot; it is safe
// for concurrent use.
type Engine struct {
	schema   schema.Provider
	exec     Execer
	cache    *permissions.Cache
	resolver *permissions.Resolver
	rules    *rules.Engine
	parser   *query.Parser
	compiler *compile.Compiler
	log      *slog.Logger

	defaultLimit int
}

// New builds an Engine over a schema snapshot, a permission store and an
// executor. Call ReloadPermissions before serving the first request.
func New(cfg Config) (*Engine, error) {
	if cfg.Schema == nil {
		return nil, fmt.Errorf("config: Schema is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("config: Store is required")
	}
	if cfg.Exec == nil {
		return nil, fmt.Errorf("config: Exec is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultLimit
	}
	if cfg.MaxRelationDepth <= 0 {
		cfg.MaxRelationDepth = compile.DefaultMaxRelationDepth
	}

	ruleEngine, err := rules.NewEngine()
	if err != nil {
		return nil, fmt.Errorf("failed to build rules engine: %w", err)
	}

	cache := permissions.NewCache(cfg.Store)
	parser := &query.Parser{Schema: cfg.Schema, MaxDepth: cfg.MaxRelationDepth}
	return &Engine{
		schema:       cfg.Schema,
		exec:         cfg.Exec,
		cache:        cache,
		resolver:     permissions.NewResolver(cache, parser),
		rules:        ruleEngine,
		parser:       parser,
		compiler:     &compile.Compiler{Schema: cfg.Schema, MaxRelationDepth: cfg.MaxRelationDepth},
		log:          cfg.Logger,
		defaultLimit: cfg.DefaultLimit,
	}, nil
}

// ReloadPermissions republishes the permission snapshot from the store.
func (e *Engine) ReloadPermissions(ctx context.Context) error {
	return e.cache.Reload(ctx)
}

// Permissions returns a CRUD service bound to this engine's snapshot cache.
// The given store must be the same backing store the engine reads from.
func (e *Engine) Permissions(store permissions.CRUDStore) *permissions.Service {
	return permissions.NewService(store, e.cache)
}

// ReadResult is the response of one read query.
type ReadResult struct {
	// Data holds result rows after relation hydration and field projection.
	// For aggregate queries these are the grouped rows.
	Data []map[string]any

	// TotalCount is the number of rows (or groups) matching the merged
	// filter, independent of pagination.
	TotalCount int64
}

// Query compiles and executes a read request on behalf of acc. The caller's
// filter is merged with the security filter of the read permission, relation
// hydration re-resolves the target collection's permissions, and the response
// carries only allowlisted fields.
func (e *Engine) Query(ctx context.Context, acc *access.Accountability, collection string, req query.Request) (*ReadResult, error) {
	res, err := e.query(ctx, acc, collection, req)
	if err != nil {
		queriesTotal.WithLabelValues(collection, string(access.ActionRead), "error").Inc()
		return nil, err
	}
	queriesTotal.WithLabelValues(collection, string(access.ActionRead), "ok").Inc()
	return res, nil
}

func (e *Engine) query(ctx context.Context, acc *access.Accountability, collection string, req query.Request) (*ReadResult, error) {
	start := time.Now()

	grant, err := e.resolver.Resolve(acc, collection, access.ActionRead)
	if err != nil {
		return nil, err
	}
	if grant.Denied {
		return nil, qerr.ErrAccessDenied
	}

	callerFilter, err := e.parser.Parse(collection, req.Filter)
	if err != nil {
		return nil, err
	}

	vars := query.NewVarResolver(acc, time.Now().UTC())
	callerFilter, err = vars.ResolveNode(callerFilter)
	if err != nil {
		return nil, err
	}
	security, err := vars.ResolveNode(grant.Conditions)
	if err != nil {
		return nil, err
	}

	callerRel, err := e.parseRelConditions(collection, req.RelConditions, vars)
	if err != nil {
		return nil, err
	}
	grantRel, err := resolveRelVars(grant.RelConditions, vars)
	if err != nil {
		return nil, err
	}

	isAggregate := len(req.Aggregate) > 0 || len(req.GroupBy) > 0
	fields := req.Fields
	if isAggregate {
		// Aggregating over a hidden column would leak its values through
		// the aggregate result.
		if err := checkAggregateFields(req, grant); err != nil {
			return nil, err
		}
	} else {
		fields = restrictFields(req.Fields, grant)
	}
	sorts := req.Sort
	if !isAggregate {
		// Aggregate sorts name output aliases and are validated by the
		// compiler against the select list.
		sorts = restrictSorts(req.Sort, grant)
	}

	merged := compile.Merge(callerFilter, security)
	search := req.Search
	var searchFields []string
	if search != "" {
		searchFields = restrictNames(req.SearchFields, grant)
		if len(req.SearchFields) == 0 && !grant.AllFields() {
			// No fields given; expand over the allowlist, never the
			// whole collection.
			searchFields = e.searchableFields(collection, grant)
		}
		if len(searchFields) == 0 && !grant.AllFields() {
			// Every candidate search column is hidden. Searching other
			// columns would let the caller probe values the grant does
			// not expose, so the search matches nothing.
			merged = compile.Merge(merged, query.MatchNothing())
			search = ""
		}
	}

	in := compile.Input{
		Collection:      collection,
		Filter:          merged,
		Fields:          fields,
		Sort:            sorts,
		Page:            req.Page,
		Limit:           e.effectiveLimit(req.Limit),
		Search:          search,
		SearchFields:    searchFields,
		SearchRelevance: req.SearchRelevance,
		Aggregate:       req.Aggregate,
		GroupBy:         req.GroupBy,
		RelConditions:   compile.MergeRelations(callerRel, grantRel),
	}
	plan, err := e.compiler.Compile(in)
	if err != nil {
		return nil, err
	}
	compileDuration.Observe(time.Since(start).Seconds())

	rows, err := e.exec.Query(ctx, plan.SQL, plan.Args)
	if err != nil {
		return nil, fmt.Errorf("query execution failed: %w", err)
	}

	total := int64(len(rows))
	if plan.CountSQL != "" {
		total, err = e.runCount(ctx, plan.CountSQL, plan.CountArgs)
		if err != nil {
			return nil, fmt.Errorf("count execution failed: %w", err)
		}
	}

	if !plan.IsAggregate {
		hydrated, err := e.hydrate(ctx, acc, vars, collection, rows, plan.Relations)
		if err != nil {
			return nil, err
		}
		projectRows(rows, rootKeepSet(plan, grant, hydrated))
	}

	e.log.Debug("query compiled",
		"collection", collection,
		"rows", len(rows),
		"total", total,
		"duration", time.Since(start),
	)
	return &ReadResult{Data: rows, TotalCount: total}, nil
}

func (e *Engine) effectiveLimit(limit int) int {
	if limit == 0 {
		return e.defaultLimit
	}
	return limit
}

// parseRelConditions parses caller relation conditions against each relation
// target and resolves dynamic variables.
func (e *Engine) parseRelConditions(collection string, raw map[string]map[string]any, vars *query.VarResolver) (map[string]query.Node, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	rels, err := e.schema.Relationships(collection)
	if err != nil {
		return nil, err
	}
	out := make(map[string]query.Node, len(raw))
	for name, tree := range raw {
		rel, ok := rels[name]
		if !ok {
			return nil, qerr.Malformed("unknown relation %q on %q", name, collection)
		}
		node, err := e.parser.Parse(rel.Target, tree)
		if err != nil {
			return nil, err
		}
		node, err = vars.ResolveNode(node)
		if err != nil {
			return nil, err
		}
		out[name] = node
	}
	return out, nil
}

func resolveRelVars(conds map[string]query.Node, vars *query.VarResolver) (map[string]query.Node, error) {
	if len(conds) == 0 {
		return nil, nil
	}
	out := make(map[string]query.Node, len(conds))
	for name, node := range conds {
		resolved, err := vars.ResolveNode(node)
		if err != nil {
			return nil, err
		}
		out[name] = resolved
	}
	return out, nil
}

// restrictFields drops requested fields outside the grant's allowlist. A
// dot-path or relation request survives only if its head segment is allowed;
// the relation target's own allowlist is enforced during hydration. An empty
// request expands to the allowlist itself.
func restrictFields(requested []string, grant permissions.Grant) []string {
	if grant.AllFields() {
		return requested
	}
	if len(requested) == 0 {
		return append([]string(nil), grant.Fields...)
	}
	out := make([]string, 0, len(requested))
	for _, f := range requested {
		if f == "*" {
			out = append(out, grant.Fields...)
			continue
		}
		head := f
		if i := strings.IndexByte(f, '.'); i >= 0 {
			head = f[:i]
		}
		if grant.FieldAllowed(head) {
			out = append(out, f)
		}
	}
	return out
}

// searchableFields expands a default search scope from the grant's
// allowlist: every allowlisted text-family column of the collection.
func (e *Engine) searchableFields(collection string, grant permissions.Grant) []string {
	out := make([]string, 0, len(grant.Fields))
	for _, f := range grant.Fields {
		if strings.IndexByte(f, '.') >= 0 {
			continue
		}
		ft, err := e.schema.FieldType(collection, f)
		if err != nil || !ft.IsText() {
			continue
		}
		out = append(out, f)
	}
	return out
}

func restrictNames(names []string, grant permissions.Grant) []string {
	if grant.AllFields() || len(names) == 0 {
		return names
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if grant.FieldAllowed(n) {
			out = append(out, n)
		}
	}
	return out
}

// restrictSorts drops sort entries on fields outside the allowlist. Sorting
// by a hidden column would leak its ordering.
func restrictSorts(sorts []query.Sort, grant permissions.Grant) []query.Sort {
	if grant.AllFields() || len(sorts) == 0 {
		return sorts
	}
	out := make([]query.Sort, 0, len(sorts))
	for _, s := range sorts {
		head := s.Field
		if i := strings.IndexByte(head, '.'); i >= 0 {
			head = head[:i]
		}
		if grant.FieldAllowed(head) {
			out = append(out, s)
		}
	}
	return out
}

// checkAggregateFields rejects aggregations and groupings over fields the
// grant hides.
func checkAggregateFields(req query.Request, grant permissions.Grant) error {
	if grant.AllFields() {
		return nil
	}
	for _, agg := range req.Aggregate {
		if agg.Field != "*" && !grant.FieldAllowed(agg.Field) {
			return qerr.ErrAccessDenied
		}
	}
	for _, g := range req.GroupBy {
		field := g
		if i := strings.IndexByte(g, '('); i >= 0 && strings.HasSuffix(g, ")") {
			field = g[i+1 : len(g)-1]
		}
		if !grant.FieldAllowed(field) {
			return qerr.ErrAccessDenied
		}
	}
	for _, f := range req.Fields {
		if !grant.FieldAllowed(f) {
			return qerr.ErrAccessDenied
		}
	}
	return nil
}

func (e *Engine) runCount(ctx context.Context, sql string, args []any) (int64, error) {
	rows, err := e.exec.Query(ctx, sql, args)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	for _, v := range rows[0] {
		switch n := v.(type) {
		case int64:
			return n, nil
		case int32:
			return int64(n), nil
		case int:
			return int64(n), nil
		case float64:
			return int64(n), nil
		}
	}
	return 0, fmt.Errorf("count query returned no numeric column")
}
