// Command bundata is the offline companion to the query engine: it validates
// schema snapshots and permission sets, compiles requests to SQL without a
// database, and runs queries against a live Postgres.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/kartikbazzad/bunbase/bundata"
	"github.com/kartikbazzad/bunbase/bundata/access"
	"github.com/kartikbazzad/bunbase/bundata/compile"
	"github.com/kartikbazzad/bunbase/bundata/config"
	"github.com/kartikbazzad/bunbase/bundata/permissions"
	"github.com/kartikbazzad/bunbase/bundata/query"
	"github.com/kartikbazzad/bunbase/bundata/schema"
)

var rootCmd = &cobra.Command{
	Use:   "bundata",
	Short: "Query and permission compiler tooling",
}

func main() {
	rootCmd.AddCommand(validateCmd(), compileCmd(), queryCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type callerFlags struct {
	userID string
	role   string
	roleID string
	admin  bool
}

func (f *callerFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.userID, "user", "", "Caller user id")
	cmd.Flags().StringVar(&f.role, "role", "", "Caller role name")
	cmd.Flags().StringVar(&f.roleID, "role-id", "", "Caller role id")
	cmd.Flags().BoolVar(&f.admin, "admin", false, "Caller is an administrator")
}

func (f *callerFlags) accountability() *access.Accountability {
	acc := &access.Accountability{}
	if f.userID != "" || f.admin {
		acc.User = &access.User{ID: f.userID, Role: f.roleID, IsAdmin: f.admin}
	}
	if f.role != "" || f.roleID != "" {
		acc.Role = &access.Role{ID: f.roleID, Name: f.role}
	}
	return acc
}

func loadSchema(path string) (schema.Provider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema snapshot: %w", err)
	}
	return schema.LoadSnapshot(data)
}

func loadRequest(path string) (query.Request, error) {
	var req query.Request
	data, err := os.ReadFile(path)
	if err != nil {
		return req, fmt.Errorf("failed to read request: %w", err)
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("failed to parse request: %w", err)
	}
	return req, nil
}

func validateCmd() *cobra.Command {
	var schemaPath, permsPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a schema snapshot and optionally a permission set against it",
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := loadSchema(schemaPath)
			if err != nil {
				return err
			}
			fmt.Println("schema: ok")
			if permsPath == "" {
				return nil
			}
			data, err := os.ReadFile(permsPath)
			if err != nil {
				return err
			}
			store, err := permissions.LoadStatic(data)
			if err != nil {
				return err
			}
			cache := permissions.NewCache(store)
			if err := cache.Reload(cmd.Context()); err != nil {
				return err
			}
			parser := &query.Parser{Schema: provider, MaxDepth: compile.DefaultMaxRelationDepth}
			resolver := permissions.NewResolver(cache, parser)
			for _, p := range store.Records {
				acc := &access.Accountability{Role: &access.Role{ID: p.Role}}
				if _, err := resolver.Resolve(acc, p.Collection, p.Action); err != nil {
					return fmt.Errorf("permission %s: %w", p.ID, err)
				}
			}
			fmt.Printf("permissions: ok (%d records)\n", len(store.Records))
			return nil
		},
	}
	cmd.Flags().StringVar(&schemaPath, "schema", "snapshot.json", "Schema snapshot JSON")
	cmd.Flags().StringVar(&permsPath, "permissions", "", "Permission records JSON (optional)")
	return cmd
}

func compileCmd() *cobra.Command {
	var schemaPath, permsPath, requestPath, collection string
	var caller callerFlags
	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile a request into SQL without executing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := loadSchema(schemaPath)
			if err != nil {
				return err
			}
			req, err := loadRequest(requestPath)
			if err != nil {
				return err
			}
			store := &permissions.StaticStore{}
			if permsPath != "" {
				data, err := os.ReadFile(permsPath)
				if err != nil {
					return err
				}
				if store, err = permissions.LoadStatic(data); err != nil {
					return err
				}
			}
			plan, err := compilePlan(cmd.Context(), provider, store, caller.accountability(), collection, req)
			if err != nil {
				return err
			}
			fmt.Println(plan.SQL)
			printArgs(plan.Args)
			if plan.CountSQL != "" {
				fmt.Println()
				fmt.Println(plan.CountSQL)
				printArgs(plan.CountArgs)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&schemaPath, "schema", "snapshot.json", "Schema snapshot JSON")
	cmd.Flags().StringVar(&permsPath, "permissions", "", "Permission records JSON")
	cmd.Flags().StringVar(&requestPath, "request", "request.json", "Request JSON")
	cmd.Flags().StringVar(&collection, "collection", "", "Target collection")
	caller.register(cmd)
	_ = cmd.MarkFlagRequired("collection")
	return cmd
}

// compilePlan mirrors the engine's read pipeline up to SQL assembly.
func compilePlan(ctx context.Context, provider schema.Provider, store permissions.Store, acc *access.Accountability, collection string, req query.Request) (*compile.Plan, error) {
	cache := permissions.NewCache(store)
	if err := cache.Reload(ctx); err != nil {
		return nil, err
	}
	parser := &query.Parser{Schema: provider, MaxDepth: compile.DefaultMaxRelationDepth}
	resolver := permissions.NewResolver(cache, parser)

	grant, err := resolver.Resolve(acc, collection, access.ActionRead)
	if err != nil {
		return nil, err
	}
	if grant.Denied {
		return nil, fmt.Errorf("access denied for %q on %q", acc.RoleID(), collection)
	}

	callerFilter, err := parser.Parse(collection, req.Filter)
	if err != nil {
		return nil, err
	}
	vars := query.NewVarResolver(acc, time.Now().UTC())
	if callerFilter, err = vars.ResolveNode(callerFilter); err != nil {
		return nil, err
	}
	security, err := vars.ResolveNode(grant.Conditions)
	if err != nil {
		return nil, err
	}

	compiler := &compile.Compiler{Schema: provider}
	return compiler.Compile(compile.Input{
		Collection:      collection,
		Filter:          compile.Merge(callerFilter, security),
		Fields:          req.Fields,
		Sort:            req.Sort,
		Page:            req.Page,
		Limit:           req.Limit,
		Search:          req.Search,
		SearchFields:    req.SearchFields,
		SearchRelevance: req.SearchRelevance,
		Aggregate:       req.Aggregate,
		GroupBy:         req.GroupBy,
	})
}

func queryCmd() *cobra.Command {
	var collection, requestPath string
	var caller callerFlags
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run a request against the configured Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg config.Config
			if err := config.Load("BUNDATA_", &cfg); err != nil {
				return err
			}
			setupLogger(cfg.Log.Level)
			if cfg.Database.URL == "" {
				return fmt.Errorf("BUNDATA_DATABASE_URL is not set")
			}
			provider, err := loadSchema(cfg.Schema.Path)
			if err != nil {
				return err
			}
			req, err := loadRequest(requestPath)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := pgxpool.New(ctx, cfg.Database.URL)
			if err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}
			defer pool.Close()

			store, err := permissions.NewPGStore(ctx, pool, cfg.Database.URL)
			if err != nil {
				return err
			}
			engine, err := bundata.New(bundata.Config{
				Schema:           provider,
				Store:            store,
				Exec:             &bundata.PgxExecer{Pool: pool},
				DefaultLimit:     cfg.Query.DefaultLimit,
				MaxRelationDepth: cfg.Query.MaxRelationDepth,
			})
			if err != nil {
				return err
			}
			if err := engine.ReloadPermissions(ctx); err != nil {
				return err
			}

			result, err := engine.Query(ctx, caller.accountability(), collection, req)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(map[string]any{
				"data":       result.Data,
				"totalCount": result.TotalCount,
			}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&collection, "collection", "", "Target collection")
	cmd.Flags().StringVar(&requestPath, "request", "request.json", "Request JSON")
	caller.register(cmd)
	_ = cmd.MarkFlagRequired("collection")
	return cmd
}

func printArgs(args []any) {
	for i, a := range args {
		fmt.Printf("  $%d = %v\n", i+1, a)
	}
}

func setupLogger(level string) {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}
