// Package rules evaluates permission validation expressions on the write
// path. Expressions are CEL, compiled once and cached; they see the caller's
// auth context and the payload being written.
package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/checker/decls"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kartikbazzad/bunbase/bundata/access"
)

// Engine compiles and evaluates CEL validation rules. Programs are cached by
// expression text; the cache is bounded so a churn of ad hoc rules cannot
// grow it without limit.
type Engine struct {
	env   *cel.Env
	cache *lru.Cache[string, cel.Program]
}

// NewEngine creates an Engine with the standard rule environment:
//
//	request.auth.uid / role / admin / tenant
//	payload.<field>
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Declarations(
			decls.NewVar("request", decls.NewMapType(decls.String, decls.Dyn)),
			decls.NewVar("payload", decls.NewMapType(decls.String, decls.Dyn)),
		),
	)
	if err != nil {
		return nil, err
	}
	cache, err := lru.New[string, cel.Program](256)
	if err != nil {
		return nil, err
	}
	return &Engine{env: env, cache: cache}, nil
}

// Evaluate runs a rule expression against the caller and payload. An empty
// expression passes; a rule that does not return a boolean fails closed.
func (e *Engine) Evaluate(expression string, acc *access.Accountability, payload map[string]any) (bool, error) {
	if expression == "" {
		return true, nil
	}

	prg, ok := e.cache.Get(expression)
	if !ok {
		ast, issues := e.env.Compile(expression)
		if issues != nil && issues.Err() != nil {
			return false, fmt.Errorf("rule compile error: %w", issues.Err())
		}
		p, err := e.env.Program(ast)
		if err != nil {
			return false, fmt.Errorf("rule program error: %w", err)
		}
		e.cache.Add(expression, p)
		prg = p
	}

	out, _, err := prg.Eval(map[string]any{
		"request": requestContext(acc),
		"payload": payload,
	})
	if err != nil {
		return false, fmt.Errorf("rule eval error: %w", err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule must return a boolean")
	}
	return result, nil
}

func requestContext(acc *access.Accountability) map[string]any {
	auth := map[string]any{
		"uid":    "",
		"role":   "",
		"admin":  false,
		"tenant": "",
	}
	if acc != nil {
		auth["tenant"] = acc.Tenant
		if acc.User != nil {
			auth["uid"] = acc.User.ID
			auth["role"] = acc.User.Role
			auth["admin"] = acc.User.IsAdmin
		}
	}
	return map[string]any{"auth": auth}
}
