package bundata

import (
	"fmt"
	"time"

	"github.com/kartikbazzad/bunbase/bundata/access"
	"github.com/kartikbazzad/bunbase/bundata/qerr"
	"github.com/kartikbazzad/bunbase/bundata/query"
)

// ResolveDefaults returns the payload with the permission's default values
// filled in for absent keys. Dynamic tokens in defaults resolve against the
// caller, so "$CURRENT_USER" stamps ownership server-side. The input map is
// not modified.
func (e *Engine) ResolveDefaults(acc *access.Accountability, collection string, action access.Action, payload map[string]any) (map[string]any, error) {
	grant, err := e.resolver.Resolve(acc, collection, action)
	if err != nil {
		return nil, err
	}
	if grant.Denied {
		return nil, qerr.ErrAccessDenied
	}
	out := make(map[string]any, len(payload)+len(grant.DefaultValues))
	for k, v := range payload {
		out[k] = v
	}
	if len(grant.DefaultValues) == 0 {
		return out, nil
	}
	vars := query.NewVarResolver(acc, time.Now().UTC())
	for k, v := range grant.DefaultValues {
		if _, present := out[k]; present {
			continue
		}
		resolved, err := vars.ResolveValue(v)
		if err != nil {
			return nil, fmt.Errorf("default value for %q: %w", k, err)
		}
		out[k] = resolved
	}
	return out, nil
}

// ValidatePayload checks a write payload against the caller's grant: every
// payload field must be in the allowlist, and the permission's validation
// rule, when present, must accept the payload.
func (e *Engine) ValidatePayload(acc *access.Accountability, collection string, action access.Action, payload map[string]any) error {
	grant, err := e.resolver.Resolve(acc, collection, action)
	if err != nil {
		return err
	}
	if grant.Denied {
		return qerr.ErrAccessDenied
	}
	for k := range payload {
		if !grant.FieldAllowed(k) {
			return qerr.ErrAccessDenied
		}
	}
	ok, err := e.rules.Evaluate(grant.Validation, acc, payload)
	if err != nil {
		return fmt.Errorf("%w: %v", qerr.ErrValidationFailed, err)
	}
	if !ok {
		return qerr.ErrValidationFailed
	}
	return nil
}

// RowPermitted reports whether a row already held in memory satisfies the
// caller's merged row filter for an action. Update and delete paths call it
// on the current row before touching storage, so a row the security filter
// excludes cannot be modified through a direct key reference.
func (e *Engine) RowPermitted(acc *access.Accountability, collection string, action access.Action, row map[string]any) (bool, error) {
	grant, err := e.resolver.Resolve(acc, collection, action)
	if err != nil {
		return false, err
	}
	if grant.Denied {
		return false, nil
	}
	vars := query.NewVarResolver(acc, time.Now().UTC())
	conditions, err := vars.ResolveNode(grant.Conditions)
	if err != nil {
		return false, err
	}
	return query.Matches(conditions, row), nil
}

// SecurityFilter exposes the resolved, variable-substituted row filter for an
// action so storage-layer writes can scope their statements the same way
// reads do. A nil node means unrestricted.
func (e *Engine) SecurityFilter(acc *access.Accountability, collection string, action access.Action) (query.Node, error) {
	grant, err := e.resolver.Resolve(acc, collection, action)
	if err != nil {
		return nil, err
	}
	if grant.Denied {
		return nil, qerr.ErrAccessDenied
	}
	vars := query.NewVarResolver(acc, time.Now().UTC())
	return vars.ResolveNode(grant.Conditions)
}
