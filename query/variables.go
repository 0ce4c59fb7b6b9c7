package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kartikbazzad/bunbase/bundata/access"
	"github.com/kartikbazzad/bunbase/bundata/qerr"
)

// Dynamic variable tokens recognized in filter values.
const (
	varCurrentUser = "$CURRENT_USER"
	varCurrentRole = "$CURRENT_ROLE"
	varNow         = "$NOW"
)

// nowUnits maps $NOW offset units onto their duration semantics. Years and
// months go through AddDate so calendar arithmetic stays correct.
var nowUnits = map[string]time.Duration{
	"WEEKS":   7 * 24 * time.Hour,
	"DAYS":    24 * time.Hour,
	"HOURS":   time.Hour,
	"MINUTES": time.Minute,
	"SECONDS": time.Second,
}

// VarResolver substitutes dynamic tokens with request-scoped literals. One
// resolver is built per compile with a single captured "now" instant, so a
// query referencing $NOW several times stays internally consistent. The same
// resolver is applied to caller filters and permission conditions; token
// semantics do not depend on which side of the trust boundary they appear on.
type VarResolver struct {
	acc *access.Accountability
	now time.Time
}

// NewVarResolver captures the accountability and the compile's now instant.
func NewVarResolver(acc *access.Accountability, now time.Time) *VarResolver {
	return &VarResolver{acc: acc, now: now}
}

// Now returns the captured instant.
func (r *VarResolver) Now() time.Time {
	return r.now
}

// ResolveNode returns a copy of the tree with every dynamic token replaced by
// its literal value. The input tree is never mutated.
func (r *VarResolver) ResolveNode(n Node) (Node, error) {
	if n == nil {
		return nil, nil
	}
	switch node := n.(type) {
	case *Condition:
		value, err := r.ResolveValue(node.Value)
		if err != nil {
			return nil, err
		}
		return &Condition{Field: node.Field, Op: node.Op, Value: value, Cast: node.Cast}, nil
	case *And:
		children, err := r.resolveChildren(node.Children)
		if err != nil {
			return nil, err
		}
		return &And{Children: children}, nil
	case *Or:
		children, err := r.resolveChildren(node.Children)
		if err != nil {
			return nil, err
		}
		return &Or{Children: children}, nil
	case *Not:
		child, err := r.ResolveNode(node.Child)
		if err != nil {
			return nil, err
		}
		return &Not{Child: child}, nil
	}
	return nil, fmt.Errorf("unexpected filter node %T", n)
}

func (r *VarResolver) resolveChildren(children []Node) ([]Node, error) {
	out := make([]Node, len(children))
	for i, child := range children {
		resolved, err := r.ResolveNode(child)
		if err != nil {
			return nil, err
		}
		out[i] = resolved
	}
	return out, nil
}

// ResolveValue substitutes tokens in a single literal. Arrays are resolved
// element-wise; non-token values pass through unchanged.
func (r *VarResolver) ResolveValue(v any) (any, error) {
	switch value := v.(type) {
	case string:
		return r.resolveString(value)
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			resolved, err := r.ResolveValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	}
	return v, nil
}

func (r *VarResolver) resolveString(s string) (any, error) {
	switch {
	case s == varCurrentUser:
		if r.acc == nil || r.acc.User == nil {
			// A security condition referencing the current user cannot be
			// evaluated for an anonymous caller. Fail closed.
			return nil, qerr.ErrAccessDenied
		}
		return r.acc.User.ID, nil

	case strings.HasPrefix(s, varCurrentUser+"."):
		if r.acc == nil || r.acc.User == nil {
			return nil, qerr.ErrAccessDenied
		}
		field := strings.TrimPrefix(s, varCurrentUser+".")
		value, ok := r.acc.User.Field(field)
		if !ok {
			return nil, qerr.Unresolvable("user has no field %q", field)
		}
		return value, nil

	case s == varCurrentRole:
		if r.acc == nil || r.acc.Role == nil {
			return nil, qerr.ErrAccessDenied
		}
		return r.acc.Role.ID, nil

	case strings.HasPrefix(s, varCurrentRole+"."):
		if r.acc == nil || r.acc.Role == nil {
			return nil, qerr.ErrAccessDenied
		}
		field := strings.TrimPrefix(s, varCurrentRole+".")
		value, ok := r.acc.Role.Field(field)
		if !ok {
			return nil, qerr.Unresolvable("role has no field %q", field)
		}
		return value, nil

	case s == varNow:
		return r.now, nil

	case strings.HasPrefix(s, varNow+"+"), strings.HasPrefix(s, varNow+"-"):
		return r.resolveNowOffset(s)
	}
	return s, nil
}

// resolveNowOffset parses "$NOW±<UNIT>_<N>", e.g. "$NOW-DAYS_7".
func (r *VarResolver) resolveNowOffset(s string) (any, error) {
	rest := strings.TrimPrefix(s, varNow)
	sign := 1
	if rest[0] == '-' {
		sign = -1
	}
	rest = rest[1:]

	unit, amountStr, found := strings.Cut(rest, "_")
	if !found {
		return nil, qerr.Unresolvable("bad $NOW offset %q", s)
	}
	amount, err := strconv.Atoi(amountStr)
	if err != nil {
		return nil, qerr.Unresolvable("bad $NOW offset amount %q", s)
	}
	amount *= sign

	switch unit {
	case "YEARS":
		return r.now.AddDate(amount, 0, 0), nil
	case "MONTHS":
		return r.now.AddDate(0, amount, 0), nil
	}
	d, ok := nowUnits[unit]
	if !ok {
		return nil, qerr.Unresolvable("bad $NOW offset unit %q", s)
	}
	return r.now.Add(time.Duration(amount) * d), nil
}
