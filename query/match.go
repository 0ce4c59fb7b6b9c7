package query

import (
	"fmt"
	"strings"
	"time"
)

// Matches evaluates a resolved filter tree against an in-memory row. It
// mirrors the SQL semantics of the compiler closely enough to back the merge
// subset property tests and write-path prechecks; JSON-path and geometry
// operators are not evaluated in memory and never match.
//
// A nil node matches every row. Dot paths traverse nested map values.
func Matches(n Node, row map[string]any) bool {
	if n == nil {
		return true
	}
	switch node := n.(type) {
	case *Condition:
		return matchCondition(node, row)
	case *And:
		for _, child := range node.Children {
			if !Matches(child, row) {
				return false
			}
		}
		return true
	case *Or:
		for _, child := range node.Children {
			if Matches(child, row) {
				return true
			}
		}
		return false
	case *Not:
		return !Matches(node.Child, row)
	}
	return false
}

func matchCondition(c *Condition, row map[string]any) bool {
	val, exists := lookupPath(row, c.Field)

	switch c.Op {
	case OpIsNull:
		want := c.Value == true
		isNull := !exists || val == nil
		return isNull == want
	case OpIsEmpty:
		want := c.Value == true
		empty := !exists || val == nil || val == ""
		return empty == want
	}

	if !exists || val == nil {
		return false
	}

	switch c.Op {
	case OpEq:
		return looseEqual(val, c.Value)
	case OpNeq:
		return !looseEqual(val, c.Value)
	case OpLt, OpLte, OpGt, OpGte:
		return matchOrdered(c.Op, val, c.Value)
	case OpIn, OpNin:
		list, ok := c.Value.([]any)
		if !ok {
			return false
		}
		found := false
		for _, item := range list {
			if looseEqual(val, item) {
				found = true
				break
			}
		}
		if c.Op == OpIn {
			return found
		}
		return !found
	case OpBetween, OpNBetween:
		pair, ok := c.Value.([]any)
		if !ok || len(pair) != 2 {
			return false
		}
		in := matchOrdered(OpGte, val, pair[0]) && matchOrdered(OpLte, val, pair[1])
		if c.Op == OpBetween {
			return in
		}
		return !in
	case OpContains, OpNContains, OpIContains,
		OpStartsWith, OpNStartsWith, OpIStartsWith,
		OpEndsWith, OpNEndsWith, OpIEndsWith:
		return matchString(c.Op, val, c.Value)
	case OpArrayContains:
		list, ok := val.([]any)
		if !ok {
			return false
		}
		for _, item := range list {
			if looseEqual(item, c.Value) {
				return true
			}
		}
		return false
	case OpArrayOverlaps:
		have, ok := val.([]any)
		if !ok {
			return false
		}
		want, ok := c.Value.([]any)
		if !ok {
			return false
		}
		for _, h := range have {
			for _, w := range want {
				if looseEqual(h, w) {
					return true
				}
			}
		}
		return false
	}
	return false
}

func lookupPath(row map[string]any, path string) (any, bool) {
	head, rest, nested := strings.Cut(path, ".")
	val, ok := row[head]
	if !ok {
		return nil, false
	}
	if !nested {
		return val, true
	}
	sub, ok := val.(map[string]any)
	if !ok {
		return nil, false
	}
	return lookupPath(sub, rest)
}

// looseEqual compares across Go's JSON number representations so 25 and
// float64(25) are the same value.
func looseEqual(a, b any) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
		return false
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func matchOrdered(op Operator, a, b any) bool {
	if at, aok := a.(time.Time); aok {
		if bt, bok := b.(time.Time); bok {
			return orderedResult(op, compareTimes(at, bt))
		}
		return false
	}
	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		if !bok {
			return false
		}
		return orderedResult(op, compareFloats(af, bf))
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if !aok || !bok {
		return false
	}
	return orderedResult(op, strings.Compare(as, bs))
}

func compareTimes(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}

func compareFloats(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func orderedResult(op Operator, cmp int) bool {
	switch op {
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	}
	return false
}

func matchString(op Operator, val, arg any) bool {
	s, ok := val.(string)
	if !ok {
		return false
	}
	sub, ok := arg.(string)
	if !ok {
		return false
	}
	ls, lsub := strings.ToLower(s), strings.ToLower(sub)
	switch op {
	case OpContains:
		return strings.Contains(s, sub)
	case OpNContains:
		return !strings.Contains(s, sub)
	case OpIContains:
		return strings.Contains(ls, lsub)
	case OpStartsWith:
		return strings.HasPrefix(s, sub)
	case OpNStartsWith:
		return !strings.HasPrefix(s, sub)
	case OpIStartsWith:
		return strings.HasPrefix(ls, lsub)
	case OpEndsWith:
		return strings.HasSuffix(s, sub)
	case OpNEndsWith:
		return !strings.HasSuffix(s, sub)
	case OpIEndsWith:
		return strings.HasSuffix(ls, lsub)
	}
	return false
}
