package query

import (
	"sort"

	"github.com/kartikbazzad/bunbase/bundata/qerr"
	"github.com/kartikbazzad/bunbase/bundata/schema"
)

// Logical combinator keys in the raw filter form.
const (
	keyAnd  = "AND"
	keyOr   = "OR"
	keyNot  = "NOT"
	keyCast = "cast"
)

// Parser converts raw nested-object filters into the AST, validating every
// leaf against the operator taxonomy and the collection schema. Parsing is
// fail-fast: the first offending field or operator aborts with a descriptive
// error.
type Parser struct {
	Schema schema.Provider
	// MaxDepth bounds relation traversal in field paths. Zero means the
	// engine default is not applied here; callers set it explicitly.
	MaxDepth int
}

// Parse builds the AST for a raw filter against a collection. A nil or empty
// raw filter yields a nil Node (no restriction).
func (p *Parser) Parse(collection string, raw map[string]any) (Node, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	node, err := p.parseObject(collection, raw)
	if err != nil {
		return nil, err
	}
	return node, nil
}

// parseObject treats every key of the object as an implicit AND member, the
// same way bundoc's query engine does.
func (p *Parser) parseObject(collection string, raw map[string]any) (Node, error) {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	// Map order is random; sort so the compiled SQL is deterministic.
	sort.Strings(keys)

	children := make([]Node, 0, len(keys))
	for _, key := range keys {
		val := raw[key]
		var (
			node Node
			err  error
		)
		switch key {
		case keyAnd, keyOr:
			node, err = p.parseLogicalList(collection, key, val)
		case keyNot:
			node, err = p.parseNot(collection, val)
		default:
			node, err = p.parseField(collection, key, val)
		}
		if err != nil {
			return nil, err
		}
		children = append(children, node)
	}
	if len(children) == 1 {
		return children[0], nil
	}
	return &And{Children: children}, nil
}

func (p *Parser) parseLogicalList(collection, key string, val any) (Node, error) {
	list, ok := val.([]any)
	if !ok {
		return nil, qerr.Malformed("%s expects an array of filter objects", key)
	}
	children := make([]Node, 0, len(list))
	for i, item := range list {
		sub, ok := item.(map[string]any)
		if !ok {
			return nil, qerr.Malformed("%s[%d] must be a filter object", key, i)
		}
		node, err := p.parseObject(collection, sub)
		if err != nil {
			return nil, err
		}
		children = append(children, node)
	}
	if key == keyOr {
		return &Or{Children: children}, nil
	}
	return &And{Children: children}, nil
}

func (p *Parser) parseNot(collection string, val any) (Node, error) {
	sub, ok := val.(map[string]any)
	if !ok {
		return nil, qerr.Malformed("NOT expects a filter object")
	}
	child, err := p.parseObject(collection, sub)
	if err != nil {
		return nil, err
	}
	return &Not{Child: child}, nil
}

// parseField handles a single field path entry. The value is either an
// operator map like {"gt": 25, "cast": "numeric"} or a bare value, which is
// shorthand for {"eq": value}.
func (p *Parser) parseField(collection, fieldPath string, val any) (Node, error) {
	if _, _, err := schema.ResolvePath(p.Schema, collection, fieldPath, p.MaxDepth); err != nil {
		return nil, qerr.Malformed("field %q: %v", fieldPath, err)
	}
	fieldType, err := p.Schema.FieldType(collection, fieldPath)
	if err != nil {
		return nil, qerr.Malformed("field %q: %v", fieldPath, err)
	}

	opMap, ok := val.(map[string]any)
	if !ok {
		if err := Validate(fieldType, OpEq, val); err != nil {
			return nil, qerr.Malformed("field %q: %v", fieldPath, err)
		}
		return &Condition{Field: fieldPath, Op: OpEq, Value: val}, nil
	}

	cast := ""
	if rawCast, present := opMap[keyCast]; present {
		castStr, ok := rawCast.(string)
		if !ok {
			return nil, qerr.Malformed("field %q: cast must be a string", fieldPath)
		}
		cast = castStr
	}
	effectiveType := fieldType
	if cast != "" {
		ct, ok := castFieldType(cast)
		if !ok {
			return nil, qerr.Malformed("field %q: unknown cast %q", fieldPath, cast)
		}
		effectiveType = ct
	}

	ops := make([]string, 0, len(opMap))
	for op := range opMap {
		if op != keyCast {
			ops = append(ops, op)
		}
	}
	if len(ops) == 0 {
		return nil, qerr.Malformed("field %q: no operator given", fieldPath)
	}
	sort.Strings(ops)

	children := make([]Node, 0, len(ops))
	for _, op := range ops {
		value := opMap[op]
		if err := Validate(effectiveType, Operator(op), value); err != nil {
			return nil, qerr.Malformed("field %q: %v", fieldPath, err)
		}
		children = append(children, &Condition{Field: fieldPath, Op: Operator(op), Value: value, Cast: cast})
	}
	if len(children) == 1 {
		return children[0], nil
	}
	return &And{Children: children}, nil
}

// castFieldType maps a SQL-level cast name onto the logical type used for
// operator validation. The cast set is closed; unknown names are rejected
// here rather than at SQL build time.
func castFieldType(cast string) (schema.FieldType, bool) {
	switch cast {
	case "numeric", "integer", "bigint", "float":
		return schema.TypeDecimal, true
	case "text", "varchar":
		return schema.TypeText, true
	case "boolean":
		return schema.TypeBoolean, true
	case "timestamp", "timestamptz":
		return schema.TypeTimestamp, true
	case "jsonb", "json":
		return schema.TypeJSON, true
	default:
		return "", false
	}
}
