package query

import (
	"fmt"

	"github.com/kartikbazzad/bunbase/bundata/qerr"
	"github.com/kartikbazzad/bunbase/bundata/schema"
)

// Operator is a filter comparison operator. The set is closed: every operator
// appears in opSpecs with its value shape and the field-type families it
// applies to, so an unknown operator fails validation instead of reaching SQL.
type Operator string

const (
	OpEq  Operator = "eq"
	OpNeq Operator = "neq"
	OpLt  Operator = "lt"
	OpLte Operator = "lte"
	OpGt  Operator = "gt"
	OpGte Operator = "gte"

	OpIn  Operator = "in"
	OpNin Operator = "nin"

	OpIsNull Operator = "isNull"

	OpContains    Operator = "contains"
	OpNContains   Operator = "ncontains"
	OpIContains   Operator = "icontains"
	OpStartsWith  Operator = "startsWith"
	OpNStartsWith Operator = "nstartsWith"
	OpIStartsWith Operator = "istartsWith"
	OpEndsWith    Operator = "endsWith"
	OpNEndsWith   Operator = "nendsWith"
	OpIEndsWith   Operator = "iendsWith"

	OpBetween  Operator = "between"
	OpNBetween Operator = "nbetween"

	OpIsEmpty Operator = "isEmpty"

	OpArrayContains Operator = "arrayContains"
	OpArrayOverlaps Operator = "arrayOverlaps"

	OpJSONPath Operator = "jsonPath"

	OpIntersects  Operator = "intersects"
	OpNIntersects Operator = "nintersects"
)

// valueShape constrains the accepted value of an operator.
type valueShape int

const (
	shapeScalar valueShape = iota // single non-array value
	shapeList                     // array of scalars
	shapePair                     // exactly two elements
	shapeBool                     // boolean flag
	shapeString                   // string value
	shapeAny                      // anything, including arrays and objects
)

// typeFamily constrains the field types an operator may be applied to.
type typeFamily int

const (
	famAny typeFamily = iota
	famComparable          // everything except arrays and geometry
	famOrdered             // numeric + temporal + string-ish
	famText                // string, text, uuid
	famArray               // array fields
	famJSON                // json fields
	famGeometry            // geometry fields
)

type opSpec struct {
	shape  valueShape
	family typeFamily
}

var opSpecs = map[Operator]opSpec{
	OpEq:  {shapeScalar, famComparable},
	OpNeq: {shapeScalar, famComparable},
	OpLt:  {shapeScalar, famOrdered},
	OpLte: {shapeScalar, famOrdered},
	OpGt:  {shapeScalar, famOrdered},
	OpGte: {shapeScalar, famOrdered},

	OpIn:  {shapeList, famComparable},
	OpNin: {shapeList, famComparable},

	OpIsNull: {shapeBool, famAny},

	OpContains:    {shapeString, famText},
	OpNContains:   {shapeString, famText},
	OpIContains:   {shapeString, famText},
	OpStartsWith:  {shapeString, famText},
	OpNStartsWith: {shapeString, famText},
	OpIStartsWith: {shapeString, famText},
	OpEndsWith:    {shapeString, famText},
	OpNEndsWith:   {shapeString, famText},
	OpIEndsWith:   {shapeString, famText},

	OpBetween:  {shapePair, famOrdered},
	OpNBetween: {shapePair, famOrdered},

	OpIsEmpty: {shapeBool, famAny},

	OpArrayContains: {shapeScalar, famArray},
	OpArrayOverlaps: {shapeList, famArray},

	OpJSONPath: {shapeString, famJSON},

	OpIntersects:  {shapeAny, famGeometry},
	OpNIntersects: {shapeAny, famGeometry},
}

// Validate checks that op exists and that value's shape and the field's type
// family are acceptable for it. Pure function, no state.
func Validate(fieldType schema.FieldType, op Operator, value any) error {
	spec, ok := opSpecs[op]
	if !ok {
		return fmt.Errorf("%w: %q", qerr.ErrInvalidOperator, op)
	}
	if err := checkFamily(spec.family, fieldType, op); err != nil {
		return err
	}
	return checkShape(spec.shape, op, value)
}

func checkFamily(fam typeFamily, ft schema.FieldType, op Operator) error {
	ok := false
	switch fam {
	case famAny:
		ok = true
	case famComparable:
		ok = ft != schema.TypeArray && ft != schema.TypeGeometry
	case famOrdered:
		ok = ft.IsNumeric() || ft.IsTemporal() || ft.IsText()
	case famText:
		ok = ft.IsText()
	case famArray:
		ok = ft == schema.TypeArray
	case famJSON:
		ok = ft == schema.TypeJSON
	case famGeometry:
		ok = ft == schema.TypeGeometry
	}
	if !ok {
		return fmt.Errorf("%w: %q on %s field", qerr.ErrTypeMismatch, op, ft)
	}
	return nil
}

func checkShape(shape valueShape, op Operator, value any) error {
	switch shape {
	case shapeScalar:
		if _, isList := value.([]any); isList {
			return fmt.Errorf("%w: %q expects a single value, got an array", qerr.ErrTypeMismatch, op)
		}
	case shapeList:
		if _, isList := value.([]any); !isList {
			return fmt.Errorf("%w: %q expects an array value", qerr.ErrTypeMismatch, op)
		}
	case shapePair:
		list, isList := value.([]any)
		if !isList || len(list) != 2 {
			return fmt.Errorf("%w: %q expects a two-element array", qerr.ErrTypeMismatch, op)
		}
	case shapeBool:
		if _, isBool := value.(bool); !isBool {
			return fmt.Errorf("%w: %q expects a boolean value", qerr.ErrTypeMismatch, op)
		}
	case shapeString:
		if _, isStr := value.(string); !isStr {
			return fmt.Errorf("%w: %q expects a string value", qerr.ErrTypeMismatch, op)
		}
	case shapeAny:
	}
	return nil
}
