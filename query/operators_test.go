package query

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kartikbazzad/bunbase/bundata/qerr"
	"github.com/kartikbazzad/bunbase/bundata/schema"
)

func TestValidateOperators(t *testing.T) {
	tests := []struct {
		name      string
		fieldType schema.FieldType
		op        Operator
		value     any
		wantErr   error
	}{
		{"eq string", schema.TypeString, OpEq, "draft", nil},
		{"eq integer", schema.TypeInteger, OpEq, 5, nil},
		{"eq rejects array value", schema.TypeString, OpEq, []any{"a"}, qerr.ErrTypeMismatch},
		{"in wants array", schema.TypeString, OpIn, "draft", qerr.ErrTypeMismatch},
		{"in accepts array", schema.TypeString, OpIn, []any{"a", "b"}, nil},
		{"lt on boolean", schema.TypeBoolean, OpLt, true, qerr.ErrTypeMismatch},
		{"lt on timestamp", schema.TypeTimestamp, OpLt, "2024-01-01", nil},
		{"contains on integer", schema.TypeInteger, OpContains, "x", qerr.ErrTypeMismatch},
		{"icontains on text", schema.TypeText, OpIContains, "x", nil},
		{"contains wants string value", schema.TypeString, OpContains, 3, qerr.ErrTypeMismatch},
		{"between wants pair", schema.TypeInteger, OpBetween, []any{1}, qerr.ErrTypeMismatch},
		{"between accepts pair", schema.TypeInteger, OpBetween, []any{1, 10}, nil},
		{"isNull wants bool", schema.TypeString, OpIsNull, "yes", qerr.ErrTypeMismatch},
		{"isNull ok", schema.TypeString, OpIsNull, true, nil},
		{"arrayContains needs array field", schema.TypeString, OpArrayContains, "x", qerr.ErrTypeMismatch},
		{"arrayContains ok", schema.TypeArray, OpArrayContains, "x", nil},
		{"arrayOverlaps ok", schema.TypeArray, OpArrayOverlaps, []any{"x", "y"}, nil},
		{"jsonPath needs json field", schema.TypeString, OpJSONPath, "$.a", qerr.ErrTypeMismatch},
		{"jsonPath ok", schema.TypeJSON, OpJSONPath, "$.a", nil},
		{"intersects needs geometry", schema.TypeString, OpIntersects, "{}", qerr.ErrTypeMismatch},
		{"unknown operator", schema.TypeString, Operator("regex"), "x", qerr.ErrInvalidOperator},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.fieldType, tt.op, tt.value)
			if tt.wantErr == nil {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}
