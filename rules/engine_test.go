package rules

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kartikbazzad/bunbase/bundata/access"
)

func testAcc() *access.Accountability {
	return &access.Accountability{
		User:   &access.User{ID: "u-1", Role: "editor"},
		Role:   &access.Role{ID: "editor"},
		Tenant: "t-1",
	}
}

func TestEvaluate(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)

	tests := []struct {
		name    string
		expr    string
		payload map[string]any
		want    bool
		wantErr bool
	}{
		{"empty expression passes", "", nil, true, false},
		{"payload check true", `payload.status == "draft"`, map[string]any{"status": "draft"}, true, false},
		{"payload check false", `payload.status == "draft"`, map[string]any{"status": "published"}, false, false},
		{"caller identity", `request.auth.uid == "u-1" && request.auth.role == "editor"`, nil, true, false},
		{"tenant check", `request.auth.tenant == "t-1"`, nil, true, false},
		{"numeric bound", `int(payload.price) <= 100`, map[string]any{"price": 80}, true, false},
		{"non-boolean result", `payload.status`, map[string]any{"status": "draft"}, false, true},
		{"compile error", `payload.status ==`, nil, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Evaluate(tt.expr, testAcc(), tt.payload)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateCachesPrograms(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)

	expr := `payload.n > 1`
	for i := 0; i < 3; i++ {
		ok, err := e.Evaluate(expr, testAcc(), map[string]any{"n": 5})
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.Equal(t, 1, e.cache.Len())
}

func TestEvaluateNilAccountability(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)

	ok, err := e.Evaluate(`request.auth.uid == ""`, nil, nil)
	require.NoError(t, err)
	require.True(t, ok)
}
