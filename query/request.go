package query

import "strings"

// AggregateFn is a supported aggregation function.
type AggregateFn string

const (
	AggCount         AggregateFn = "count"
	AggCountDistinct AggregateFn = "countDistinct"
	AggSum           AggregateFn = "sum"
	AggAvg           AggregateFn = "avg"
	AggMin           AggregateFn = "min"
	AggMax           AggregateFn = "max"
	AggArrayAgg      AggregateFn = "array_agg"
)

// Aggregate is one requested aggregation: a function applied to a field.
// Field "*" is only meaningful for count.
type Aggregate struct {
	Fn    AggregateFn `json:"function"`
	Field string      `json:"field"`
}

// Sort is one sort entry. Field may be relation-qualified.
type Sort struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

// ParseSort reads the "-field" shorthand used by the HTTP layer.
func ParseSort(s string) Sort {
	if strings.HasPrefix(s, "-") {
		return Sort{Field: strings.TrimPrefix(s, "-"), Desc: true}
	}
	return Sort{Field: s}
}

// Request is the declarative read request handed to the engine. The HTTP/MCP
// layers translate query strings or JSON bodies into this shape; filters stay
// in their raw nested-object form and are parsed exactly once by the engine.
type Request struct {
	// Filter is the caller's raw filter tree; nil means no restriction
	// beyond the security filter.
	Filter map[string]any `json:"filter,omitempty"`

	// Fields is the requested projection. Supports "*" and dot-path
	// relation expansion ("author.name", "category.*"). Empty means all
	// permitted fields.
	Fields []string `json:"fields,omitempty"`

	Sort []Sort `json:"sort,omitempty"`

	// Page is 1-based. Limit -1 means unbounded.
	Page  int `json:"page,omitempty"`
	Limit int `json:"limit,omitempty"`

	// Search is an optional free-text term, scoped to SearchFields or, when
	// none are given, to every text/identifier field of the collection.
	Search          string   `json:"search,omitempty"`
	SearchFields    []string `json:"searchFields,omitempty"`
	SearchRelevance bool     `json:"searchRelevance,omitempty"`

	// Aggregate maps result aliases to aggregations. When set, rows are the
	// aggregated/grouped rows.
	Aggregate map[string]Aggregate `json:"aggregate,omitempty"`

	// GroupBy lists grouping fields; entries may wrap a timestamp field in
	// a date part, e.g. "year(created_at)".
	GroupBy []string `json:"groupBy,omitempty"`

	// RelConditions are caller-supplied existence constraints per relation
	// name; each is ANDed with the permission's relation condition.
	RelConditions map[string]map[string]any `json:"relConditions,omitempty"`
}
