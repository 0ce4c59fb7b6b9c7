// Package query implements the filter parsing layer of bundata: the operator
// taxonomy, the filter AST, dynamic variable resolution and the in-memory
// matcher. Raw nested-object filters (e.g. {"age": {"gt": 25}}) are parsed
// once into the AST; downstream stages never re-interpret raw maps.
package query

// Node is a node of the filter AST.
//
// This is a sealed interface: only types in this package implement it, which
// keeps type switches in the compiler exhaustive.
type Node interface {
	filterNode()
}

// Condition is a leaf: one field path compared against a value.
type Condition struct {
	// Field is the dot-separated path, possibly crossing relationships
	// ("author.name").
	Field string
	Op    Operator
	Value any
	// Cast optionally forces a SQL-level type before the operator is
	// applied ("numeric", "text", ...). Empty means no cast.
	Cast string
}

// And requires all children to hold. An empty And matches every row.
type And struct {
	Children []Node
}

// Or requires at least one child to hold. An empty Or matches no row; the
// resolver uses it as the deny-all filter.
type Or struct {
	Children []Node
}

// Not inverts its child.
type Not struct {
	Child Node
}

func (*Condition) filterNode() {}
func (*And) filterNode()       {}
func (*Or) filterNode()        {}
func (*Not) filterNode()       {}

// MatchNothing returns a filter that no row satisfies.
func MatchNothing() Node {
	return &Or{}
}
