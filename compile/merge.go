// Package compile merges caller and security filters and assembles the final
// executable SQL. The merge rule is the security core: the caller's filter is
// always ANDed with the permission's filter, so no caller input can widen the
// set of visible rows.
package compile

import "github.com/kartikbazzad/bunbase/bundata/query"

// Merge conjoins the caller's filter with the security filter. Either side
// may be nil: no caller filter means the security filter alone applies, an
// unrestricted grant means the caller filter alone applies. The result set of
// the merged filter is always a subset of the security filter's result set,
// whatever the caller filter contains.
func Merge(caller, security query.Node) query.Node {
	switch {
	case caller == nil:
		return security
	case security == nil:
		return caller
	}
	return &query.And{Children: []query.Node{caller, security}}
}

// MergeRelations applies the same AND rule independently per relation name.
// A relation present on only one side keeps that side's condition.
func MergeRelations(caller, security map[string]query.Node) map[string]query.Node {
	if len(caller) == 0 && len(security) == 0 {
		return nil
	}
	out := make(map[string]query.Node, len(caller)+len(security))
	for name, node := range caller {
		out[name] = node
	}
	for name, node := range security {
		out[name] = Merge(out[name], node)
	}
	return out
}
