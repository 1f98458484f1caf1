package hfsplus

import (
	"sort"
)

// lockNodes locks every distinct non-nil node exclusive, in ascending CNID
// order, and returns a function that unlocks them in reverse order.
//
// All multi-node operations go through here so that two operations over
// overlapping node sets can never wait on each other in a cycle.
func lockNodes(nodes ...*Node) (unlock func()) {
	set := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		if n == nil {
			continue
		}
		dup := false
		for _, m := range set {
			if m == n {
				dup = true
				break
			}
		}
		if !dup {
			set = append(set, n)
		}
	}
	sort.Slice(set, func(i, j int) bool { return set[i].id < set[j].id })

	for _, n := range set {
		n.lock.Lock()
	}
	return func() {
		for i := len(set) - 1; i >= 0; i-- {
			set[i].lock.Unlock()
		}
	}
}
