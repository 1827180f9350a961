package ast

// Walk visits n and its descendants in pre-order. Returning false from fn
// skips the node's subtree.
func Walk(n *Node, fn func(*Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, f := range n.features {
		for _, c := range f.Nodes {
			Walk(c, fn)
		}
	}
}

// AllNodes returns n and every descendant in pre-order.
func AllNodes(n *Node) []*Node {
	var out []*Node
	Walk(n, func(c *Node) bool {
		out = append(out, c)
		return true
	})
	return out
}

// AllReferences returns every cross-reference in the tree rooted at n.
func AllReferences(n *Node) []*Reference {
	var out []*Reference
	Walk(n, func(c *Node) bool {
		out = append(out, c.references...)
		return true
	})
	return out
}
