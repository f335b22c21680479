package loopir

// Walk visits the nodes in program order, passing each node's loop depth: the number of loops
// enclosing it. If fn returns false the body of that node is not visited.
func Walk(nodes []*Node, fn func(node *Node, depth int) bool) {
	walk(nodes, 0, fn)
}

func walk(nodes []*Node, depth int, fn func(node *Node, depth int) bool) {
	for _, node := range nodes {
		if !fn(node, depth) {
			continue
		}
		if node.Kind == OpLoop {
			walk(node.Body, depth+1, fn)
		}
	}
}

// Count returns the number of nodes of the given kind in the loop nest.
func (n *LoopNest) Count(kind OpKind) (count int) {
	Walk(n.Body, func(node *Node, _ int) bool {
		if node.Kind == kind {
			count++
		}
		return true
	})
	return
}

// Find returns the first node matching the kind and operand, and its loop depth. It returns
// nil if none is found. For OpLoop the operand is the axis.
func (n *LoopNest) Find(kind OpKind, operand int) (found *Node, depth int) {
	Walk(n.Body, func(node *Node, d int) bool {
		if found != nil {
			return false
		}
		if node.Kind != kind {
			return true
		}
		if (kind == OpLoop && node.Axis == operand) || (kind != OpLoop && node.Operand == operand) {
			found, depth = node, d
			return false
		}
		return true
	})
	return
}
