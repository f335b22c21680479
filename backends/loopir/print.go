package loopir

import (
	"fmt"
	"strings"
)

// String pretty-prints the loop nest, one node per line, indenting loop bodies. E.g.:
//
//	loopnest "sum" iter=[3 4] noalias
//	  inputs: Float32[2,C]
//	  outputs: Float32[2,C]
//	  for i0 in [0, 3):
//	    acc0 = 0 (Float32) @depth=1
//	    for i1 in [0, 4):
//	      in0 = load input0[i0, i1]
//	      out0 = call identity(in0)
//	      acc0 += out0
//	    flush acc0 -> output0[i0, 0]
func (n *LoopNest) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "loopnest %q iter=%v", n.Name, n.IterShape)
	for _, attr := range n.OutputAttributes() {
		fmt.Fprintf(&sb, " %s", attr)
	}
	if n.BoundsCheck {
		sb.WriteString(" boundscheck")
	}
	sb.WriteString("\n")
	writeTypes := func(title string, types []OperandType) {
		parts := make([]string, len(types))
		for ii, t := range types {
			parts[ii] = t.String()
		}
		fmt.Fprintf(&sb, "  %s: %s\n", title, strings.Join(parts, ", "))
	}
	writeTypes("inputs", n.Types.Inputs)
	writeTypes("outputs", n.Types.Outputs)
	n.writeNodes(&sb, n.Body, 1)
	return sb.String()
}

func (n *LoopNest) writeNodes(sb *strings.Builder, nodes []*Node, indent int) {
	prefix := strings.Repeat("  ", indent)
	for _, node := range nodes {
		sb.WriteString(prefix)
		switch node.Kind {
		case OpLoop:
			fmt.Fprintf(sb, "for i%d in [0, %d):\n", node.Axis, node.Extent)
			n.writeNodes(sb, node.Body, indent+1)
			continue
		case OpInitAccumulator:
			dtypeName := "?"
			if acc, found := n.AccumulatorFor(node.Operand); found {
				dtypeName = acc.DType.String()
			}
			fmt.Fprintf(sb, "acc%d = 0 (%s) @depth=%d", node.Operand, dtypeName, node.Depth)
		case OpLoad:
			fmt.Fprintf(sb, "in%d = load input%d%s", node.Operand, node.Operand, formatIndices(node.Indices))
		case OpCall:
			args := make([]string, n.NumInputs())
			for ii := range args {
				args[ii] = fmt.Sprintf("in%d", ii)
			}
			results := make([]string, n.NumOutputs())
			for ii := range results {
				results[ii] = fmt.Sprintf("out%d", ii)
			}
			name := "<nil>"
			if n.Scalar != nil {
				name = n.Scalar.Name
			}
			fmt.Fprintf(sb, "%s = call %s(%s)", strings.Join(results, ", "), name, strings.Join(args, ", "))
		case OpAccumulate:
			fmt.Fprintf(sb, "acc%d += out%d", node.Operand, node.Operand)
		case OpStore:
			fmt.Fprintf(sb, "store output%d%s = out%d", node.Operand, formatIndices(node.Indices), node.Operand)
		case OpFlush:
			fmt.Fprintf(sb, "flush acc%d -> output%d%s", node.Operand, node.Operand, formatIndices(node.Indices))
		default:
			fmt.Fprintf(sb, "%s", node.Kind)
		}
		sb.WriteString("\n")
	}
}

func formatIndices(indices []Index) string {
	parts := make([]string, len(indices))
	for ii, index := range indices {
		if index.Broadcast {
			parts[ii] = "0"
		} else {
			parts[ii] = fmt.Sprintf("i%d", index.Axis)
		}
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
