package compute

import "github.com/obsidianstack/pagescore/agent/internal/netlog"

// ChainSummary describes the longest critical request chain.
type ChainSummary struct {
	DurationMs   float64 `json:"duration"`
	Length       int     `json:"length"`
	TransferSize float64 `json:"transferSize"`
}

// LongestChain walks every root-to-node path. A node's chain duration runs
// from the start of the first root in the forest to the node's end, so later
// roots are measured against the navigation's first request rather than
// their own start. Transfer sizes add up along the path. The first path with
// the strictly greatest duration wins and its length counts the root. An
// empty forest has no chain.
func LongestChain(f *netlog.Forest) ChainSummary {
	if f == nil || len(f.Roots) == 0 {
		return ChainSummary{}
	}

	type frame struct {
		node  int
		depth int
		size  float64
	}

	var (
		best      ChainSummary
		bestDepth int
		stack     []frame
	)
	start := f.Nodes[f.Roots[0]].Request.StartMs
	for i := len(f.Roots) - 1; i >= 0; i-- {
		stack = append(stack, frame{node: f.Roots[i]})
	}

	for len(stack) > 0 {
		fr := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		n := &f.Nodes[fr.node]
		size := fr.size + n.Request.TransferSize
		if d := n.Request.EndMs - start; d > best.DurationMs {
			best.DurationMs = d
			best.TransferSize = size
			bestDepth = fr.depth
		}

		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{
				node:  n.Children[i],
				depth: fr.depth + 1,
				size:  size,
			})
		}
	}

	best.Length = bestDepth + 1
	return best
}

// CountChains counts the leaves below the first root's children, i.e. the
// chains hanging off the initial navigation. A lone navigation has none.
func CountChains(f *netlog.Forest) int {
	if f == nil || len(f.Roots) == 0 {
		return 0
	}
	stack := append([]int(nil), f.Nodes[f.Roots[0]].Children...)
	count := 0
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		kids := f.Nodes[n].Children
		if len(kids) == 0 {
			count++
			continue
		}
		stack = append(stack, kids...)
	}
	return count
}
