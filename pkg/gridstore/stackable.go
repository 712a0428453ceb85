package gridstore

import (
	"math"
	"sort"
)

// DefaultMaxStackZoom is the zoom ceiling Stackable applies when the
// caller passes 0 for maxZoom.
const DefaultMaxStackZoom uint16 = 129

// PhrasematchResults is one layer's candidate phrasematch: everything
// Stackable needs to decide whether it may sit alongside another
// candidate in the same stack, plus everything Coalesce needs once a
// legal stack has been chosen. ScoreFactor, Prefix, EditMultiplier, and
// SubqueryEditDistance come from the upstream fuzzy-matching stage this
// module does not implement; they are carried through unused by the
// ranking arithmetic except for ScoreFactor, which is the quantity the
// admissibility bound below sums.
type PhrasematchResults struct {
	Store                *GridStore
	Idx                  uint16
	Zoom                 uint16
	Weight               float64
	ScoreFactor          float64
	Prefix               bool
	MatchKey             MatchKey
	NMask                uint16
	Mask                 uint32
	BMask                uint16
	EditMultiplier       float64
	SubqueryEditDistance uint32
}

// StackableNode is one node of the tree Stackable builds: a chosen
// candidate, the cumulative NMask and Mask a child must stay disjoint
// from, the candidate's own BMask tag, and the legal continuations found
// under it. A node with no Children is a leaf: a legal stack that no
// candidate from a later layer could extend.
type StackableNode struct {
	Phrasematch PhrasematchResults
	Children    []*StackableNode
	NMask       uint16
	BMask       uint16
	Mask        uint32
}

// Stack returns the sequence of PhrasematchResults from the tree's root
// down to this node.
func (n *StackableNode) Stack(prefix []PhrasematchResults) []PhrasematchResults {
	return append(append([]PhrasematchResults(nil), prefix...), n.Phrasematch)
}

// Leaves collects every complete stack (root to leaf) under the given
// roots, in the deterministic sibling order Stackable produced them.
func Leaves(roots []*StackableNode) [][]PhrasematchResults {
	var out [][]PhrasematchResults
	var walk func(n *StackableNode, prefix []PhrasematchResults)
	walk = func(n *StackableNode, prefix []PhrasematchResults) {
		stack := n.Stack(prefix)
		if len(n.Children) == 0 {
			out = append(out, stack)
			return
		}
		for _, c := range n.Children {
			walk(c, stack)
		}
	}
	for _, r := range roots {
		walk(r, nil)
	}
	return out
}

func admissible(p PhrasematchResults, nmask uint16, bmaskSet map[uint16]bool, mask uint32, maxZoom uint16, potentialFromHere, bound float64) bool {
	if p.NMask&nmask != 0 {
		return false
	}
	if p.Mask&mask != 0 {
		return false
	}
	if p.BMask != 0 && bmaskSet[p.BMask] {
		return false
	}
	if p.Zoom > maxZoom {
		return false
	}
	// potentialFromHere is the best this path could still total, taking p
	// plus the best possible candidate from every layer after it; prune if
	// even that best case can't stay within the window.
	if potentialFromHere < bound {
		return false
	}
	return true
}

// bestScoreFactor is the highest ScoreFactor among a layer's candidates.
func bestScoreFactor(layer []PhrasematchResults) float64 {
	best := 0.0
	for _, p := range layer {
		if p.ScoreFactor > best {
			best = p.ScoreFactor
		}
	}
	return best
}

// suffixBest[i] is the sum of the best ScoreFactor achievable from layers
// i..end, used to bound how much a partial stack could still grow.
func suffixBestScoreFactors(layers [][]PhrasematchResults) []float64 {
	suffix := make([]float64, len(layers)+1)
	for i := len(layers) - 1; i >= 0; i-- {
		suffix[i] = suffix[i+1] + bestScoreFactor(layers[i])
	}
	return suffix
}

// Stackable enumerates every legal combination of at most one candidate
// per layer (layers is typically phrasematch results partitioned by their
// Idx), subject to: candidates in the same stack must have disjoint
// NMask, Mask, and BMask tags, the zoom at every node must not exceed
// maxZoom (DefaultMaxStackZoom if 0 is passed), and a branch is pruned
// once its cumulative ScoreFactor, plus the best ScoreFactor of every
// later layer, falls more than relevTruncationWindow below the best
// cumulative ScoreFactor of any leaf found so far.
func Stackable(layers [][]PhrasematchResults, maxZoom uint16) []*StackableNode {
	if maxZoom == 0 {
		maxZoom = DefaultMaxStackZoom
	}
	if len(layers) == 0 {
		return nil
	}

	suffix := suffixBestScoreFactors(layers)
	bestLeaf := math.Inf(-1)

	var build func(layerIdx int, nmask uint16, bmaskSet map[uint16]bool, mask uint32, cumScoreFactor float64) []*StackableNode
	build = func(layerIdx int, nmask uint16, bmaskSet map[uint16]bool, mask uint32, cumScoreFactor float64) []*StackableNode {
		var nodes []*StackableNode
		for i := layerIdx; i < len(layers); i++ {
			candidates := append([]PhrasematchResults(nil), layers[i]...)
			sort.SliceStable(candidates, func(a, b int) bool {
				return candidates[a].ScoreFactor > candidates[b].ScoreFactor
			})
			for _, p := range candidates {
				potentialFromHere := cumScoreFactor + p.ScoreFactor + suffix[i+1]
				if !admissible(p, nmask, bmaskSet, mask, maxZoom, potentialFromHere, bestLeaf-relevTruncationWindow) {
					continue
				}
				nextBSet := bmaskSet
				if p.BMask != 0 {
					nextBSet = make(map[uint16]bool, len(bmaskSet)+1)
					for k := range bmaskSet {
						nextBSet[k] = true
					}
					nextBSet[p.BMask] = true
				}
				children := build(i+1, nmask|p.NMask, nextBSet, mask|p.Mask, cumScoreFactor+p.ScoreFactor)
				if len(children) == 0 && cumScoreFactor+p.ScoreFactor > bestLeaf {
					bestLeaf = cumScoreFactor + p.ScoreFactor
				}
				nodes = append(nodes, &StackableNode{
					Phrasematch: p,
					Children:    children,
					NMask:       nmask | p.NMask,
					BMask:       p.BMask,
					Mask:        mask | p.Mask,
				})
			}
		}
		return nodes
	}

	return build(0, 0, nil, 0, 0)
}

// TreeCoalesce ranks every leaf stack Stackable produced, exactly as
// Coalesce would rank that same stack if the caller had built it by hand,
// then merges and truncates the results across all of them. This is what
// makes Coalesce(subqueries, opts) and
// truncate(TreeCoalesce(Stackable(layers, maxZoom), opts)) agree: both
// ultimately rank the same underlying subquery combinations the same way.
func TreeCoalesce(roots []*StackableNode, opts MatchOpts) ([]CoalesceContext, error) {
	stacks := Leaves(roots)
	var all []CoalesceContext
	for _, stack := range stacks {
		subqueries := make([]PhrasematchSubquery, 0, len(stack))
		for _, p := range stack {
			subqueries = append(subqueries, PhrasematchSubquery{
				Store:     p.Store,
				Idx:       p.Idx,
				Zoom:      p.Zoom,
				Weight:    p.Weight,
				Mask:      p.Mask,
				MatchKeys: []MatchKeyWithID{{ID: 0, Key: p.MatchKey}},
			})
		}
		contexts, err := Coalesce(subqueries, opts)
		if err != nil {
			return nil, err
		}
		all = append(all, contexts...)
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Relev != all[j].Relev {
			return all[i].Relev > all[j].Relev
		}
		return all[i].Scoredist > all[j].Scoredist
	})
	return truncate(all), nil
}
