package gridstore

import (
	"math"
	"sort"
)

// maxContexts bounds how many ranked contexts Coalesce ever returns.
const maxContexts = 40

// relevTruncationWindow is how far below the best result's relevance a
// context may fall before it is dropped.
const relevTruncationWindow = 0.25

// crossLanguagePenalty is applied once to an entry's relevance when the
// entry's language didn't match the query's and proximity didn't pull it
// within the radius.
const crossLanguagePenalty = 0.96

// CoalesceEntry is one subquery's contribution to a CoalesceContext: the
// grid entry it matched, which layer and phrasematch id it came from, a
// mask identifying the (possibly many) subqueries it could stand in for,
// and the proximity-adjusted distance/scoredist used to rank it.
type CoalesceEntry struct {
	GridEntry
	Idx           uint16
	PhrasematchID uint32
	Mask          uint32
	TmpID         uint32
	Distance      float64
	Scoredist     float64
	Relev         float64
}

// CoalesceContext is one ranked combination of entries, at most one per
// layer, whose masks are pairwise disjoint.
type CoalesceContext struct {
	Entries   []CoalesceEntry
	Mask      uint32
	Relev     float64
	Scoredist float64
}

// tileDist is the Euclidean distance, in tiles, between two points.
func tileDist(px, py, x, y float64) float64 {
	dx := px - x
	dy := py - y
	return math.Sqrt(dx*dx + dy*dy)
}

// scoredist blends a popularity score with proximity: within radius it is
// boosted above the raw score, by 2*radius it has fallen back to exactly
// the raw score, and it never drops below the raw score at any distance.
// This implements spec.md's qualitative contract directly; the reference
// implementation's own scoredist was never finished (see DESIGN.md).
func scoredist(distance, score, radius float64) float64 {
	if radius <= 0 || distance >= 2*radius {
		return score
	}
	boosted := score * 2
	t := distance / (2 * radius)
	return boosted - t*(boosted-score)
}

// subqueryEntries pulls one subquery's matches and converts them into
// CoalesceEntry values with distance/scoredist/relev already computed.
func subqueryEntries(sq PhrasematchSubquery, mkid MatchKeyWithID, opts MatchOpts) ([]CoalesceEntry, error) {
	if sq.Idx >= 128 {
		return nil, &ErrLayerIndexOverflow{Idx: sq.Idx}
	}
	matches, err := sq.Store.GetMatching(mkid.Key, opts)
	if err != nil {
		return nil, err
	}

	radius := sq.Store.DefaultRadius()
	var proximity *Proximity
	if opts.Proximity != nil {
		proximity = opts.Proximity
		if proximity.Radius > 0 {
			radius = proximity.Radius
		}
	}

	out := make([]CoalesceEntry, 0, len(matches))
	for _, m := range matches {
		relev := m.Relev() * sq.Weight

		var distance, sd float64
		if proximity != nil {
			distance = tileDist(float64(proximity.Point[0]), float64(proximity.Point[1]), float64(m.X), float64(m.Y))
			sd = scoredist(distance, float64(m.Score), radius)
		} else {
			distance = 0
			sd = float64(m.Score)
		}

		if !m.MatchesLanguage && (proximity == nil || distance > radius) {
			relev *= crossLanguagePenalty
		}

		out = append(out, CoalesceEntry{
			GridEntry:     m.GridEntry,
			Idx:           sq.Idx,
			PhrasematchID: mkid.ID,
			Mask:          sq.Mask,
			TmpID:         (uint32(sq.Idx) << 25) | m.ID,
			Distance:      distance,
			Scoredist:     sd,
			Relev:         relev,
		})
	}
	return out, nil
}

// truncate applies the shared relevance-window-then-count truncation rule
// every coalesce path ends with.
func truncate(contexts []CoalesceContext) []CoalesceContext {
	if len(contexts) == 0 {
		return contexts
	}
	best := contexts[0].Relev
	cut := len(contexts)
	for i, c := range contexts {
		if best-c.Relev >= relevTruncationWindow {
			cut = i
			break
		}
	}
	contexts = contexts[:cut]
	if len(contexts) > maxContexts {
		contexts = contexts[:maxContexts]
	}
	return contexts
}

// CoalesceSingle ranks the matches of a single subquery (with possibly
// several candidate match keys) into a truncated, best-first list of
// single-entry contexts.
func CoalesceSingle(sq PhrasematchSubquery, opts MatchOpts) ([]CoalesceContext, error) {
	var all []CoalesceEntry
	for _, mkid := range sq.MatchKeys {
		entries, err := subqueryEntries(sq, mkid, opts)
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
	}

	seen := make(map[uint32]bool, len(all))
	deduped := all[:0]
	for _, e := range all {
		if seen[e.TmpID] {
			continue
		}
		seen[e.TmpID] = true
		deduped = append(deduped, e)
	}

	sort.SliceStable(deduped, func(i, j int) bool {
		a, b := deduped[i], deduped[j]
		if a.Relev != b.Relev {
			return a.Relev > b.Relev
		}
		if a.Scoredist != b.Scoredist {
			return a.Scoredist > b.Scoredist
		}
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.ID > b.ID
	})

	contexts := make([]CoalesceContext, 0, len(deduped))
	for _, e := range deduped {
		contexts = append(contexts, CoalesceContext{
			Entries:   []CoalesceEntry{e},
			Mask:      e.Mask,
			Relev:     e.Relev,
			Scoredist: e.Scoredist,
		})
	}
	return truncate(contexts), nil
}

// bestCoveringEntry picks the single representative entry for a layer at one
// covering cell: highest scoredist first, then grid order (x asc, y asc, id
// desc) to break ties deterministically.
func bestCoveringEntry(entries []CoalesceEntry) CoalesceEntry {
	best := entries[0]
	for _, e := range entries[1:] {
		switch {
		case e.Scoredist != best.Scoredist:
			if e.Scoredist > best.Scoredist {
				best = e
			}
		case e.X != best.X:
			if e.X < best.X {
				best = e
			}
		case e.Y != best.Y:
			if e.Y < best.Y {
				best = e
			}
		case e.ID > best.ID:
			best = e
		}
	}
	return best
}

// buildCoalesceContext sums entries' relev/scoredist and ORs their masks into
// one CoalesceContext, tracking the best (lowest) distance and highest tmp id
// for the final cross-context sort.
func buildCoalesceContext(entries []CoalesceEntry) (CoalesceContext, float64, uint32) {
	var mask uint32
	var relevSum, scoredistSum float64
	bestDistance := math.MaxFloat64
	var bestTmpID uint32
	for _, e := range entries {
		mask |= e.Mask
		relevSum += e.Relev
		scoredistSum += e.Scoredist
		if e.Distance < bestDistance {
			bestDistance = e.Distance
		}
		if e.TmpID > bestTmpID {
			bestTmpID = e.TmpID
		}
	}
	return CoalesceContext{
		Entries:   entries,
		Mask:      mask,
		Relev:     relevSum,
		Scoredist: scoredistSum,
	}, bestDistance, bestTmpID
}

// CoalesceMulti combines several subqueries' candidate matches. The finest
// (highest-zoom) layer's entries are each a distinct child cell; every
// coarser layer is projected up by arithmetic shift to find the unique
// parent cell covering that child cell, and contributes its best (highest
// scoredist, then grid order) entry at that cell. One context is built per
// distinct child cell that every layer covers; child cells sharing the same
// parent cell still produce separate contexts, each pairing the parent's
// entry with its own child entry. When every layer shares one zoom, one
// context is built per cell that any layer covers, holding the best entry
// of each layer present at that cell.
func CoalesceMulti(subqueries []PhrasematchSubquery, opts MatchOpts) ([]CoalesceContext, error) {
	if len(subqueries) == 0 {
		return nil, nil
	}
	if len(subqueries) == 1 {
		return CoalesceSingle(subqueries[0], opts)
	}

	type layer struct {
		sq      PhrasematchSubquery
		entries []CoalesceEntry
	}
	layers := make([]layer, 0, len(subqueries))
	maxZoom := subqueries[0].Zoom
	for _, sq := range subqueries {
		if sq.Zoom > maxZoom {
			maxZoom = sq.Zoom
		}
	}
	for _, sq := range subqueries {
		var entries []CoalesceEntry
		for _, mkid := range sq.MatchKeys {
			es, err := subqueryEntries(sq, mkid, opts)
			if err != nil {
				return nil, err
			}
			entries = append(entries, es...)
		}
		layers = append(layers, layer{sq: sq, entries: entries})
	}

	var anchors, coarser []layer
	for _, l := range layers {
		if l.sq.Zoom == maxZoom {
			anchors = append(anchors, l)
		} else {
			coarser = append(coarser, l)
		}
	}

	type ranked struct {
		ctx          CoalesceContext
		bestDistance float64
		bestTmpID    uint32
	}
	var all []ranked

	if len(coarser) == 0 {
		// Every layer shares the same zoom: cells coincide exactly, so
		// group by exact coordinate rather than by projection.
		type cellKey struct{ x, y uint16 }
		byCell := make(map[cellKey]map[uint16][]CoalesceEntry)
		for _, l := range anchors {
			for _, e := range l.entries {
				key := cellKey{e.X, e.Y}
				byIdx, ok := byCell[key]
				if !ok {
					byIdx = make(map[uint16][]CoalesceEntry)
					byCell[key] = byIdx
				}
				byIdx[l.sq.Idx] = append(byIdx[l.sq.Idx], e)
			}
		}
		for _, byIdx := range byCell {
			idxs := make([]uint16, 0, len(byIdx))
			for idx := range byIdx {
				idxs = append(idxs, idx)
			}
			sort.Slice(idxs, func(i, j int) bool { return idxs[i] < idxs[j] })
			entries := make([]CoalesceEntry, 0, len(idxs))
			for _, idx := range idxs {
				entries = append(entries, bestCoveringEntry(byIdx[idx]))
			}
			ctx, bestDistance, bestTmpID := buildCoalesceContext(entries)
			all = append(all, ranked{ctx: ctx, bestDistance: bestDistance, bestTmpID: bestTmpID})
		}
	} else {
		for _, anchorLayer := range anchors {
			for _, a := range anchorLayer.entries {
				entries := make([]CoalesceEntry, 0, 1+len(coarser))
				entries = append(entries, a)
				complete := true
				for _, cl := range coarser {
					shift := uint(maxZoom - cl.sq.Zoom)
					px := a.X >> shift
					py := a.Y >> shift
					var covering []CoalesceEntry
					for _, e := range cl.entries {
						if e.X == px && e.Y == py {
							covering = append(covering, e)
						}
					}
					if len(covering) == 0 {
						complete = false
						break
					}
					entries = append(entries, bestCoveringEntry(covering))
				}
				if !complete {
					continue
				}
				ctx, bestDistance, bestTmpID := buildCoalesceContext(entries)
				all = append(all, ranked{ctx: ctx, bestDistance: bestDistance, bestTmpID: bestTmpID})
			}
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.ctx.Relev != b.ctx.Relev {
			return a.ctx.Relev > b.ctx.Relev
		}
		if a.ctx.Scoredist != b.ctx.Scoredist {
			return a.ctx.Scoredist > b.ctx.Scoredist
		}
		if a.bestDistance != b.bestDistance {
			return a.bestDistance < b.bestDistance
		}
		return a.bestTmpID > b.bestTmpID
	})

	contexts := make([]CoalesceContext, len(all))
	for i, r := range all {
		contexts[i] = r.ctx
	}
	return truncate(contexts), nil
}

// Coalesce is the top-level entrypoint: one subquery ranks its own
// matches, several subqueries are combined across zoom levels.
func Coalesce(subqueries []PhrasematchSubquery, opts MatchOpts) ([]CoalesceContext, error) {
	if len(subqueries) == 1 {
		return CoalesceSingle(subqueries[0], opts)
	}
	return CoalesceMulti(subqueries, opts)
}
