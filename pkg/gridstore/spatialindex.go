package gridstore

import "github.com/dhconnelly/rtreego"

// pointEpsilon gives every indexed entry a minimal non-zero extent:
// rtreego.NewRect rejects a rectangle with a zero-length side, but grid
// entries are point coordinates.
const pointEpsilon = 1e-6

// entrySpatial adapts a MatchingGridEntry to rtreego.Spatial so a batch of
// results can be loaded into an R-tree and queried by bounding box, rather
// than tested against the box one at a time.
type entrySpatial struct {
	entry MatchingGridEntry
}

func (e entrySpatial) Bounds() rtreego.Rect {
	point := rtreego.Point{float64(e.entry.X), float64(e.entry.Y)}
	rect, err := rtreego.NewRect(point, []float64{pointEpsilon, pointEpsilon})
	if err != nil {
		// point and pointEpsilon are both well-formed constants; this
		// branch is unreachable in practice.
		return rtreego.Rect{}
	}
	return rect
}

// buildEntryIndex loads entries into an R-tree keyed by their tile
// coordinates. Branching factor mirrors what a few thousand entries per
// phrase bucket calls for.
func buildEntryIndex(entries []MatchingGridEntry) *rtreego.Rtree {
	tree := rtreego.NewTree(2, 25, 50)
	for _, e := range entries {
		tree.Insert(entrySpatial{entry: e})
	}
	return tree
}

// queryBBox returns the entries in tree whose coordinates, after
// reprojecting from storeZoom to queryZoom, fall within bbox.
func queryBBox(tree *rtreego.Rtree, bbox [4]uint16, storeZoom, queryZoom uint16) []MatchingGridEntry {
	minX := float64(reprojectCoord(bbox[0], queryZoom, storeZoom))
	minY := float64(reprojectCoord(bbox[1], queryZoom, storeZoom))
	maxX := float64(reprojectCoord(bbox[2], queryZoom, storeZoom))
	maxY := float64(reprojectCoord(bbox[3], queryZoom, storeZoom))

	point := rtreego.Point{minX, minY}
	lengths := []float64{maxX - minX + pointEpsilon, maxY - minY + pointEpsilon}
	rect, err := rtreego.NewRect(point, lengths)
	if err != nil {
		return nil
	}

	hits := tree.SearchIntersect(rect)
	out := make([]MatchingGridEntry, 0, len(hits))
	for _, h := range hits {
		es, ok := h.(entrySpatial)
		if !ok {
			continue
		}
		if bboxContains(bbox, es.entry.X, es.entry.Y, storeZoom, queryZoom) {
			out = append(out, es.entry)
		}
	}
	return out
}
