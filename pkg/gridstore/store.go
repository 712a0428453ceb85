package gridstore

import (
	"fmt"
	"sync/atomic"

	"github.com/tilegrid/gridstore/internal/keycodec"
	"github.com/tilegrid/gridstore/internal/kv"
	"github.com/tilegrid/gridstore/internal/kv/badgerstore"
	"github.com/tilegrid/gridstore/internal/record"
)

// GridStore is a read handle onto one phrase/grid index on disk. It is
// reference-counted: Retain and Close adjust a shared count, and the
// underlying KV store is only closed once the count reaches zero, so
// several coalesce subqueries can share one open GridStore.
type GridStore struct {
	kv            kv.Store
	zoom          uint16
	idx           uint16
	defaultRadius float64
	refs          *int32
}

// New opens the store at path with no zoom/proximity defaults set; callers
// doing a plain Get/GetMatching lookup without Coalesce ranking can use
// this form.
func New(path string) (*GridStore, error) {
	return NewWithOptions(path, 0, 0, 0)
}

// NewWithOptions opens the store at path, recording the zoom its tile
// coordinates are expressed in, the layer index it represents, and the
// default proximity radius Coalesce should use for entries it produces.
func NewWithOptions(path string, zoom uint16, idx uint16, radius float64) (*GridStore, error) {
	s, err := badgerstore.Open(badgerstore.Options{Path: path})
	if err != nil {
		return nil, fmt.Errorf("gridstore: open %q: %w", path, err)
	}
	refs := new(int32)
	*refs = 1
	return &GridStore{kv: s, zoom: zoom, idx: idx, defaultRadius: radius, refs: refs}, nil
}

// OpenForBuild opens path for writing, for a Builder's Finish to write
// through; it is otherwise identical to NewWithOptions.
func OpenForBuild(path string, zoom, idx uint16, radius float64) (*GridStore, error) {
	return NewWithOptions(path, zoom, idx, radius)
}

// Zoom is the tile zoom this store's coordinates are expressed in.
func (g *GridStore) Zoom() uint16 { return g.zoom }

// Idx is the layer index NewWithOptions was given. Coalesce builds tmp_ids
// from PhrasematchSubquery.Idx, not from this value.
func (g *GridStore) Idx() uint16 { return g.idx }

// DefaultRadius is the proximity radius NewWithOptions was given.
func (g *GridStore) DefaultRadius() float64 { return g.defaultRadius }

// Retain increments the reference count and returns g, for callers that
// need to hand out another owning reference (e.g. one per subquery).
func (g *GridStore) Retain() *GridStore {
	atomic.AddInt32(g.refs, 1)
	return g
}

// Close releases one reference; the underlying KV store is closed once
// the last reference is released.
func (g *GridStore) Close() error {
	if atomic.AddInt32(g.refs, -1) > 0 {
		return nil
	}
	return g.kv.Close()
}

func flattenRelevScores(scores []record.RelevScore) []GridEntry {
	var out []GridEntry
	for _, rs := range scores {
		for _, c := range rs.Coords {
			for _, idVal := range c.IDs {
				out = append(out, GridEntry{
					RelevBits:        rs.RelevBits,
					Score:            rs.Score,
					X:                c.X,
					Y:                c.Y,
					ID:               idVal >> 8,
					SourcePhraseHash: uint8(idVal & 0xff),
				})
			}
		}
	}
	return out
}

// Get returns every grid entry stored under key, already in the order the
// format guarantees: descending relevance, descending score, ascending
// Morton/z-order, descending id for exact ties. A miss returns (nil, nil).
func (g *GridStore) Get(key GridKey) ([]GridEntry, error) {
	dbKey := (keycodec.GridKey{PhraseID: key.PhraseID, LangSet: key.LangSet}).Encode(keycodec.TypeMarkerEntry)
	raw, err := g.kv.Get(dbKey)
	if err != nil {
		return nil, fmt.Errorf("gridstore: get: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	scores, err := record.DecodePhraseRecord(raw)
	if err != nil {
		return nil, &ErrCorruptRecord{Key: dbKey, Reason: err.Error()}
	}
	return flattenRelevScores(scores), nil
}

// MatchingGridEntry is one entry returned by GetMatching, tagged with
// whether the language of the key it came from overlapped the query's.
type MatchingGridEntry struct {
	GridEntry
	MatchesLanguage bool
}

// reprojectCoord rescales a tile coordinate from fromZoom to toZoom.
func reprojectCoord(v uint16, fromZoom, toZoom uint16) uint16 {
	if toZoom >= fromZoom {
		return v << (toZoom - fromZoom)
	}
	return v >> (fromZoom - toZoom)
}

func bboxContains(bbox [4]uint16, x, y uint16, storeZoom, queryZoom uint16) bool {
	px := reprojectCoord(x, storeZoom, queryZoom)
	py := reprojectCoord(y, storeZoom, queryZoom)
	return px >= bbox[0] && px <= bbox[2] && py >= bbox[1] && py <= bbox[3]
}

// GetMatching performs a forward range scan starting at matchKey's start
// key, for as long as matchKey.MatchesKey keeps returning true, decoding
// every record along the way. Results whose key's language set overlaps
// matchKey's are returned first, in scan order, followed by the ones that
// don't — the caller applies the cross-language penalty based on
// MatchesLanguage rather than this method re-sorting by it. When
// opts.BBox is set, coordinates outside it (after reprojecting from this
// store's zoom to opts.Zoom) are dropped via an R-tree query over the
// scan's results, so the matching/mismatching partition is preserved but
// the order within each partition is no longer guaranteed to be scan order.
//
// When matchKey spans a whole number of ≥1024-wide prefix-cache groups
// (keycodec.MatchKey.UsesPrefixCache), the scan reads the merged type-1
// group records instead of every individual type-0 record underneath them.
func (g *GridStore) GetMatching(matchKey MatchKey, opts MatchOpts) ([]MatchingGridEntry, error) {
	mk := keycodec.MatchKey{Phrase: matchKey.Phrase, LangSet: matchKey.LangSet}
	it := g.kv.NewIterator(kv.IterOptions{})
	defer it.Close()

	queryZoom := opts.Zoom
	if queryZoom == 0 {
		queryZoom = g.zoom
	}

	typeMarker := keycodec.TypeMarkerEntry
	if mk.UsesPrefixCache() {
		typeMarker = keycodec.TypeMarkerPrefixCache
	}

	var all []MatchingGridEntry
	it.Seek(mk.StartKey(typeMarker))
	for ; it.Valid(); it.Next() {
		key := it.Key()
		gotMarker, gk, err := keycodec.Decode(key)
		if err != nil {
			return nil, fmt.Errorf("gridstore: get_matching: %w", err)
		}
		if gotMarker != typeMarker || !mk.MatchesKey(key) {
			break
		}
		raw, err := it.Value()
		if err != nil {
			return nil, fmt.Errorf("gridstore: get_matching: %w", err)
		}
		scores, err := record.DecodePhraseRecord(raw)
		if err != nil {
			return nil, &ErrCorruptRecord{Key: key, Reason: err.Error()}
		}
		matchesLang := mk.MatchesLanguage(gk.LangSet)
		for _, e := range flattenRelevScores(scores) {
			all = append(all, MatchingGridEntry{GridEntry: e, MatchesLanguage: matchesLang})
		}
	}

	if opts.BBox != nil {
		all = queryBBox(buildEntryIndex(all), *opts.BBox, g.zoom, queryZoom)
	}

	var matching, mismatching []MatchingGridEntry
	for _, me := range all {
		if me.MatchesLanguage {
			matching = append(matching, me)
		} else {
			mismatching = append(mismatching, me)
		}
	}
	return append(matching, mismatching...), nil
}

// Keys returns every GridKey written under a regular (non-prefix-cache)
// entry.
func (g *GridStore) Keys() ([]GridKey, error) {
	it := g.kv.NewIterator(kv.IterOptions{Prefix: []byte{keycodec.TypeMarkerEntry}})
	defer it.Close()

	var out []GridKey
	it.Seek([]byte{keycodec.TypeMarkerEntry})
	for ; it.Valid(); it.Next() {
		_, gk, err := keycodec.Decode(it.Key())
		if err != nil {
			return nil, fmt.Errorf("gridstore: keys: %w", err)
		}
		out = append(out, GridKey{PhraseID: gk.PhraseID, LangSet: gk.LangSet})
	}
	return out, nil
}
