// Package gridstore implements a disk-backed, phrase-indexed geospatial
// grid store for a forward geocoder: a builder that accumulates matches
// and writes them into an ordered KV store, a reader that answers
// phrase/language lookups with ranked grid entries, a Coalesce ranker that
// combines several subqueries' results into scored contexts, and a
// Stackable planner that enumerates which combinations of subqueries are
// even legal to combine.
package gridstore

import "github.com/tilegrid/gridstore/internal/keycodec"

// LangSet is a 128-bit language bitmask. AllLanguages and the empty set
// are the two sentinels the wire format special-cases.
type LangSet = keycodec.LangSet

// AllLanguages means "every language accepted", encoded with no lang
// bytes at all.
var AllLanguages = keycodec.AllLanguages

// GridKey identifies one phrase/language bucket in the store.
type GridKey struct {
	PhraseID uint32
	LangSet  LangSet
}

// GridEntry is one matching feature at one grid cell, with its relevance
// and popularity score. RelevBits is the quantized relevance bucket (see
// RelevFloatToInt); X and Y are tile coordinates at the store's zoom.
type GridEntry struct {
	RelevBits        uint8
	Score            uint8
	X, Y             uint16
	ID               uint32
	SourcePhraseHash uint8
}

// Relev decodes this entry's quantized relevance bucket back to a float.
func (e GridEntry) Relev() float64 { return RelevIntToFloat(e.RelevBits) }

// MatchPhraseKind distinguishes a phrase id range scan from an exact
// lookup.
type MatchPhraseKind = keycodec.MatchPhraseKind

const (
	MatchPhraseRange = keycodec.MatchPhraseRange
	MatchPhraseExact = keycodec.MatchPhraseExact
)

// MatchPhrase is either a half-open [Start, End) range of phrase ids or a
// single exact phrase id.
type MatchPhrase = keycodec.MatchPhrase

// RangePhrase builds a MatchPhrase scanning [start, end).
func RangePhrase(start, end uint32) MatchPhrase { return keycodec.RangePhrase(start, end) }

// ExactPhrase builds a MatchPhrase for a single phrase id.
func ExactPhrase(id uint32) MatchPhrase { return keycodec.ExactPhrase(id) }

// MatchKey is a phrase lookup request: a phrase id or range, plus the set
// of languages that should not incur a cross-language penalty.
type MatchKey struct {
	Phrase  MatchPhrase
	LangSet LangSet
}

// MatchKeyWithID pairs a MatchKey with a small integer identifying which
// of a subquery's several candidate keys produced a given result.
type MatchKeyWithID struct {
	ID  uint32
	Key MatchKey
}

// Proximity biases ranking toward grid cells near Point, within Radius
// tiles (see scoredist in coalesce.go). A Radius of 0 uses the store's
// default radius.
type Proximity struct {
	Point  [2]uint16
	Radius float64
}

// MatchOpts configures a Reader lookup: the zoom the caller's tile
// coordinates are expressed in, optional proximity bias, and an optional
// bounding box that skips coordinates outside it.
type MatchOpts struct {
	Zoom      uint16
	Proximity *Proximity
	BBox      *[4]uint16 // minX, minY, maxX, maxY at MatchOpts.Zoom
}

// PhrasematchSubquery is one candidate phrase match against one store: it
// may carry several MatchKeyWithID values (several candidate phrase id
// ranges against the same layer), a layer index, a weight applied to
// every relevance value it contributes, and the set of other layer
// indexes that may never appear in the same stack as this one.
type PhrasematchSubquery struct {
	Store                 *GridStore
	Idx                   uint16
	Zoom                  uint16
	Weight                float64
	MatchKeys             []MatchKeyWithID
	Mask                  uint32
	NonOverlappingIndexes map[uint16]struct{}
}
