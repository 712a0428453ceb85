package gridstore

import (
	"fmt"
	"sort"

	"github.com/tilegrid/gridstore/internal/keycodec"
	"github.com/tilegrid/gridstore/internal/morton"
	"github.com/tilegrid/gridstore/internal/record"
)

// builderEntry accumulates the grid entries for one GridKey, grouped by
// packed relev/score byte, then by Morton-interleaved (x, y), then by the
// (id<<8)|source_phrase_hash values seen at that cell.
type builderEntry map[uint8]map[uint32][]uint32

func newBuilderEntry() builderEntry { return builderEntry{} }

func (be builderEntry) extend(entries []GridEntry) {
	for _, e := range entries {
		packed := (e.RelevBits << 4) | (e.Score & 0x0f)
		cell := morton.Interleave(e.X, e.Y)
		idVal := (e.ID << 8) | uint32(e.SourcePhraseHash)
		m, ok := be[packed]
		if !ok {
			m = map[uint32][]uint32{}
			be[packed] = m
		}
		m[cell] = append(m[cell], idVal)
	}
}

func mergeBuilderEntries(dst, src builderEntry) {
	for packed, coords := range src {
		dm, ok := dst[packed]
		if !ok {
			dm = map[uint32][]uint32{}
			dst[packed] = dm
		}
		for cell, ids := range coords {
			dm[cell] = append(dm[cell], ids...)
		}
	}
}

// dedupDescendingIDs sorts ids highest-first and drops duplicates, which
// is how the reader's id-descending tie-break expects a cell's id list to
// already be ordered on disk.
func dedupDescendingIDs(ids []uint32) []uint32 {
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	out := ids[:0]
	var prev uint32
	for i, id := range ids {
		if i == 0 || id != prev {
			out = append(out, id)
		}
		prev = id
	}
	return out
}

// relevScores flattens be into the sorted RelevScore list a PhraseRecord
// stores: relev/score buckets descending, coords within a bucket sorted
// ascending by Morton value, ids within a coord sorted descending.
func (be builderEntry) relevScores() []record.RelevScore {
	packedKeys := make([]int, 0, len(be))
	for k := range be {
		packedKeys = append(packedKeys, int(k))
	}
	sort.Sort(sort.Reverse(sort.IntSlice(packedKeys)))

	out := make([]record.RelevScore, 0, len(packedKeys))
	for _, pk := range packedKeys {
		packed := uint8(pk)
		coordsByCell := be[packed]
		cells := make([]uint32, 0, len(coordsByCell))
		for cell := range coordsByCell {
			cells = append(cells, cell)
		}
		sort.Slice(cells, func(i, j int) bool { return cells[i] < cells[j] })

		coords := make([]record.Coord, 0, len(cells))
		for _, cell := range cells {
			x, y := morton.Deinterleave(cell)
			coords = append(coords, record.Coord{
				X:   x,
				Y:   y,
				IDs: dedupDescendingIDs(coordsByCell[cell]),
			})
		}
		out = append(out, record.RelevScore{
			RelevBits: packed >> 4,
			Score:     packed & 0x0f,
			Coords:    coords,
		})
	}
	return out
}

// Builder accumulates phrase/language grid entries in memory and writes
// them into an ordered KV store when Finish is called. A Builder is not
// safe for concurrent use: exactly one goroutine owns it for its whole
// insert/append/renumber/finish lifecycle.
type Builder struct {
	entries       map[GridKey]builderEntry
	phraseIDs     map[uint32]struct{}
	binBoundaries []uint32
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		entries:   make(map[GridKey]builderEntry),
		phraseIDs: make(map[uint32]struct{}),
	}
}

func (b *Builder) track(key GridKey) builderEntry {
	b.phraseIDs[key.PhraseID] = struct{}{}
	be, ok := b.entries[key]
	if !ok {
		be = newBuilderEntry()
		b.entries[key] = be
	}
	return be
}

// Insert replaces any existing entries for key with entries.
func (b *Builder) Insert(key GridKey, entries []GridEntry) {
	b.phraseIDs[key.PhraseID] = struct{}{}
	be := newBuilderEntry()
	be.extend(entries)
	b.entries[key] = be
}

// Append adds entries to whatever is already stored under key, creating it
// if this is the first time key has been seen.
func (b *Builder) Append(key GridKey, entries []GridEntry) {
	b.track(key).extend(entries)
}

// CompactAppend builds one GridEntry per coordinate in coords, all sharing
// relev/score/id/sourcePhraseHash, and appends them. It exists so a bulk
// loader covering many tiles for one feature doesn't need to allocate a
// GridEntry slice itself.
func (b *Builder) CompactAppend(key GridKey, relev float64, score uint8, id uint32, sourcePhraseHash uint8, coords [][2]uint16) {
	relevBits := RelevFloatToInt(relev)
	entries := make([]GridEntry, 0, len(coords))
	for _, c := range coords {
		entries = append(entries, GridEntry{
			RelevBits:        relevBits,
			Score:            score,
			X:                c[0],
			Y:                c[1],
			ID:               id,
			SourcePhraseHash: sourcePhraseHash,
		})
	}
	b.Append(key, entries)
}

// LoadBinBoundaries records phrase-id bin boundaries produced by an
// upstream indexing pass; it is stored verbatim for callers building a
// Renumber mapping and otherwise left uninterpreted.
func (b *Builder) LoadBinBoundaries(boundaries []uint32) {
	b.binBoundaries = append([]uint32(nil), boundaries...)
}

// BinBoundaries returns the bin boundaries passed to LoadBinBoundaries.
func (b *Builder) BinBoundaries() []uint32 {
	return append([]uint32(nil), b.binBoundaries...)
}

// Renumber rewrites every entry's phrase id through mapping (temporary id
// -> final id). A temporary id absent from mapping is left unchanged. It
// fails if mapping assigns the same final id to two different temporary
// ids, or references a temporary id that was never inserted or appended.
func (b *Builder) Renumber(mapping map[uint32]uint32) error {
	seenTargets := make(map[uint32]uint32, len(mapping))
	for tmp, target := range mapping {
		if _, ok := b.phraseIDs[tmp]; !ok {
			return &ErrOutOfBoundsRenumberEntry{TmpID: tmp}
		}
		if other, exists := seenTargets[target]; exists && other != tmp {
			return &ErrDuplicateRenumberEntry{Target: target}
		}
		seenTargets[target] = tmp
	}

	renumbered := make(map[GridKey]builderEntry, len(b.entries))
	phraseIDs := make(map[uint32]struct{}, len(b.phraseIDs))
	for gk, be := range b.entries {
		newID := gk.PhraseID
		if target, ok := mapping[gk.PhraseID]; ok {
			newID = target
		}
		newKey := GridKey{PhraseID: newID, LangSet: gk.LangSet}
		phraseIDs[newID] = struct{}{}
		if existing, ok := renumbered[newKey]; ok {
			mergeBuilderEntries(existing, be)
		} else {
			renumbered[newKey] = be
		}
	}
	b.entries = renumbered
	b.phraseIDs = phraseIDs
	return nil
}

// Finish writes every accumulated entry to store as a type-0 record keyed
// by (phrase id, lang set), then writes one merged type-1 "prefix cache"
// record per (1024-wide phrase id group, lang set) — the union of every
// regular record in that group — and finally asks store to compact fully.
// store must already be open for writing (see OpenForBuild).
func (b *Builder) Finish(store *GridStore) error {
	type groupKey struct {
		group uint32
		lang  LangSet
	}
	merged := make(map[groupKey]builderEntry)

	batch := store.kv.Batch()
	for gk, be := range b.entries {
		scores := be.relevScores()
		buf := record.EncodePhraseRecord(scores)
		key := (keycodec.GridKey{PhraseID: gk.PhraseID, LangSet: gk.LangSet}).Encode(keycodec.TypeMarkerEntry)
		if err := batch.Set(key, buf); err != nil {
			batch.Cancel()
			return fmt.Errorf("gridstore: finish: writing entry for phrase %d: %w", gk.PhraseID, err)
		}

		gkey := groupKey{group: keycodec.PrefixGroup(gk.PhraseID), lang: gk.LangSet}
		dst, ok := merged[gkey]
		if !ok {
			dst = newBuilderEntry()
			merged[gkey] = dst
		}
		mergeBuilderEntries(dst, be)
	}

	for gkey, be := range merged {
		scores := be.relevScores()
		buf := record.EncodePhraseRecord(scores)
		key := (keycodec.GridKey{PhraseID: gkey.group, LangSet: gkey.lang}).Encode(keycodec.TypeMarkerPrefixCache)
		if err := batch.Set(key, buf); err != nil {
			batch.Cancel()
			return fmt.Errorf("gridstore: finish: writing prefix cache for group %d: %w", gkey.group, err)
		}
	}

	if err := batch.Commit(); err != nil {
		return fmt.Errorf("gridstore: finish: committing batch: %w", err)
	}
	if err := store.kv.Flatten(); err != nil {
		return fmt.Errorf("gridstore: finish: compacting: %w", err)
	}
	return nil
}
