package gridstore_test

import (
	"testing"

	"github.com/tilegrid/gridstore/pkg/gridstore"
)

// buildStore builds a single-key store containing entries, at the given
// zoom/idx/radius, ready for reads.
func buildStore(t *testing.T, zoom, idx uint16, radius float64, key gridstore.GridKey, entries []gridstore.GridEntry) *gridstore.GridStore {
	t.Helper()
	b := gridstore.NewBuilder()
	b.Insert(key, entries)
	store, err := gridstore.OpenForBuild("", zoom, idx, radius)
	if err != nil {
		t.Fatalf("OpenForBuild: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := b.Finish(store); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return store
}

// TestCoalesceSingleProximityQuadrants mirrors the four-quadrant proximity
// scenario: four equally-relevant, equally-scored entries sit at the
// corners of a square, and the proximity point is placed on the southwest
// corner; the context nearest the point must rank first.
func TestCoalesceSingleProximityQuadrants(t *testing.T) {
	key := gridstore.GridKey{PhraseID: 1, LangSet: gridstore.AllLanguages}
	entries := []gridstore.GridEntry{
		{RelevBits: 3, Score: 1, X: 200, Y: 200, ID: 1}, // northeast
		{RelevBits: 3, Score: 1, X: 200, Y: 0, ID: 2},   // southeast
		{RelevBits: 3, Score: 1, X: 0, Y: 0, ID: 3},     // southwest
		{RelevBits: 3, Score: 1, X: 0, Y: 200, ID: 4},   // northwest
	}
	store := buildStore(t, 14, 1, 200, key, entries)

	sq := gridstore.PhrasematchSubquery{
		Store:     store,
		Idx:       1,
		Zoom:      14,
		Weight:    1,
		Mask:      1,
		MatchKeys: []gridstore.MatchKeyWithID{{ID: 0, Key: gridstore.MatchKey{Phrase: gridstore.RangePhrase(1, 3), LangSet: gridstore.AllLanguages}}},
	}

	opts := gridstore.MatchOpts{
		Zoom:      14,
		Proximity: &gridstore.Proximity{Point: [2]uint16{0, 0}, Radius: 200},
	}

	got, err := gridstore.Coalesce([]gridstore.PhrasematchSubquery{sq}, opts)
	if err != nil {
		t.Fatalf("Coalesce: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("expected at least one context")
	}
	if got[0].Entries[0].ID != 3 {
		t.Errorf("expected the entry nearest the proximity point (id 3, at origin) to rank first, got id %d", got[0].Entries[0].ID)
	}
}

// TestCoalesceSingleDedupesByTmpID ensures repeated MatchKeys referencing
// the same underlying entries don't produce duplicate contexts.
func TestCoalesceSingleDedupesByTmpID(t *testing.T) {
	key := gridstore.GridKey{PhraseID: 5, LangSet: gridstore.AllLanguages}
	entries := []gridstore.GridEntry{{RelevBits: 3, Score: 1, X: 1, Y: 1, ID: 7}}
	store := buildStore(t, 6, 0, 0, key, entries)

	sq := gridstore.PhrasematchSubquery{
		Store:  store,
		Idx:    0,
		Zoom:   6,
		Weight: 1,
		Mask:   1,
		MatchKeys: []gridstore.MatchKeyWithID{
			{ID: 0, Key: gridstore.MatchKey{Phrase: gridstore.ExactPhrase(5), LangSet: gridstore.AllLanguages}},
			{ID: 1, Key: gridstore.MatchKey{Phrase: gridstore.RangePhrase(5, 6), LangSet: gridstore.AllLanguages}},
		},
	}

	got, err := gridstore.Coalesce([]gridstore.PhrasematchSubquery{sq}, gridstore.MatchOpts{Zoom: 6})
	if err != nil {
		t.Fatalf("Coalesce: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected duplicate tmp ids across match keys to collapse to 1 context, got %d", len(got))
	}
}

// TestCoalesceAppliesCrossLanguagePenalty checks that an entry whose
// language doesn't overlap the query, and that proximity doesn't pull
// within radius, has its relevance scaled by the cross-language penalty.
func TestCoalesceAppliesCrossLanguagePenalty(t *testing.T) {
	en := gridstore.LangSet{}.WithLang(1)
	fr := gridstore.LangSet{}.WithLang(2)

	key := gridstore.GridKey{PhraseID: 9, LangSet: en}
	entries := []gridstore.GridEntry{{RelevBits: 3, Score: 1, X: 500, Y: 500, ID: 1}}
	store := buildStore(t, 14, 0, 10, key, entries)

	sq := gridstore.PhrasematchSubquery{
		Store:     store,
		Idx:       0,
		Zoom:      14,
		Weight:    1,
		Mask:      1,
		MatchKeys: []gridstore.MatchKeyWithID{{ID: 0, Key: gridstore.MatchKey{Phrase: gridstore.ExactPhrase(9), LangSet: fr}}},
	}

	opts := gridstore.MatchOpts{
		Zoom:      14,
		Proximity: &gridstore.Proximity{Point: [2]uint16{0, 0}, Radius: 10},
	}

	got, err := gridstore.Coalesce([]gridstore.PhrasematchSubquery{sq}, opts)
	if err != nil {
		t.Fatalf("Coalesce: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 context, got %d", len(got))
	}
	want := 1.0 * 0.96
	if got[0].Relev != want {
		t.Errorf("expected cross-language penalty applied: relev = %v, want %v", got[0].Relev, want)
	}
}

// TestCoalesceMultiDistinctChildCellsProduceSeparateContexts mirrors the
// oracle's coalesce_multi scenario where two child-layer entries project to
// the same parent-layer cell: they must stay two separate contexts, each
// pairing its own child entry with the shared parent entry, not collapse
// into one.
func TestCoalesceMultiDistinctChildCellsProduceSeparateContexts(t *testing.T) {
	parentKey := gridstore.GridKey{PhraseID: 1, LangSet: gridstore.AllLanguages}
	parentStore := buildStore(t, 0, 0, 0, parentKey, []gridstore.GridEntry{
		{RelevBits: 3, Score: 1, X: 0, Y: 0, ID: 1},
	})

	childKey := gridstore.GridKey{PhraseID: 2, LangSet: gridstore.AllLanguages}
	childStore := buildStore(t, 14, 1, 0, childKey, []gridstore.GridEntry{
		{RelevBits: 3, Score: 7, X: 4800, Y: 6200, ID: 2},
		{RelevBits: 3, Score: 1, X: 4600, Y: 6200, ID: 3},
	})

	parentSQ := gridstore.PhrasematchSubquery{
		Store:     parentStore,
		Idx:       0,
		Zoom:      0,
		Weight:    0.5,
		Mask:      1 << 1,
		MatchKeys: []gridstore.MatchKeyWithID{{ID: 0, Key: gridstore.MatchKey{Phrase: gridstore.RangePhrase(1, 3), LangSet: gridstore.AllLanguages}}},
	}
	childSQ := gridstore.PhrasematchSubquery{
		Store:     childStore,
		Idx:       1,
		Zoom:      14,
		Weight:    0.5,
		Mask:      1 << 0,
		MatchKeys: []gridstore.MatchKeyWithID{{ID: 0, Key: gridstore.MatchKey{Phrase: gridstore.RangePhrase(1, 3), LangSet: gridstore.AllLanguages}}},
	}

	got, err := gridstore.Coalesce([]gridstore.PhrasematchSubquery{parentSQ, childSQ}, gridstore.MatchOpts{Zoom: 14})
	if err != nil {
		t.Fatalf("Coalesce: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 distinct contexts (one per child cell), got %d", len(got))
	}

	childIDs := make(map[uint32]bool)
	for _, ctx := range got {
		if len(ctx.Entries) != 2 {
			t.Fatalf("expected each context to pair the child entry with the shared parent entry, got %d entries", len(ctx.Entries))
		}
		var sawParent bool
		for _, e := range ctx.Entries {
			if e.Idx == 0 {
				sawParent = true
				if e.ID != 1 {
					t.Errorf("expected the parent entry to be id 1, got %d", e.ID)
				}
			} else {
				childIDs[e.ID] = true
			}
		}
		if !sawParent {
			t.Error("expected every context to include the shared parent entry")
		}
	}
	if !childIDs[2] || !childIDs[3] {
		t.Errorf("expected both child entries (id 2 and id 3) to each anchor their own context, got %v", childIDs)
	}
}

// TestCoalesceMultiPicksBestByScoredistNotRelev checks that when a layer has
// two entries tied on relev at the same covering cell, the one kept is the
// one with the higher scoredist, not whichever happened to sort first by
// relev.
func TestCoalesceMultiPicksBestByScoredistNotRelev(t *testing.T) {
	layerAKey := gridstore.GridKey{PhraseID: 1, LangSet: gridstore.AllLanguages}
	layerAStore := buildStore(t, 5, 0, 0, layerAKey, []gridstore.GridEntry{
		{RelevBits: 3, Score: 2, X: 0, Y: 0, ID: 10},
		{RelevBits: 3, Score: 9, X: 0, Y: 0, ID: 11},
	})

	layerBKey := gridstore.GridKey{PhraseID: 2, LangSet: gridstore.AllLanguages}
	layerBStore := buildStore(t, 5, 1, 0, layerBKey, []gridstore.GridEntry{
		{RelevBits: 3, Score: 1, X: 0, Y: 0, ID: 20},
	})

	sqA := gridstore.PhrasematchSubquery{
		Store:     layerAStore,
		Idx:       0,
		Zoom:      5,
		Weight:    0.5,
		Mask:      1 << 1,
		MatchKeys: []gridstore.MatchKeyWithID{{ID: 0, Key: gridstore.MatchKey{Phrase: gridstore.ExactPhrase(1), LangSet: gridstore.AllLanguages}}},
	}
	sqB := gridstore.PhrasematchSubquery{
		Store:     layerBStore,
		Idx:       1,
		Zoom:      5,
		Weight:    0.5,
		Mask:      1 << 0,
		MatchKeys: []gridstore.MatchKeyWithID{{ID: 0, Key: gridstore.MatchKey{Phrase: gridstore.ExactPhrase(2), LangSet: gridstore.AllLanguages}}},
	}

	got, err := gridstore.Coalesce([]gridstore.PhrasematchSubquery{sqA, sqB}, gridstore.MatchOpts{Zoom: 5})
	if err != nil {
		t.Fatalf("Coalesce: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected exactly 1 context, got %d", len(got))
	}
	var gotLayerA bool
	for _, e := range got[0].Entries {
		if e.Idx == 0 {
			gotLayerA = true
			if e.ID != 11 {
				t.Errorf("expected the higher-scoredist entry (id 11, score 9) to win over the tied-relev id 10 (score 2), got id %d", e.ID)
			}
		}
	}
	if !gotLayerA {
		t.Fatal("expected layer A to contribute an entry")
	}
}
