package gridstore_test

import (
	"testing"

	"github.com/tilegrid/gridstore/pkg/gridstore"
)

func TestStackableExcludesOverlappingMasks(t *testing.T) {
	layers := [][]gridstore.PhrasematchResults{
		{{Idx: 0, Zoom: 6, ScoreFactor: 1.0, Mask: 0b01, NMask: 0}},
		{
			{Idx: 1, Zoom: 6, ScoreFactor: 1.0, Mask: 0b01, NMask: 0}, // conflicts on Mask
			{Idx: 1, Zoom: 6, ScoreFactor: 0.9, Mask: 0b10, NMask: 0},
		},
	}
	roots := gridstore.Stackable(layers, 0)
	leaves := gridstore.Leaves(roots)

	for _, stack := range leaves {
		seenMask := uint32(0)
		for _, p := range stack {
			if seenMask&p.Mask != 0 {
				t.Fatalf("stack contains overlapping masks: %+v", stack)
			}
			seenMask |= p.Mask
		}
	}

	foundTwoDeep := false
	for _, stack := range leaves {
		if len(stack) == 2 {
			foundTwoDeep = true
			if stack[1].Mask != 0b10 {
				t.Errorf("expected the non-conflicting second-layer candidate, got mask %b", stack[1].Mask)
			}
		}
	}
	if !foundTwoDeep {
		t.Error("expected at least one 2-deep legal stack")
	}
}

func TestStackableRespectsZoomCeiling(t *testing.T) {
	layers := [][]gridstore.PhrasematchResults{
		{{Idx: 0, Zoom: 200, ScoreFactor: 1.0}},
	}
	roots := gridstore.Stackable(layers, 50)
	leaves := gridstore.Leaves(roots)
	if len(leaves) != 0 {
		t.Errorf("expected candidates above the zoom ceiling to be excluded, got %d leaves", len(leaves))
	}
}

func TestStackableExcludesSharedBMaskTag(t *testing.T) {
	layers := [][]gridstore.PhrasematchResults{
		{{Idx: 0, Zoom: 6, ScoreFactor: 1.0, BMask: 7}},
		{{Idx: 1, Zoom: 6, ScoreFactor: 1.0, BMask: 7}},
	}
	roots := gridstore.Stackable(layers, 0)
	leaves := gridstore.Leaves(roots)
	for _, stack := range leaves {
		if len(stack) == 2 {
			t.Fatalf("expected candidates sharing a BMask tag never to co-occur, got %+v", stack)
		}
	}
}
