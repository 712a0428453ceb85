package morton_test

import (
	"testing"

	"github.com/tilegrid/gridstore/internal/morton"
)

func TestInterleaveRoundTrip(t *testing.T) {
	cases := []struct{ x, y uint16 }{
		{0, 0},
		{1, 1},
		{1, 0},
		{0, 1},
		{200, 200},
		{0xffff, 0xffff},
		{0xffff, 0},
		{12345, 54321},
	}
	for _, c := range cases {
		z := morton.Interleave(c.x, c.y)
		gotX, gotY := morton.Deinterleave(z)
		if gotX != c.x || gotY != c.y {
			t.Errorf("Interleave(%d,%d)=%d Deinterleave -> (%d,%d)", c.x, c.y, z, gotX, gotY)
		}
	}
}

func TestInterleaveKnownValues(t *testing.T) {
	// x:1, y:1 -> 3 (binary 11)
	if z := morton.Interleave(1, 1); z != 3 {
		t.Errorf("Interleave(1,1) = %d, want 3", z)
	}
	if z := morton.Interleave(0, 0); z != 0 {
		t.Errorf("Interleave(0,0) = %d, want 0", z)
	}
}

func TestInterleaveOrderingLocality(t *testing.T) {
	// Points sharing a quadrant should sort together relative to a point
	// in a different quadrant.
	near := morton.Interleave(10, 10)
	sameQuadrant := morton.Interleave(11, 11)
	farQuadrant := morton.Interleave(1000, 1000)
	if diff(near, sameQuadrant) > diff(near, farQuadrant) {
		t.Errorf("expected same-quadrant point to be closer in z-order")
	}
}

func diff(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}
