package record_test

import (
	"reflect"
	"testing"

	"github.com/tilegrid/gridstore/internal/record"
)

func TestPhraseRecordRoundTrip(t *testing.T) {
	scores := []record.RelevScore{
		{
			RelevBits: 3,
			Score:     7,
			Coords: []record.Coord{
				{X: 1, Y: 1, IDs: []uint32{258, 512}},
				{X: 0, Y: 0, IDs: []uint32{1}},
			},
		},
		{
			RelevBits: 1,
			Score:     2,
			Coords: []record.Coord{
				{X: 200, Y: 0, IDs: []uint32{9}},
			},
		},
	}

	buf := record.EncodePhraseRecord(scores)
	got, err := record.DecodePhraseRecord(buf)
	if err != nil {
		t.Fatalf("DecodePhraseRecord: %v", err)
	}
	if !reflect.DeepEqual(got, scores) {
		t.Fatalf("round trip mismatch:\n got  %#v\n want %#v", got, scores)
	}
}

func TestRelevScorePacking(t *testing.T) {
	rs := record.RelevScore{RelevBits: 3, Score: 7}
	buf := record.EncodePhraseRecord([]record.RelevScore{rs})
	// first payload byte after the var-vec length (1 element => 1-byte
	// varint) is the packed relev/score byte: (3<<4)|7 = 0x37 = 55.
	if buf[1] != 55 {
		t.Errorf("packed relev/score byte = %d, want 55", buf[1])
	}
}

func TestCoordUniformVecPadding(t *testing.T) {
	scores := []record.RelevScore{{
		RelevBits: 0,
		Score:     0,
		Coords: []record.Coord{
			{X: 5, Y: 5, IDs: []uint32{1, 2, 3}},
			{X: 1, Y: 1, IDs: nil},
		},
	}}
	buf := record.EncodePhraseRecord(scores)
	got, err := record.DecodePhraseRecord(buf)
	if err != nil {
		t.Fatalf("DecodePhraseRecord: %v", err)
	}
	if len(got[0].Coords) != 2 {
		t.Fatalf("expected 2 coords back, got %d", len(got[0].Coords))
	}
	if len(got[0].Coords[0].IDs) != 3 {
		t.Errorf("expected first coord to keep 3 ids, got %d", len(got[0].Coords[0].IDs))
	}
	if len(got[0].Coords[1].IDs) != 0 {
		t.Errorf("expected second (padded) coord to have 0 ids, got %d", len(got[0].Coords[1].IDs))
	}
}

func TestRelevFloatIntRoundTrip(t *testing.T) {
	for _, f := range []float64{0.4, 0.6, 0.8, 1.0} {
		bits := record.RelevFloatToInt(f)
		if got := record.RelevIntToFloat(bits); got != f {
			t.Errorf("RelevFloatToInt(%v)=%d -> RelevIntToFloat = %v", f, bits, got)
		}
	}
}
