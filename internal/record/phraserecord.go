package record

import (
	"encoding/binary"
	"fmt"

	"github.com/tilegrid/gridstore/internal/morton"
)

// Coord is one grid cell's worth of matching feature ids: an (x, y) tile
// coordinate packed as a Morton/Z-order value, and the ids that matched at
// that cell. Each id is (feature_id<<8)|source_phrase_hash; the builder
// writes them sorted descending with duplicates removed.
type Coord struct {
	X, Y uint16
	IDs  []uint32
}

func (c Coord) packed() uint32 { return morton.Interleave(c.X, c.Y) }

var idCodec = Uint32Codec{}

// NaturalSize implements UniformCodec for Coord.
func (c Coord) NaturalSize(v Coord) int {
	hdr := binary.AppendUvarint(nil, uint64(len(v.IDs)))
	return 4 + len(hdr) + 4*len(v.IDs)
}

// EncodeWithSize implements UniformCodec for Coord: the packed coordinate
// always fits, the id list is truncated if the slot is too small for all of
// it and the remainder is zero-padded.
func (c Coord) EncodeWithSize(v Coord, size int) []byte {
	ids := v.IDs
	var hdr []byte
	for {
		hdr = binary.AppendUvarint(nil, uint64(len(ids)))
		remaining := size - 4 - len(hdr)
		if remaining < 0 {
			remaining = 0
		}
		maxIDs := remaining / 4
		if len(ids) > maxIDs {
			ids = ids[:maxIDs]
			continue
		}
		break
	}
	out := make([]byte, 0, size)
	out = binary.LittleEndian.AppendUint32(out, v.packed())
	out = append(out, hdr...)
	for _, id := range ids {
		out = append(out, idCodec.Encode(id)...)
	}
	for len(out) < size {
		out = append(out, 0)
	}
	return out
}

// Decode implements UniformCodec for Coord.
func (c Coord) Decode(b []byte) (Coord, error) {
	if len(b) < 4 {
		return Coord{}, fmt.Errorf("record: short coord (%d bytes)", len(b))
	}
	x, y := morton.Deinterleave(binary.LittleEndian.Uint32(b[:4]))
	n, nb := binary.Uvarint(b[4:])
	if nb <= 0 {
		return Coord{}, fmt.Errorf("record: invalid coord id-list length")
	}
	pos := 4 + nb
	avail := (len(b) - pos) / 4
	count := int(n)
	if count > avail {
		count = avail
	}
	ids := make([]uint32, count)
	for i := 0; i < count; i++ {
		ids[i] = binary.LittleEndian.Uint32(b[pos : pos+4])
		pos += 4
	}
	return Coord{X: x, Y: y, IDs: ids}, nil
}

// RelevScore groups every grid cell that shares one relevance/score pair.
// RelevBits is the quantized relevance bucket (0-3, see RelevFloatToInt)
// and Score is a 4-bit (0-15) popularity score; both are packed into a
// single byte as (RelevBits<<4)|(Score&0x0f).
type RelevScore struct {
	RelevBits uint8
	Score     uint8
	Coords    []Coord
}

func (r RelevScore) packed() byte { return (r.RelevBits << 4) | (r.Score & 0x0f) }

// relevScoreCodec implements VarCodec[RelevScore]: each element is one
// packed byte followed by an inline UniformVec<Coord>.
type relevScoreCodec struct{}

func (relevScoreCodec) Encode(v RelevScore) []byte {
	out := []byte{v.packed()}
	coordVec, err := EncodeUniformVec[Coord](Coord{}, v.Coords)
	if err != nil {
		// Coord.NaturalSize is bounded by 4 + a small varint + 4*len(IDs);
		// callers are expected to keep id lists far below the 255-byte
		// ceiling this would require violating.
		panic(fmt.Sprintf("record: relev-score coord vector: %v", err))
	}
	return append(out, coordVec...)
}

func (relevScoreCodec) Decode(b []byte) (RelevScore, int, error) {
	if len(b) < 1 {
		return RelevScore{}, 0, fmt.Errorf("record: short relev-score")
	}
	packed := b[0]
	coords, consumed, err := DecodeUniformVec[Coord](Coord{}, b[1:])
	if err != nil {
		return RelevScore{}, 0, err
	}
	return RelevScore{
		RelevBits: packed >> 4,
		Score:     packed & 0x0f,
		Coords:    coords,
	}, 1 + consumed, nil
}

// RelevScoreCodec is the VarCodec for RelevScore values.
var RelevScoreCodec VarCodec[RelevScore] = relevScoreCodec{}

// RelevFloatToInt quantizes a [0,1] relevance score into the 2-bit bucket
// the wire format stores. Unrecognized values fall back to the highest
// bucket, matching the reference encoder.
func RelevFloatToInt(relev float64) uint8 {
	switch relev {
	case 0.4:
		return 0
	case 0.6:
		return 1
	case 0.8:
		return 2
	case 1.0:
		return 3
	default:
		return 3
	}
}

// RelevIntToFloat is the inverse lookup used when decoding.
func RelevIntToFloat(bits uint8) float64 {
	switch bits {
	case 0:
		return 0.4
	case 1:
		return 0.6
	case 2:
		return 0.8
	default:
		return 1.0
	}
}

// EncodePhraseRecord writes the VarVec<RelevScore> payload block and the
// Finish'd record bytes pointing at it.
func EncodePhraseRecord(scores []RelevScore) []byte {
	w := NewWriter()
	offset := w.WriteBlock(EncodeVarVec(RelevScoreCodec, scores))
	return w.Finish(uint32(offset))
}

// DecodePhraseRecord reads back a record written by EncodePhraseRecord.
func DecodePhraseRecord(b []byte) ([]RelevScore, error) {
	r, err := NewReader(b)
	if err != nil {
		return nil, err
	}
	block, err := r.Block(uint64(r.Root()))
	if err != nil {
		return nil, err
	}
	scores, _, err := DecodeVarVec(RelevScoreCodec, block)
	return scores, err
}
