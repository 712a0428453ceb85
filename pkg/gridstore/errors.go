package gridstore

import "fmt"

// ErrDuplicateRenumberEntry reports that a renumber mapping assigned the
// same target phrase id to more than one source id.
type ErrDuplicateRenumberEntry struct {
	Target uint32
}

func (e *ErrDuplicateRenumberEntry) Error() string {
	return fmt.Sprintf("gridstore: renumber mapping assigns target phrase id %d more than once", e.Target)
}

// ErrOutOfBoundsRenumberEntry reports that renumber was asked to rewrite a
// temporary phrase id that was never inserted.
type ErrOutOfBoundsRenumberEntry struct {
	TmpID uint32
}

func (e *ErrOutOfBoundsRenumberEntry) Error() string {
	return fmt.Sprintf("gridstore: renumber mapping references unknown temporary phrase id %d", e.TmpID)
}

// ErrCorruptRecord reports that a value read back from the KV store could
// not be decoded as a phrase record.
type ErrCorruptRecord struct {
	Key    []byte
	Reason string
}

func (e *ErrCorruptRecord) Error() string {
	return fmt.Sprintf("gridstore: corrupt record for key %x: %s", e.Key, e.Reason)
}

// ErrLayerIndexOverflow reports a layer index too large to pack into the
// tmp_id used for de-duplication during coalesce (idx<<25 | id must fit in
// a uint32, so idx must be less than 128).
type ErrLayerIndexOverflow struct {
	Idx uint16
}

func (e *ErrLayerIndexOverflow) Error() string {
	return fmt.Sprintf("gridstore: layer index %d does not fit the 7 bits coalesce packs tmp ids with", e.Idx)
}
