package gridstore

import "github.com/tilegrid/gridstore/internal/record"

// RelevFloatToInt quantizes a relevance score into the 2-bit bucket the
// wire format stores it as.
func RelevFloatToInt(relev float64) uint8 { return record.RelevFloatToInt(relev) }

// RelevIntToFloat is the inverse of RelevFloatToInt.
func RelevIntToFloat(bits uint8) float64 { return record.RelevIntToFloat(bits) }
