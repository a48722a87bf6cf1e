// Package mmstats publishes in-process metrics into a memory-mapped file
// that any out-of-process consumer can read without cooperating with the
// producer and without taking locks.
//
// A producer declares named fields on a Builder and constructs a publisher:
//
//	b := mmstats.NewBuilder()
//	errors := b.Counter("web.errors")
//	state := b.String("web.state", 32)
//	b.ProcessInfo()
//	stats, err := b.Create(mmstats.Config{})
//	...
//	errors.Inc()
//	state.Set("serving")
//
// Every update mutates a well-defined region of the mapping. Numeric
// fields wider than one byte and the compound fields are double-buffered:
// a single index byte per field commits the freshly written slot, so a
// concurrent reader observes either the previous or the next value, never
// a torn one. One-byte fields (Int8, Bool) are stored in place. String
// fields are single-slot and also stored in place, so a reader racing a
// string store can observe a mix of old and new bytes.
//
// The file format is one version byte (1) followed by packed field
// records, zero-filled up to the next page multiple. Type signatures are
// short ASCII strings borrowed from struct packing conventions:
//
//	b int8    B uint8    h int16    H uint16
//	i int32   I uint32   q int64    Q uint64
//	f float32 d float64  ? bool     <N>s string of capacity N
//
// The reader package decodes the format; the aggregate package reduces
// many files into per-label summaries.
package mmstats
