// Package memstore is the authoritative in-memory store for variable
// values.
//
// Every mutation marks its entry dirty and stamps it with a version from a
// logical clock. The persistence pipeline snapshots dirty records, writes
// them, and calls MarkClean, which only succeeds when the version still
// matches. A write that lands while a flush is in flight therefore stays
// dirty for the next cycle.
//
// Reset is modelled as a dirty tombstone; once the delete is persisted the
// tombstone disappears.
package memstore
