// Package runtime provides the gridstore table store runtime and the
// introspection facade the metrics collector scrapes. The facade exposes
// point-in-time facts only: held locks, the lock wait queue, transaction
// counters, and per-table storage statistics. Nothing is cached between
// reads; every call reflects the live runtime.
package runtime

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// LockType identifies the mode of a table lock.
type LockType string

const (
	LockRead  LockType = "read"
	LockWrite LockType = "write"
)

// HeldLock describes one granted lock at the moment of introspection.
// WholeTable marks the table-wide lock sentinel; Key is meaningful only
// for single-record locks.
type HeldLock struct {
	Entity     string
	Key        string
	WholeTable bool
	Type       LockType
	Owner      uuid.UUID
	GrantedAt  time.Time
}

// QueuedLock describes one lock request waiting behind a conflicting holder.
type QueuedLock struct {
	Table      string
	Key        string
	Type       LockType
	Owner      uuid.UUID
	EnqueuedAt time.Time
}

// TxCounters holds the cumulative transaction counters. All four are
// monotonically non-decreasing within the runtime's lifetime.
type TxCounters struct {
	Failures  uint64
	Commits   uint64
	LogWrites uint64
	Restarts  uint64
}

// TableStats is a point-in-time snapshot of one table's storage accounting.
// Available is false while the table is registered but not yet loaded
// locally; callers normalize that to zero rather than treating it as an
// error, so per-table series stay complete.
type TableStats struct {
	Name        string
	MemoryWords int64
	Size        int64
	Available   bool
}

// Introspector is the read-only view of the runtime the collector consumes.
// Implementations must be safe for concurrent use; scrapes may overlap.
type Introspector interface {
	// Running reports whether the table store subsystem is active. When it
	// returns false every other accessor may return empty results.
	Running() bool

	// HeldLocks returns all currently granted locks.
	HeldLocks() []HeldLock

	// LockQueue returns all lock requests currently waiting.
	LockQueue() []QueuedLock

	// TransactionPeers returns the current participant and coordinator
	// counts in a single call so callers pay for one lock acquisition.
	TransactionPeers() (participants, coordinators int)

	// Counters returns the cumulative transaction counters.
	Counters() TxCounters

	// Tables returns the names of all registered tables, loaded or not.
	Tables() []string

	// TableMemoryWords returns a table's storage footprint in machine
	// words. The second return is false when the statistic is unavailable
	// (table registered but not loaded locally).
	TableMemoryWords(table string) (int64, bool)

	// TableSize returns a table's row count, with the same availability
	// convention as TableMemoryWords.
	TableSize(table string) (int64, bool)

	// WordSize returns the machine word size in bytes used to convert
	// word-denominated storage statistics to bytes.
	WordSize() int
}

// NativeWordSize is the machine word size of the running process in bytes.
const NativeWordSize = strconv.IntSize / 8
