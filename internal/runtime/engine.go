package runtime

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/statgrid/gridstore-exporter/internal/errors"
)

// tableState tracks one table's rows and storage accounting. A table that
// has been registered on this node but not yet loaded has loaded == false;
// its statistics read as unavailable until the load completes.
type tableState struct {
	loaded bool
	rows   map[string]int64 // key -> storage words
	words  int64
}

// grantedLock is one entry in the lock table.
type grantedLock struct {
	key       string
	whole     bool
	lockType  LockType
	owner     uuid.UUID
	grantedAt time.Time
}

// waitingLock is one entry in the lock wait queue.
type waitingLock struct {
	table      string
	key        string
	lockType   LockType
	owner      uuid.UUID
	enqueuedAt time.Time
}

// Engine is the embedded gridstore runtime: a concurrency-safe in-memory
// table store with table-level and record-level locking and transaction
// bookkeeping. It implements Introspector.
type Engine struct {
	mu      sync.RWMutex
	running bool
	tables  map[string]*tableState
	held    map[string][]grantedLock // table -> granted locks
	queue   []waitingLock

	participants atomic.Int64
	coordinators atomic.Int64
	failures     atomic.Uint64
	commits      atomic.Uint64
	logWrites    atomic.Uint64
	restarts     atomic.Uint64

	wordSize int
}

var _ Introspector = (*Engine)(nil)

// NewEngine creates a stopped engine. Call Start before use.
func NewEngine() *Engine {
	return &Engine{
		tables:   make(map[string]*tableState),
		held:     make(map[string][]grantedLock),
		wordSize: NativeWordSize,
	}
}

// Start activates the runtime.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = true
}

// Stop deactivates the runtime. Statistics remain in place but the
// introspection facade reports not-running.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = false
}

// Running implements Introspector.
func (e *Engine) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// CreateTable registers and loads a new, empty table.
func (e *Engine) CreateTable(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return errors.ErrNotRunning()
	}
	if _, ok := e.tables[name]; ok {
		return errors.NewRuntimeErrorWithTable(errors.CodeTableExists, "Table already registered", name)
	}
	e.tables[name] = &tableState{loaded: true, rows: make(map[string]int64)}
	return nil
}

// RegisterTable registers a table known to the cluster but not yet loaded
// on this node. Its statistics read as unavailable until LoadTable is
// called, which is the state the collector zero-fills.
func (e *Engine) RegisterTable(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return errors.ErrNotRunning()
	}
	if _, ok := e.tables[name]; ok {
		return errors.NewRuntimeErrorWithTable(errors.CodeTableExists, "Table already registered", name)
	}
	e.tables[name] = &tableState{loaded: false}
	return nil
}

// LoadTable completes a registered table's local load.
func (e *Engine) LoadTable(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tables[name]
	if !ok {
		return errors.ErrTableNotFound(name)
	}
	if !t.loaded {
		t.loaded = true
		t.rows = make(map[string]int64)
	}
	return nil
}

// Insert writes a row with the given storage footprint in words, replacing
// any existing row under the same key.
func (e *Engine) Insert(table, key string, words int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tables[table]
	if !ok {
		return errors.ErrTableNotFound(table)
	}
	if !t.loaded {
		return errors.NewRuntimeErrorWithTable(errors.CodeTableNotFound, "Table is not loaded locally", table)
	}
	if prev, ok := t.rows[key]; ok {
		t.words -= prev
	}
	t.rows[key] = words
	t.words += words
	return nil
}

// Delete removes a row if present.
func (e *Engine) Delete(table, key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tables[table]
	if !ok {
		return errors.ErrTableNotFound(table)
	}
	if words, ok := t.rows[key]; ok {
		t.words -= words
		delete(t.rows, key)
	}
	return nil
}

// conflicts reports whether a requested lock is incompatible with a granted
// one on the same table. Reads share; anything else excludes. A whole-table
// request or holder overlaps every key.
func conflicts(held grantedLock, key string, whole bool, lockType LockType) bool {
	if held.lockType == LockRead && lockType == LockRead {
		return false
	}
	if held.whole || whole {
		return true
	}
	return held.key == key
}

// AcquireLock attempts to take a lock for owner on table. whole requests a
// table-wide lock; otherwise key names a single record. When the request
// conflicts with a granted lock it joins the wait queue and false is
// returned; the caller is expected to retry after ReleaseLocks.
func (e *Engine) AcquireLock(owner uuid.UUID, table, key string, whole bool, lockType LockType) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return false, errors.ErrNotRunning()
	}
	if _, ok := e.tables[table]; !ok {
		return false, errors.ErrTableNotFound(table)
	}
	for _, g := range e.held[table] {
		if g.owner == owner {
			continue
		}
		if conflicts(g, key, whole, lockType) {
			e.queue = append(e.queue, waitingLock{
				table:      table,
				key:        key,
				lockType:   lockType,
				owner:      owner,
				enqueuedAt: time.Now(),
			})
			return false, nil
		}
	}
	e.held[table] = append(e.held[table], grantedLock{
		key:       key,
		whole:     whole,
		lockType:  lockType,
		owner:     owner,
		grantedAt: time.Now(),
	})
	return true, nil
}

// ReleaseLocks drops every lock and queued request held by owner.
func (e *Engine) ReleaseLocks(owner uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for table, locks := range e.held {
		kept := locks[:0]
		for _, g := range locks {
			if g.owner != owner {
				kept = append(kept, g)
			}
		}
		if len(kept) == 0 {
			delete(e.held, table)
		} else {
			e.held[table] = kept
		}
	}
	keptQ := e.queue[:0]
	for _, w := range e.queue {
		if w.owner != owner {
			keptQ = append(keptQ, w)
		}
	}
	e.queue = keptQ
}

// HeldLocks implements Introspector.
func (e *Engine) HeldLocks() []HeldLock {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []HeldLock
	for table, locks := range e.held {
		for _, g := range locks {
			out = append(out, HeldLock{
				Entity:     table,
				Key:        g.key,
				WholeTable: g.whole,
				Type:       g.lockType,
				Owner:      g.owner,
				GrantedAt:  g.grantedAt,
			})
		}
	}
	return out
}

// LockQueue implements Introspector.
func (e *Engine) LockQueue() []QueuedLock {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]QueuedLock, 0, len(e.queue))
	for _, w := range e.queue {
		out = append(out, QueuedLock{
			Table:      w.table,
			Key:        w.key,
			Type:       w.lockType,
			Owner:      w.owner,
			EnqueuedAt: w.enqueuedAt,
		})
	}
	return out
}

// Tx is one open transaction against the engine.
type Tx struct {
	ID          uuid.UUID
	engine      *Engine
	coordinator bool
	done        bool
}

// Begin opens a transaction. coordinator marks this node as the
// transaction's coordinator rather than a plain participant.
func (e *Engine) Begin(coordinator bool) (*Tx, error) {
	e.mu.RLock()
	running := e.running
	e.mu.RUnlock()
	if !running {
		return nil, errors.ErrNotRunning()
	}
	if coordinator {
		e.coordinators.Add(1)
	} else {
		e.participants.Add(1)
	}
	return &Tx{ID: uuid.New(), engine: e, coordinator: coordinator}, nil
}

func (tx *Tx) finish() {
	if tx.coordinator {
		tx.engine.coordinators.Add(-1)
	} else {
		tx.engine.participants.Add(-1)
	}
	tx.engine.ReleaseLocks(tx.ID)
	tx.done = true
}

// Commit finishes the transaction successfully. logged records whether the
// commit was written to the transaction log.
func (tx *Tx) Commit(logged bool) error {
	if tx.done {
		return errors.NewRuntimeError(errors.CodeTxNotFound, "Transaction already finished")
	}
	tx.engine.commits.Add(1)
	if logged {
		tx.engine.logWrites.Add(1)
	}
	tx.finish()
	return nil
}

// Abort finishes the transaction as failed.
func (tx *Tx) Abort() error {
	if tx.done {
		return errors.NewRuntimeError(errors.CodeTxNotFound, "Transaction already finished")
	}
	tx.engine.failures.Add(1)
	tx.finish()
	return nil
}

// Restart records a transaction restart after lock contention. The
// transaction stays open; its locks are released so it can re-acquire.
func (tx *Tx) Restart() error {
	if tx.done {
		return errors.NewRuntimeError(errors.CodeTxNotFound, "Transaction already finished")
	}
	tx.engine.restarts.Add(1)
	tx.engine.ReleaseLocks(tx.ID)
	return nil
}

// TransactionPeers implements Introspector.
func (e *Engine) TransactionPeers() (participants, coordinators int) {
	return int(e.participants.Load()), int(e.coordinators.Load())
}

// Counters implements Introspector.
func (e *Engine) Counters() TxCounters {
	return TxCounters{
		Failures:  e.failures.Load(),
		Commits:   e.commits.Load(),
		LogWrites: e.logWrites.Load(),
		Restarts:  e.restarts.Load(),
	}
}

// Tables implements Introspector. Names are returned sorted for stable
// iteration in callers and tests.
func (e *Engine) Tables() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.tables))
	for name := range e.tables {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// TableMemoryWords implements Introspector.
func (e *Engine) TableMemoryWords(table string) (int64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.tables[table]
	if !ok || !t.loaded {
		return 0, false
	}
	return t.words, true
}

// TableSize implements Introspector.
func (e *Engine) TableSize(table string) (int64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.tables[table]
	if !ok || !t.loaded {
		return 0, false
	}
	return int64(len(t.rows)), true
}

// WordSize implements Introspector.
func (e *Engine) WordSize() int {
	return e.wordSize
}

// Stats returns a snapshot of every registered table's statistics, with
// unavailable values normalized to zero but flagged. Used by the API layer
// and the snapshot history recorder.
func (e *Engine) Stats() []TableStats {
	names := e.Tables()
	out := make([]TableStats, 0, len(names))
	for _, name := range names {
		words, wok := e.TableMemoryWords(name)
		size, sok := e.TableSize(name)
		out = append(out, TableStats{
			Name:        name,
			MemoryWords: words,
			Size:        size,
			Available:   wok && sok,
		})
	}
	return out
}
