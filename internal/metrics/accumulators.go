package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/statgrid/gridstore-exporter/internal/errors"
)

// Accumulator names and label schemas. The schemas are fixed at
// declaration; only label values vary, discovered from the rows observed
// during a scrape pass.
const (
	heldLockActivityName  = "held_lock_activity_total"
	lockQueueActivityName = "lock_queue_activity_total"
)

var (
	heldLockActivityLabels  = []string{"lock_entity", "target", "type"}
	lockQueueActivityLabels = []string{"table", "type"}
)

// declaredCounter records one declared accumulator so later declarations
// can be checked for schema compatibility.
type declaredCounter struct {
	vec    *prometheus.CounterVec
	help   string
	labels []string
}

// Accumulators holds the two process-wide distribution counters the
// collector increments while walking lock records. Declaration is
// idempotent: declaring an existing name with an identical schema is a
// no-op and never resets accumulated values; declaring with a different
// schema is a conflict reported to the caller. Increments go through
// CounterVec, which is safe under concurrent scrapes.
type Accumulators struct {
	mu       sync.Mutex
	declared map[string]*declaredCounter
}

// NewAccumulators creates an empty accumulator set.
func NewAccumulators() *Accumulators {
	return &Accumulators{declared: make(map[string]*declaredCounter)}
}

// Declare registers a counter under name with the given help and label
// schema, returning the backing vector. Safe to call on every scrape.
func (a *Accumulators) Declare(name, help string, labels []string) (*prometheus.CounterVec, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if existing, ok := a.declared[name]; ok {
		if !sameSchema(existing.labels, labels) {
			return nil, errors.ErrDeclarationConflict(name).
				WithContext("declared", existing.labels).
				WithContext("requested", labels)
		}
		return existing.vec, nil
	}

	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      name,
		Help:      help,
	}, labels)
	a.declared[name] = &declaredCounter{vec: vec, help: help, labels: labels}
	return vec, nil
}

func sameSchema(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// DeclareLockActivity declares both lock activity accumulators, returning
// the held-lock and lock-queue vectors. A schema conflict on either is
// fatal to the declaration step and returned to the caller.
func (a *Accumulators) DeclareLockActivity() (held, queued *prometheus.CounterVec, err error) {
	held, err = a.Declare(heldLockActivityName,
		"Held lock observations since startup, by lock entity, target class, and lock type.",
		heldLockActivityLabels)
	if err != nil {
		return nil, nil, err
	}
	queued, err = a.Declare(lockQueueActivityName,
		"Queued lock request observations since startup, by table and lock type.",
		lockQueueActivityLabels)
	if err != nil {
		return nil, nil, err
	}
	return held, queued, nil
}

// Collectors returns every declared vector for registry registration.
func (a *Accumulators) Collectors() []prometheus.Collector {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]prometheus.Collector, 0, len(a.declared))
	for _, d := range a.declared {
		out = append(out, d.vec)
	}
	return out
}
