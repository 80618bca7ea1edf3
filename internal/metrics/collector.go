package metrics

import (
	"fmt"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/statgrid/gridstore-exporter/internal/config"
	"github.com/statgrid/gridstore-exporter/internal/logging"
	"github.com/statgrid/gridstore-exporter/internal/runtime"
)

// RuntimeCollector translates the table store runtime's state into metric
// families on each scrape. It holds no per-scrape state: every invocation
// recomputes all facts from the live runtime. The only shared mutable
// state it touches are the two distribution accumulators, which are safe
// under concurrent scrapes.
type RuntimeCollector struct {
	intro      runtime.Introspector
	enablement config.EnablementSource
	acc        *Accumulators
	heldVec    *prometheus.CounterVec
	queueVec   *prometheus.CounterVec
	logger     *logging.Logger

	descs map[string]*prometheus.Desc

	scrapes atomic.Uint64
}

var _ prometheus.Collector = (*RuntimeCollector)(nil)

// NewRuntimeCollector creates the collector and performs the initial
// accumulator declaration. A declaration conflict is returned to the
// caller here; it is the one failure mode of setup that must not be
// swallowed.
func NewRuntimeCollector(
	intro runtime.Introspector,
	enablement config.EnablementSource,
	acc *Accumulators,
	logger *logging.Logger,
) (*RuntimeCollector, error) {
	held, queued, err := acc.DeclareLockActivity()
	if err != nil {
		return nil, err
	}

	descs := make(map[string]*prometheus.Desc, len(familyDefs))
	for _, def := range familyDefs {
		descs[def.key] = newDesc(def)
	}

	return &RuntimeCollector{
		intro:      intro,
		enablement: enablement,
		acc:        acc,
		heldVec:    held,
		queueVec:   queued,
		logger:     logger.WithComponent("collector"),
		descs:      descs,
	}, nil
}

// Describe implements prometheus.Collector. All candidate families are
// described regardless of enablement; filtering applies to samples, not
// descriptors.
func (c *RuntimeCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, def := range familyDefs {
		ch <- c.descs[def.key]
	}
}

// Scrapes returns the number of completed scrape passes.
func (c *RuntimeCollector) Scrapes() uint64 {
	return c.scrapes.Load()
}

// capture runs one fact computation with fault isolation: a panic inside
// fn yields ok == false instead of aborting the scrape.
func capture[T any](fn func() T) (val T, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	return fn(), true
}

// tableRow carries one table's per-scrape storage facts, already
// normalized: unavailable statistics read as zero so the table still
// appears in both per-table families.
type tableRow struct {
	name  string
	bytes float64
	size  float64
}

// Collect implements prometheus.Collector and the collection protocol:
// liveness precondition, enablement read, idempotent accumulator
// declaration, fact gathering, accumulator increments, family
// construction with per-family fault isolation, enablement filtering,
// emission. Nothing escapes Collect under normal operation; an inactive
// runtime or a faulted fact computation yields a successful, possibly
// partial scrape.
func (c *RuntimeCollector) Collect(ch chan<- prometheus.Metric) {
	if c.intro == nil {
		return
	}
	if running, ok := capture(c.intro.Running); !ok || !running {
		return
	}

	enabled := c.enablement.Enablement()

	// Re-declaration on every scrape is a no-op while schemas agree. A
	// conflict here means another component re-declared with a different
	// schema since setup; the scrape proceeds without accumulator updates.
	heldVec, queueVec, declErr := c.acc.DeclareLockActivity()
	if declErr != nil {
		c.logger.Error("Accumulator declaration conflict", "error", declErr)
		heldVec, queueVec = nil, nil
	}

	held, heldOK := capture(c.intro.HeldLocks)
	queue, queueOK := capture(c.intro.LockQueue)

	if heldOK && heldVec != nil {
		for _, l := range held {
			target := targetSingle
			if l.WholeTable {
				target = targetWholeTable
			}
			heldVec.WithLabelValues(l.Entity, target, string(l.Type)).Inc()
		}
	}
	if queueOK && queueVec != nil {
		for _, q := range queue {
			queueVec.WithLabelValues(q.Table, string(q.Type)).Inc()
		}
	}

	counters, countersOK := capture(c.intro.Counters)

	// Participants and coordinators come from one combined call, made
	// only when at least one of the two is enabled. Cost avoidance, not
	// correctness: both families read as absent when skipped.
	var participants, coordinators int
	peersOK := false
	if enabled.Allows(KeyTransactionParticipants) || enabled.Allows(KeyTransactionCoordinators) {
		type peers struct{ p, c int }
		got, ok := capture(func() peers {
			p, co := c.intro.TransactionPeers()
			return peers{p, co}
		})
		participants, coordinators, peersOK = got.p, got.c, ok
	}

	rows, totalBytes, tablesOK := c.tableFacts()

	for _, def := range familyDefs {
		metrics, ok := c.buildFamily(def, familyFacts{
			held: held, heldOK: heldOK,
			queue: queue, queueOK: queueOK,
			counters: counters, countersOK: countersOK,
			participants: participants, coordinators: coordinators, peersOK: peersOK,
			rows: rows, totalBytes: totalBytes, tablesOK: tablesOK,
		})
		if !ok {
			c.logger.Debug("Metric value unavailable this scrape", "metric", def.key)
			continue
		}
		if !enabled.Allows(def.key) {
			continue
		}
		for _, m := range metrics {
			ch <- m
		}
	}

	c.scrapes.Add(1)
}

// tableFacts walks the table list once, normalizing unavailable per-table
// statistics to zero, and accumulates the word-scaled total.
func (c *RuntimeCollector) tableFacts() (rows []tableRow, totalBytes float64, ok bool) {
	rows, ok = capture(func() []tableRow {
		wordSize := float64(c.intro.WordSize())
		tables := c.intro.Tables()
		out := make([]tableRow, 0, len(tables))
		for _, name := range tables {
			words, _ := c.intro.TableMemoryWords(name)
			size, _ := c.intro.TableSize(name)
			out = append(out, tableRow{
				name:  name,
				bytes: float64(words) * wordSize,
				size:  float64(size),
			})
		}
		return out
	})
	if !ok {
		return nil, 0, false
	}
	for _, row := range rows {
		totalBytes += row.bytes
	}
	return rows, totalBytes, true
}

// familyFacts is everything one scrape learned from the runtime, with
// per-fact validity flags.
type familyFacts struct {
	held   []runtime.HeldLock
	heldOK bool

	queue   []runtime.QueuedLock
	queueOK bool

	counters   runtime.TxCounters
	countersOK bool

	participants int
	coordinators int
	peersOK      bool

	rows       []tableRow
	totalBytes float64
	tablesOK   bool
}

// buildFamily constructs one candidate family from the scrape facts.
// ok == false means the family's value is absent this scrape; other
// families are unaffected.
func (c *RuntimeCollector) buildFamily(def familyDef, facts familyFacts) (metrics []prometheus.Metric, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			metrics, ok = nil, false
		}
	}()

	desc := c.descs[def.key]

	scalar := func(valid bool, value float64) ([]prometheus.Metric, bool) {
		if !valid {
			return nil, false
		}
		ms, err := buildScalarFamily(desc, def, value)
		return ms, err == nil
	}

	switch def.key {
	case KeyHeldLocks:
		return scalar(facts.heldOK, float64(len(facts.held)))
	case KeyLockQueue:
		return scalar(facts.queueOK, float64(len(facts.queue)))
	case KeyTransactionParticipants:
		return scalar(facts.peersOK, float64(facts.participants))
	case KeyTransactionCoordinators:
		return scalar(facts.peersOK, float64(facts.coordinators))
	case KeyTransactionFailures:
		return scalar(facts.countersOK, float64(facts.counters.Failures))
	case KeyTransactionCommits:
		return scalar(facts.countersOK, float64(facts.counters.Commits))
	case KeyTransactionLogWrites:
		return scalar(facts.countersOK, float64(facts.counters.LogWrites))
	case KeyTransactionRestarts:
		return scalar(facts.countersOK, float64(facts.counters.Restarts))
	case KeyMemoryUsageBytes:
		return scalar(facts.tablesOK, facts.totalBytes)
	case KeyTablewiseMemoryBytes:
		if !facts.tablesOK {
			return nil, false
		}
		values := make([]labeledValue, 0, len(facts.rows))
		for _, row := range facts.rows {
			values = append(values, labeledValue{labels: []string{row.name}, value: row.bytes})
		}
		ms, err := buildLabeledFamily(desc, def, values)
		return ms, err == nil
	case KeyTablewiseSize:
		if !facts.tablesOK {
			return nil, false
		}
		values := make([]labeledValue, 0, len(facts.rows))
		for _, row := range facts.rows {
			values = append(values, labeledValue{labels: []string{row.name}, value: row.size})
		}
		ms, err := buildLabeledFamily(desc, def, values)
		return ms, err == nil
	default:
		return nil, false
	}
}

// String identifies the collector in registry error messages.
func (c *RuntimeCollector) String() string {
	return fmt.Sprintf("%s runtime collector", Namespace)
}
