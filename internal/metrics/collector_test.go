package metrics

import (
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/statgrid/gridstore-exporter/internal/config"
	"github.com/statgrid/gridstore-exporter/internal/logging"
	"github.com/statgrid/gridstore-exporter/internal/runtime"
)

// fakeIntrospector is a hand-rolled runtime facade for collector tests.
// Any method named in panicOn panics when called, exercising per-metric
// fault isolation.
type fakeIntrospector struct {
	running      bool
	held         []runtime.HeldLock
	queue        []runtime.QueuedLock
	participants int
	coordinators int
	counters     runtime.TxCounters
	tables       []string
	words        map[string]int64 // absent key = stat unavailable
	sizes        map[string]int64
	wordSize     int

	peersCalls atomic.Int32
	panicOn    map[string]bool
}

func (f *fakeIntrospector) maybePanic(method string) {
	if f.panicOn[method] {
		panic("introspection fault: " + method)
	}
}

func (f *fakeIntrospector) Running() bool {
	f.maybePanic("Running")
	return f.running
}

func (f *fakeIntrospector) HeldLocks() []runtime.HeldLock {
	f.maybePanic("HeldLocks")
	return f.held
}

func (f *fakeIntrospector) LockQueue() []runtime.QueuedLock {
	f.maybePanic("LockQueue")
	return f.queue
}

func (f *fakeIntrospector) TransactionPeers() (int, int) {
	f.peersCalls.Add(1)
	f.maybePanic("TransactionPeers")
	return f.participants, f.coordinators
}

func (f *fakeIntrospector) Counters() runtime.TxCounters {
	f.maybePanic("Counters")
	return f.counters
}

func (f *fakeIntrospector) Tables() []string {
	f.maybePanic("Tables")
	return f.tables
}

func (f *fakeIntrospector) TableMemoryWords(table string) (int64, bool) {
	f.maybePanic("TableMemoryWords")
	words, ok := f.words[table]
	return words, ok
}

func (f *fakeIntrospector) TableSize(table string) (int64, bool) {
	f.maybePanic("TableSize")
	size, ok := f.sizes[table]
	return size, ok
}

func (f *fakeIntrospector) WordSize() int {
	f.maybePanic("WordSize")
	return f.wordSize
}

func activeFake() *fakeIntrospector {
	return &fakeIntrospector{
		running:  true,
		wordSize: 8,
		words:    map[string]int64{},
		sizes:    map[string]int64{},
		panicOn:  map[string]bool{},
	}
}

func enablementOf(entries ...string) *config.Store {
	cfg := config.Default()
	if len(entries) > 0 {
		cfg.Metrics.Enabled = entries
	}
	return config.NewStore(cfg)
}

func newTestCollector(t *testing.T, intro runtime.Introspector, store *config.Store) *RuntimeCollector {
	t.Helper()
	c, err := NewRuntimeCollector(intro, store, NewAccumulators(), logging.NewDefault())
	if err != nil {
		t.Fatalf("NewRuntimeCollector failed: %v", err)
	}
	return c
}

// scrape runs one collection pass and returns sample counts per family name.
func scrape(t *testing.T, c *RuntimeCollector) map[string]int {
	t.Helper()
	ch := make(chan prometheus.Metric, 256)
	c.Collect(ch)
	close(ch)

	counts := make(map[string]int)
	for m := range ch {
		desc := m.Desc().String()
		for _, def := range familyDefs {
			if strings.Contains(desc, `"`+def.name+`"`) {
				counts[def.name]++
			}
		}
	}
	return counts
}

func fq(suffix string) string {
	return Namespace + "_" + suffix
}

func TestCollectInactiveRuntime(t *testing.T) {
	tests := []struct {
		name  string
		intro runtime.Introspector
	}{
		{"not running", &fakeIntrospector{running: false}},
		{"facade absent", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCollector(t, tt.intro, enablementOf())
			counts := scrape(t, c)
			if len(counts) != 0 {
				t.Errorf("Inactive runtime should emit zero families, got %v", counts)
			}
			if c.Scrapes() != 0 {
				t.Errorf("Inactive passes should not count as scrapes")
			}
		})
	}
}

func TestCollectAllFamilies(t *testing.T) {
	intro := activeFake()
	intro.held = []runtime.HeldLock{{Entity: "orders", WholeTable: true, Type: runtime.LockWrite}}
	intro.queue = []runtime.QueuedLock{{Table: "orders", Key: "k", Type: runtime.LockRead}}
	intro.participants = 3
	intro.coordinators = 2
	intro.counters = runtime.TxCounters{Failures: 1, Commits: 10, LogWrites: 7, Restarts: 4}
	intro.tables = []string{"orders"}
	intro.words["orders"] = 16
	intro.sizes["orders"] = 5

	c := newTestCollector(t, intro, enablementOf())
	counts := scrape(t, c)

	if len(counts) != len(familyDefs) {
		t.Errorf("Expected %d families, got %d: %v", len(familyDefs), len(counts), counts)
	}
	for _, def := range familyDefs {
		if counts[def.name] == 0 {
			t.Errorf("Family %s missing from scrape", def.name)
		}
	}
	if c.Scrapes() != 1 {
		t.Errorf("Expected 1 recorded scrape, got %d", c.Scrapes())
	}
}

func TestCollectMemoryScenario(t *testing.T) {
	// Three tables with memory words [10, 20, unavailable] at word size 8:
	// total is 240 bytes and the unavailable table zero-fills.
	intro := activeFake()
	intro.tables = []string{"a", "b", "c"}
	intro.words = map[string]int64{"a": 10, "b": 20}
	intro.sizes = map[string]int64{"a": 1, "b": 2}

	c := newTestCollector(t, intro, enablementOf())

	expected := `
# HELP gridstore_memory_usage_bytes Total memory used by all tables, in bytes.
# TYPE gridstore_memory_usage_bytes gauge
gridstore_memory_usage_bytes 240
# HELP gridstore_tablewise_memory_usage_bytes Memory used per table, in bytes.
# TYPE gridstore_tablewise_memory_usage_bytes gauge
gridstore_tablewise_memory_usage_bytes{table="a"} 80
gridstore_tablewise_memory_usage_bytes{table="b"} 160
gridstore_tablewise_memory_usage_bytes{table="c"} 0
# HELP gridstore_tablewise_size Number of rows per table.
# TYPE gridstore_tablewise_size gauge
gridstore_tablewise_size{table="a"} 1
gridstore_tablewise_size{table="b"} 2
gridstore_tablewise_size{table="c"} 0
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		fq("memory_usage_bytes"),
		fq("tablewise_memory_usage_bytes"),
		fq("tablewise_size"))
	if err != nil {
		t.Errorf("Unexpected exposition: %v", err)
	}
}

func TestCollectEnablementFilter(t *testing.T) {
	intro := activeFake()
	intro.held = []runtime.HeldLock{{Entity: "orders", Key: "k", Type: runtime.LockRead}}
	intro.tables = []string{"orders"}
	intro.words["orders"] = 4
	intro.sizes["orders"] = 1

	store := enablementOf(KeyHeldLocks, KeyMemoryUsageBytes)
	c := newTestCollector(t, intro, store)

	counts := scrape(t, c)
	if len(counts) != 2 {
		t.Fatalf("Expected exactly 2 families, got %v", counts)
	}
	if counts[fq("held_locks")] != 1 || counts[fq("memory_usage_bytes")] != 1 {
		t.Errorf("Wrong families survived the filter: %v", counts)
	}

	// Neither peer metric is enabled, so the combined call is skipped.
	if intro.peersCalls.Load() != 0 {
		t.Errorf("TransactionPeers should not have been queried, called %d times", intro.peersCalls.Load())
	}
}

func TestCollectPeersQueriedWhenEitherEnabled(t *testing.T) {
	tests := []struct {
		name    string
		enabled []string
		want    string
	}{
		{"participants only", []string{KeyTransactionParticipants}, fq("transaction_participants")},
		{"coordinators only", []string{KeyTransactionCoordinators}, fq("transaction_coordinators")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intro := activeFake()
			intro.participants = 5
			intro.coordinators = 6

			c := newTestCollector(t, intro, enablementOf(tt.enabled...))
			counts := scrape(t, c)

			if intro.peersCalls.Load() != 1 {
				t.Errorf("Expected exactly 1 combined peer query, got %d", intro.peersCalls.Load())
			}
			if counts[tt.want] != 1 {
				t.Errorf("Expected family %s, got %v", tt.want, counts)
			}
			if len(counts) != 1 {
				t.Errorf("Expected only the enabled family, got %v", counts)
			}
		})
	}
}

func TestCollectEnablementReloadBetweenScrapes(t *testing.T) {
	intro := activeFake()
	store := enablementOf(KeyLockQueue)
	c := newTestCollector(t, intro, store)

	counts := scrape(t, c)
	if len(counts) != 1 || counts[fq("lock_queue")] != 1 {
		t.Fatalf("Expected only lock_queue, got %v", counts)
	}

	store.SetEnabled([]string{config.EnableAll})
	counts = scrape(t, c)
	if len(counts) != len(familyDefs) {
		t.Errorf("After reload all families should emit, got %d", len(counts))
	}
}

func TestCollectFaultIsolation(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		absent  []string
		present []string
	}{
		{
			"held locks fault",
			"HeldLocks",
			[]string{fq("held_locks")},
			[]string{fq("lock_queue"), fq("memory_usage_bytes"), fq("transaction_commits_total")},
		},
		{
			"counters fault",
			"Counters",
			[]string{
				fq("transaction_failures_total"), fq("transaction_commits_total"),
				fq("transaction_log_writes_total"), fq("transaction_restarts_total"),
			},
			[]string{fq("held_locks"), fq("memory_usage_bytes")},
		},
		{
			"table walk fault",
			"Tables",
			[]string{fq("memory_usage_bytes"), fq("tablewise_memory_usage_bytes"), fq("tablewise_size")},
			[]string{fq("held_locks"), fq("lock_queue")},
		},
		{
			"peer query fault",
			"TransactionPeers",
			[]string{fq("transaction_participants"), fq("transaction_coordinators")},
			[]string{fq("held_locks"), fq("transaction_commits_total")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intro := activeFake()
			intro.tables = []string{"orders"}
			intro.words["orders"] = 2
			intro.sizes["orders"] = 1
			intro.panicOn[tt.method] = true

			c := newTestCollector(t, intro, enablementOf())
			counts := scrape(t, c)

			for _, name := range tt.absent {
				if counts[name] != 0 {
					t.Errorf("Family %s should be absent, got %v", name, counts)
				}
			}
			for _, name := range tt.present {
				if counts[name] == 0 {
					t.Errorf("Family %s should still be present, got %v", name, counts)
				}
			}
		})
	}
}

func TestAccumulatorIncrements(t *testing.T) {
	intro := activeFake()
	intro.held = []runtime.HeldLock{
		{Entity: "orders", WholeTable: true, Type: runtime.LockWrite},
		{Entity: "orders", Key: "k1", Type: runtime.LockRead},
	}
	intro.queue = []runtime.QueuedLock{
		{Table: "orders", Key: "k2", Type: runtime.LockWrite},
	}

	acc := NewAccumulators()
	c, err := NewRuntimeCollector(intro, enablementOf(), acc, logging.NewDefault())
	if err != nil {
		t.Fatalf("NewRuntimeCollector failed: %v", err)
	}

	scrape(t, c)
	scrape(t, c)

	// Same observation seen on two scrapes increments twice: the
	// accumulators model cumulative activity since startup.
	held, queued, err := acc.DeclareLockActivity()
	if err != nil {
		t.Fatalf("DeclareLockActivity failed: %v", err)
	}

	if got := testutil.ToFloat64(held.WithLabelValues("orders", "whole_table", "write")); got != 2 {
		t.Errorf("whole_table write count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(held.WithLabelValues("orders", "single", "read")); got != 2 {
		t.Errorf("single read count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(queued.WithLabelValues("orders", "write")); got != 2 {
		t.Errorf("queued write count = %v, want 2", got)
	}
}

func TestAccumulatorConcurrentScrapes(t *testing.T) {
	intro := activeFake()
	intro.held = []runtime.HeldLock{
		{Entity: "L", WholeTable: true, Type: runtime.LockWrite},
	}

	acc := NewAccumulators()
	c, err := NewRuntimeCollector(intro, enablementOf(), acc, logging.NewDefault())
	if err != nil {
		t.Fatalf("NewRuntimeCollector failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch := make(chan prometheus.Metric, 256)
			c.Collect(ch)
		}()
	}
	wg.Wait()

	held, _, err := acc.DeclareLockActivity()
	if err != nil {
		t.Fatalf("DeclareLockActivity failed: %v", err)
	}
	if got := testutil.ToFloat64(held.WithLabelValues("L", "whole_table", "write")); got != 2 {
		t.Errorf("Concurrent scrapes lost updates: count = %v, want exactly 2", got)
	}
}

func TestDescribeCoversAllFamilies(t *testing.T) {
	c := newTestCollector(t, activeFake(), enablementOf(KeyHeldLocks))

	ch := make(chan *prometheus.Desc, 64)
	c.Describe(ch)
	close(ch)

	count := 0
	for range ch {
		count++
	}
	// Enablement filters samples, never descriptors.
	if count != len(familyDefs) {
		t.Errorf("Expected %d descriptors, got %d", len(familyDefs), count)
	}
}
