// Package metrics implements the gridstore collection protocol on top of
// the Prometheus client library: a registry-driven collector that
// introspects the table store runtime on each scrape, two distribution
// accumulators fed as a side effect of scraping, and the exposition
// endpoint. The Prometheus Registry and text encoder are consumed as-is;
// this package supplies the collectors they drive.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// Namespace prefixes every exposed metric name.
	Namespace = "gridstore"

	// Label values for the held-lock accumulator's target class.
	targetWholeTable = "whole_table"
	targetSingle     = "single"
)

// Metric keys. These are the atoms the enablement set is matched against;
// the wire name is the namespaced key, with counters carrying the _total
// suffix.
const (
	KeyHeldLocks               = "held_locks"
	KeyLockQueue               = "lock_queue"
	KeyTransactionParticipants = "transaction_participants"
	KeyTransactionCoordinators = "transaction_coordinators"
	KeyTransactionFailures     = "transaction_failures"
	KeyTransactionCommits      = "transaction_commits"
	KeyTransactionLogWrites    = "transaction_log_writes"
	KeyTransactionRestarts     = "transaction_restarts"
	KeyMemoryUsageBytes        = "memory_usage_bytes"
	KeyTablewiseMemoryBytes    = "tablewise_memory_usage_bytes"
	KeyTablewiseSize           = "tablewise_size"
)

// familyDef fixes one metric family's identity: key, wire name, kind, help
// text, and label schema. Label names are static; only values vary per
// scrape.
type familyDef struct {
	key    string
	name   string
	help   string
	kind   prometheus.ValueType
	labels []string
}

// familyDefs is the full candidate set, in exposition order.
var familyDefs = []familyDef{
	{
		key:  KeyHeldLocks,
		name: prometheus.BuildFQName(Namespace, "", "held_locks"),
		help: "Number of held locks.",
		kind: prometheus.GaugeValue,
	},
	{
		key:  KeyLockQueue,
		name: prometheus.BuildFQName(Namespace, "", "lock_queue"),
		help: "Number of transactions waiting for a lock.",
		kind: prometheus.GaugeValue,
	},
	{
		key:  KeyTransactionParticipants,
		name: prometheus.BuildFQName(Namespace, "", "transaction_participants"),
		help: "Number of participant transactions.",
		kind: prometheus.GaugeValue,
	},
	{
		key:  KeyTransactionCoordinators,
		name: prometheus.BuildFQName(Namespace, "", "transaction_coordinators"),
		help: "Number of coordinator transactions.",
		kind: prometheus.GaugeValue,
	},
	{
		key:  KeyTransactionFailures,
		name: prometheus.BuildFQName(Namespace, "", "transaction_failures_total"),
		help: "Total number of aborted transactions.",
		kind: prometheus.CounterValue,
	},
	{
		key:  KeyTransactionCommits,
		name: prometheus.BuildFQName(Namespace, "", "transaction_commits_total"),
		help: "Total number of committed transactions.",
		kind: prometheus.CounterValue,
	},
	{
		key:  KeyTransactionLogWrites,
		name: prometheus.BuildFQName(Namespace, "", "transaction_log_writes_total"),
		help: "Total number of transactions logged to the transaction log.",
		kind: prometheus.CounterValue,
	},
	{
		key:  KeyTransactionRestarts,
		name: prometheus.BuildFQName(Namespace, "", "transaction_restarts_total"),
		help: "Total number of transaction restarts.",
		kind: prometheus.CounterValue,
	},
	{
		key:  KeyMemoryUsageBytes,
		name: prometheus.BuildFQName(Namespace, "", "memory_usage_bytes"),
		help: "Total memory used by all tables, in bytes.",
		kind: prometheus.GaugeValue,
	},
	{
		key:    KeyTablewiseMemoryBytes,
		name:   prometheus.BuildFQName(Namespace, "", "tablewise_memory_usage_bytes"),
		help:   "Memory used per table, in bytes.",
		kind:   prometheus.GaugeValue,
		labels: []string{"table"},
	},
	{
		key:    KeyTablewiseSize,
		name:   prometheus.BuildFQName(Namespace, "", "tablewise_size"),
		help:   "Number of rows per table.",
		kind:   prometheus.GaugeValue,
		labels: []string{"table"},
	},
}

// KnownKeys returns every metric key this package can expose. Used by the
// API layer to validate enablement updates.
func KnownKeys() []string {
	keys := make([]string, 0, len(familyDefs))
	for _, def := range familyDefs {
		keys = append(keys, def.key)
	}
	return keys
}

// IsKnownKey reports whether key names a definable metric.
func IsKnownKey(key string) bool {
	for _, def := range familyDefs {
		if def.key == key {
			return true
		}
	}
	return false
}

// labeledValue pairs one sample's label values (in familyDef.labels order)
// with its numeric value.
type labeledValue struct {
	labels []string
	value  float64
}

// newDesc builds the Prometheus descriptor for a family definition.
func newDesc(def familyDef) *prometheus.Desc {
	return prometheus.NewDesc(def.name, def.help, def.labels, nil)
}

// buildScalarFamily packages a single unlabeled value as the family's only
// sample. Pure: inputs are not mutated and output depends only on inputs.
func buildScalarFamily(desc *prometheus.Desc, def familyDef, value float64) ([]prometheus.Metric, error) {
	m, err := prometheus.NewConstMetric(desc, def.kind, value)
	if err != nil {
		return nil, err
	}
	return []prometheus.Metric{m}, nil
}

// buildLabeledFamily packages one sample per (label-set, value) pair.
func buildLabeledFamily(desc *prometheus.Desc, def familyDef, values []labeledValue) ([]prometheus.Metric, error) {
	out := make([]prometheus.Metric, 0, len(values))
	for _, lv := range values {
		m, err := prometheus.NewConstMetric(desc, def.kind, lv.value, lv.labels...)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
