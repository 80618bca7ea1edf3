package history

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/statgrid/gridstore-exporter/internal/config"
	"github.com/statgrid/gridstore-exporter/internal/errors"
	"github.com/statgrid/gridstore-exporter/internal/logging"
	"github.com/statgrid/gridstore-exporter/internal/runtime"
)

const recordTimeout = 30 * time.Second

// StatsSource is what the recorder reads on each tick. *runtime.Engine
// satisfies it.
type StatsSource interface {
	Running() bool
	Stats() []runtime.TableStats
	Counters() runtime.TxCounters
	WordSize() int
}

// Recorder takes snapshots on a cron schedule and prunes expired ones.
type Recorder struct {
	store     *Store
	source    StatsSource
	schedule  string
	retention time.Duration
	logger    *logging.Logger
	cron      *cron.Cron
}

// NewRecorder builds a recorder over an open store.
func NewRecorder(store *Store, source StatsSource, cfg *config.Config, logger *logging.Logger) *Recorder {
	return &Recorder{
		store:     store,
		source:    source,
		schedule:  cfg.History.Schedule,
		retention: time.Duration(cfg.History.RetentionDays) * 24 * time.Hour,
		logger:    logger.WithComponent("history"),
	}
}

// Start schedules snapshot runs. The schedule string is validated here;
// a bad schedule is a startup error, not a silent no-op.
func (r *Recorder) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(r.schedule, r.run); err != nil {
		return errors.WrapHistoryError(errors.CodeHistorySchedule,
			"Invalid snapshot schedule", err)
	}
	r.cron = c
	c.Start()

	r.logger.Info("Snapshot recorder started",
		"schedule", r.schedule,
		"retention", r.retention)
	return nil
}

// Stop halts the schedule and waits for a running snapshot to finish.
func (r *Recorder) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
	r.logger.Info("Snapshot recorder stopped")
}

// run is one scheduled tick: record, then prune.
func (r *Recorder) run() {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := r.Record(ctx); err != nil {
		r.logger.Error("Snapshot recording failed", "error", err)
		return
	}

	removed, err := r.store.Prune(ctx, time.Now().Add(-r.retention))
	if err != nil {
		r.logger.Error("Snapshot pruning failed", "error", err)
		return
	}
	if removed > 0 {
		r.logger.Info("Pruned expired snapshots", "removed", removed)
	}
}

// Record takes one snapshot now. Skipped while the runtime is down:
// there is nothing truthful to record.
func (r *Recorder) Record(ctx context.Context) error {
	if !r.source.Running() {
		r.logger.Debug("Skipping snapshot, runtime not running")
		return nil
	}

	takenAt := time.Now().UTC()
	stats := r.source.Stats()
	counters := r.source.Counters()

	if err := r.store.RecordSnapshot(ctx, takenAt, stats, counters, r.source.WordSize()); err != nil {
		return err
	}

	r.logger.Info("Snapshot recorded", "tables", len(stats), "taken_at", takenAt)
	return nil
}
