package daemon

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/statgrid/gridstore-exporter/internal/logging"
	"github.com/statgrid/gridstore-exporter/internal/runtime"
)

const demoTable = "demo_events"

// demoWorkload drives the embedded runtime with synthetic transactions
// so every metric family has live values during evaluation setups.
type demoWorkload struct {
	engine   *runtime.Engine
	interval time.Duration
	logger   *logging.Logger
	seq      int
}

func newDemoWorkload(engine *runtime.Engine, interval time.Duration, logger *logging.Logger) *demoWorkload {
	if interval <= 0 {
		interval = time.Second
	}
	return &demoWorkload{
		engine:   engine,
		interval: interval,
		logger:   logger.WithComponent("demo"),
	}
}

func (w *demoWorkload) start(ctx context.Context) {
	if err := w.engine.CreateTable(demoTable); err != nil {
		w.logger.Error("Demo table creation failed", "error", err)
		return
	}

	w.logger.Info("Demo workload started", "interval", w.interval)

	go func() {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				w.logger.Info("Demo workload stopped")
				return
			case <-ticker.C:
				w.tick()
			}
		}
	}()
}

// tick runs one synthetic transaction: lock, write, commit. Roughly one
// in ten aborts instead, so failure counters move too.
func (w *demoWorkload) tick() {
	tx, err := w.engine.Begin(w.seq%3 == 0)
	if err != nil {
		return
	}

	owner := uuid.New()
	key := fmt.Sprintf("event-%d", w.seq%64)
	w.seq++

	granted, err := w.engine.AcquireLock(owner, demoTable, key, false, runtime.LockWrite)
	if err != nil || !granted {
		_ = tx.Abort()
		return
	}
	defer w.engine.ReleaseLocks(owner)

	words := int64(rand.Intn(32) + 1)
	if err := w.engine.Insert(demoTable, key, words); err != nil {
		_ = tx.Abort()
		return
	}

	if rand.Intn(10) == 0 {
		_ = tx.Abort()
		return
	}
	_ = tx.Commit(w.seq%2 == 0)
}
