package worker

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
)

// lastRunKey is where the worker stamps its most recent pass, for the
// dashboard's scheduler health display.
const lastRunKey = "scheduler:last_run"

// PassRunner is the slice of the dispatch engine the worker drives.
type PassRunner interface {
	RunDispatchPass(now time.Time) error
	CompleteFinished(now time.Time) error
}

// DispatchWorker invokes the dispatch engine on a fixed interval. Exactly
// one worker is started per process, from main. The engine itself does not
// self-serialize, so the worker guarantees at most one pass in flight: a
// tick that fires while a pass is still running is skipped, never queued.
type DispatchWorker struct {
	Dispatcher    PassRunner
	Cache         *redis.Client
	Logger        *log.Logger
	FirstRunDelay time.Duration
	CheckInterval time.Duration

	busy atomic.Bool
}

func NewDispatchWorker(dispatcher PassRunner, cache *redis.Client, logger *log.Logger, firstRunDelay, checkInterval time.Duration) *DispatchWorker {
	return &DispatchWorker{
		Dispatcher:    dispatcher,
		Cache:         cache,
		Logger:        logger,
		FirstRunDelay: firstRunDelay,
		CheckInterval: checkInterval,
	}
}

func (dw *DispatchWorker) Start(ctx context.Context) {
	// Initial delay so the server and database finish starting up before
	// any mail goes out.
	select {
	case <-ctx.Done():
		return
	case <-time.After(dw.FirstRunDelay):
	}

	dw.Logger.Println("Dispatch worker started")
	dw.RunPass(time.Now())

	ticker := time.NewTicker(dw.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			dw.Logger.Println("Dispatch worker shutting down...")
			return
		case now := <-ticker.C:
			dw.RunPass(now)
		}
	}
}

// RunPass runs one dispatch pass followed by the completion sweep, under
// the single-flight guard. Two concurrent passes could both see "no
// success row yet" for the same recipient and both send, so overlap is
// refused outright.
func (dw *DispatchWorker) RunPass(now time.Time) {
	if !dw.busy.CompareAndSwap(false, true) {
		dw.Logger.Println("Previous dispatch pass still running, skipping this tick")
		return
	}
	defer dw.busy.Store(false)

	dw.markLastRun(now)

	if err := dw.Dispatcher.RunDispatchPass(now); err != nil {
		// Store unreachable; nothing to sweep either. Log and wait for the
		// next tick rather than crashing the host process.
		dw.Logger.Printf("Dispatch pass failed: %v", err)
		return
	}
	if err := dw.Dispatcher.CompleteFinished(now); err != nil {
		dw.Logger.Printf("Completion sweep failed: %v", err)
	}
}

func (dw *DispatchWorker) markLastRun(now time.Time) {
	if dw.Cache == nil {
		return
	}
	if err := dw.Cache.Set(context.Background(), lastRunKey, now.Format(time.RFC3339), 0).Err(); err != nil {
		dw.Logger.Printf("Failed to record scheduler last run: %v", err)
	}
}
