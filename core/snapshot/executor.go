package snapshot

import (
	"context"
	"log/slog"

	"golang.org/x/sync/semaphore"

	"github.com/heianxing/axon-demo/core/es"
	"github.com/heianxing/axon-demo/core/perkey"
)

// Task builds one snapshot.
type Task func(ctx context.Context) error

// Executor runs snapshot tasks.
type Executor interface {
	Execute(ctx context.Context, aggType string, id es.Identifier, task Task) error
}

// DirectExecutor runs tasks on the calling goroutine.
type DirectExecutor struct{}

func (DirectExecutor) Execute(ctx context.Context, _ string, _ es.Identifier, task Task) error {
	return task(ctx)
}

// AsyncExecutor runs tasks in the background. Tasks for the same aggregate
// run one after another, and at most a fixed number of tasks run at once.
// Errors are logged.
type AsyncExecutor struct {
	sched *perkey.Scheduler[string]
	sem   *semaphore.Weighted
	log   *slog.Logger
}

// NewAsyncExecutor returns an executor running up to concurrency tasks in
// parallel, at least one.
func NewAsyncExecutor(concurrency int64, log *slog.Logger) *AsyncExecutor {
	if concurrency < 1 {
		concurrency = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &AsyncExecutor{
		sched: perkey.New[string](),
		sem:   semaphore.NewWeighted(concurrency),
		log:   log.With(slog.String("component", "snapshot_executor")),
	}
}

func (e *AsyncExecutor) Execute(ctx context.Context, aggType string, id es.Identifier, task Task) error {
	return e.sched.Go(taskKey(aggType, id), func() {
		log := e.log.With(slog.Group("agg", slog.String("type", aggType), id.SlogAttr()))
		if err := e.sem.Acquire(ctx, 1); err != nil {
			log.Warn("snapshot skipped", slog.Any("error", err))
			return
		}
		defer e.sem.Release(1)
		if err := task(ctx); err != nil {
			log.Warn("snapshot failed", slog.Any("error", err))
		}
	})
}

// Close waits for all queued tasks. Execute fails afterwards.
func (e *AsyncExecutor) Close() { e.sched.Close() }

func taskKey(aggType string, id es.Identifier) string { return aggType + "/" + id.String() }

var (
	_ Executor = DirectExecutor{}
	_ Executor = (*AsyncExecutor)(nil)
)
