// Package scheduler repeats ingestion runs on a cron expression.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dshills/sheetload/internal/events"
	"github.com/dshills/sheetload/internal/pipeline"
)

// ErrEmptySchedule is returned when no cron expression is configured
var ErrEmptySchedule = errors.New("schedule expression is empty")

// Runner executes one ingestion run
type Runner interface {
	Run(ctx context.Context) *pipeline.Result
}

// Scheduler triggers runs on a cron schedule. A tick that fires while the
// previous run is still going is skipped.
type Scheduler struct {
	expr     string
	schedule cron.Schedule
	runner   Runner
	sink     events.Sink
	logger   cron.Logger

	mu   sync.Mutex
	last *pipeline.Result
	runs int
}

// New parses a standard five-field expression or a descriptor such as
// "@hourly" or "@every 15m".
func New(expr string, runner Runner, sink events.Sink) (*Scheduler, error) {
	if expr == "" {
		return nil, ErrEmptySchedule
	}
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	if sink == nil {
		sink = events.Discard
	}
	return &Scheduler{
		expr:     expr,
		schedule: schedule,
		runner:   runner,
		sink:     sink,
		logger:   cronLogger{sink: sink},
	}, nil
}

// Next returns the first activation after t
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Run blocks until ctx is cancelled, then waits for an in-flight run to return
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New(cron.WithLogger(s.logger))
	c.Schedule(s.schedule, s.job(ctx))

	s.sink.Emit(ctx, events.LevelInfo, "scheduler.started", events.Fields{
		"schedule": s.expr,
		"next":     s.Next(time.Now()).Format(time.RFC3339),
	})
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()

	s.sink.Emit(context.WithoutCancel(ctx), events.LevelInfo, "scheduler.stopped", events.Fields{"runs": s.Runs()})
	return nil
}

// LastResult returns the result of the most recent completed run, or nil
func (s *Scheduler) LastResult() *pipeline.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Runs returns the number of completed runs
func (s *Scheduler) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

func (s *Scheduler) job(ctx context.Context) cron.Job {
	return cron.NewChain(
		cron.SkipIfStillRunning(s.logger),
		cron.Recover(s.logger),
	).Then(cron.FuncJob(func() { s.tick(ctx) }))
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	result := s.runner.Run(ctx)

	s.mu.Lock()
	s.last = result
	s.runs++
	s.mu.Unlock()

	level := events.LevelInfo
	if result.ExitCode != pipeline.ExitOK {
		level = events.LevelWarn
	}
	s.sink.Emit(ctx, level, "scheduler.run_completed", events.Fields{
		"run_id":    result.RunID,
		"exit_code": result.ExitCode,
		"next":      s.Next(time.Now()).Format(time.RFC3339),
	})
}

// cronLogger adapts the event sink to cron's logger
type cronLogger struct {
	sink events.Sink
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sink.Emit(context.Background(), events.LevelDebug, "scheduler.cron", fieldsOf(msg, keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := fieldsOf(msg, keysAndValues)
	fields["error"] = err.Error()
	l.sink.Emit(context.Background(), events.LevelError, "scheduler.error", fields)
}

func fieldsOf(msg string, kv []interface{}) events.Fields {
	fields := events.Fields{"msg": msg}
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			fields[k] = kv[i+1]
		}
	}
	return fields
}
