// Package scheduler polls due scheduled commands and hands ProcessWorkflow
// commands to the executor.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/cascade/internal/engine"
	"github.com/rendis/cascade/internal/logging"
	"github.com/rendis/cascade/internal/store"
	"github.com/rendis/cascade/pkg/schema"
)

// DefaultPollSpec is the polling cadence used when none is configured.
const DefaultPollSpec = "@every 5s"

var pollParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Runner runs one processing cycle for a workflow instance.
// Satisfied by engine.Executor.
type Runner interface {
	Process(ctx context.Context, workflowID string) (*engine.CycleResult, error)
}

// Config holds optional scheduler settings.
type Config struct {
	// PollSpec is a cron spec or descriptor ("@every 5s") for the poll cadence.
	PollSpec string
	Logger   *slog.Logger
	// Now overrides the clock used to select due commands.
	Now func() time.Time
}

// Scheduler visits due commands on a cron cadence.
type Scheduler struct {
	store    store.CommandStore
	runner   Runner
	parser   cron.Parser
	pollSpec string
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	cron *cron.Cron

	inflightMu sync.Mutex
	inflight   map[string]struct{} // workflow IDs currently being processed
}

// NewScheduler creates a Scheduler. The poll spec is validated here so a
// bad configuration fails before Start.
func NewScheduler(s store.CommandStore, runner Runner, cfg Config) (*Scheduler, error) {
	if cfg.PollSpec == "" {
		cfg.PollSpec = DefaultPollSpec
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	sched := &Scheduler{
		store:    s,
		runner:   runner,
		parser:   pollParser,
		pollSpec: cfg.PollSpec,
		logger:   cfg.Logger,
		now:      cfg.Now,
		inflight: make(map[string]struct{}),
	}
	if err := ValidatePollSpec(cfg.PollSpec); err != nil {
		return nil, err
	}
	return sched, nil
}

// ValidatePollSpec reports whether spec is a usable poll cadence.
func ValidatePollSpec(spec string) error {
	if _, err := pollParser.Parse(spec); err != nil {
		return fmt.Errorf("parse poll spec %q: %w", spec, err)
	}
	return nil
}

// Start launches the polling loop. Ticks that overrun the cadence are skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}
	if !s.store.SupportsScheduledCommands() {
		return schema.NewError(schema.ErrCodeValidation, "store does not support scheduled commands")
	}

	clog := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	if _, err := c.AddFunc(s.pollSpec, func() { _, _ = s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("register poll job: %w", err)
	}
	c.Start()
	s.cron = c

	s.logger.Info("scheduler started", slog.String("poll_spec", s.pollSpec))
	return nil
}

// Stop halts the loop and waits for a running tick to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return nil
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	s.logger.Info("scheduler stopped")
	return nil
}

// RunOnce visits every command due now and returns how many workflows were processed.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	processed := 0
	err := s.store.ProcessCommands(ctx, s.now(), func(ctx context.Context, cmd *schema.ScheduledCommand) error {
		if cmd.CommandName != schema.CommandProcessWorkflow {
			return store.ErrKeepCommand
		}
		ran, err := s.dispatch(ctx, cmd.Data)
		if ran {
			processed++
		}
		return err
	})
	if err != nil {
		s.logger.Error("scheduler tick failed", slog.String("error", err.Error()))
	}
	return processed, err
}

// dispatch runs a cycle for workflowID. Busy instances keep their command;
// deleted instances drop it.
func (s *Scheduler) dispatch(ctx context.Context, workflowID string) (bool, error) {
	if !s.tryAcquire(workflowID) {
		return false, store.ErrKeepCommand
	}
	defer s.release(workflowID)

	ctx = logging.WithWorkflowID(ctx, workflowID)
	res, err := s.runner.Process(ctx, workflowID)
	switch {
	case err == nil:
		logging.LogWith(ctx, s.logger).Debug("workflow processed",
			slog.String("status", string(res.Status)),
			slog.Int("transitions", len(res.Transitions)),
		)
		return true, nil
	case schema.HasCode(err, schema.ErrCodeConflict):
		return false, store.ErrKeepCommand
	case schema.HasCode(err, schema.ErrCodeNotFound):
		logging.LogWith(ctx, s.logger).Warn("dropping command for unknown workflow")
		return false, nil
	default:
		return false, fmt.Errorf("process workflow %s: %w", workflowID, err)
	}
}

// ScheduleAt queues a processing cycle for workflowID at the given time.
func (s *Scheduler) ScheduleAt(ctx context.Context, workflowID string, at time.Time) error {
	return s.store.ScheduleCommand(ctx, &schema.ScheduledCommand{
		CommandName: schema.CommandProcessWorkflow,
		Data:        workflowID,
		ExecuteTime: at.UTC(),
	})
}

// ScheduleCron queues the next cycle for workflowID according to a cron
// expression evaluated from the given time, and returns that time.
func (s *Scheduler) ScheduleCron(ctx context.Context, workflowID, cronExpr string, from time.Time) (time.Time, error) {
	next, err := s.CalculateNextRun(cronExpr, from)
	if err != nil {
		return time.Time{}, err
	}
	if err := s.ScheduleAt(ctx, workflowID, next); err != nil {
		return time.Time{}, err
	}
	return next, nil
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, schema.NewErrorf(schema.ErrCodeValidation, "parse cron expression %q: %s", cronExpr, err.Error()).WithCause(err)
	}
	return schedule.Next(from), nil
}

// tryAcquire returns true and marks the workflow as in-flight if it is not already.
func (s *Scheduler) tryAcquire(workflowID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[workflowID]; ok {
		return false
	}
	s.inflight[workflowID] = struct{}{}
	return true
}

func (s *Scheduler) release(workflowID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, workflowID)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	if err == nil {
		err = errors.New("unknown")
	}
	l.logger.Error("cron: "+msg, append(keysAndValues, slog.String("error", err.Error()))...)
}
