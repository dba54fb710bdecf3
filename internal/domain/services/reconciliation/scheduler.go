package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/rail-service/payment_listener/pkg/logger"
)

// ErrCycleInProgress is returned by RunOnce while another cycle is running
var ErrCycleInProgress = errors.New("reconciliation cycle already in progress")

// CycleRunner runs one reconciliation pass
type CycleRunner interface {
	RunCycle(ctx context.Context) (*CycleReport, error)
}

// Sweeper expires stale pending orders
type Sweeper interface {
	Run(ctx context.Context) (int64, error)
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	InitialDelay time.Duration // Default: 3 seconds
	Interval     time.Duration // Default: 15 seconds
	CycleTimeout time.Duration // Default: 4x Interval
}

// CycleResult combines the engine and sweeper outcomes of one cycle
type CycleResult struct {
	Report  *CycleReport `json:"report,omitempty"`
	Expired int64        `json:"expired"`
}

// Scheduler drives reconciliation cycles: one deferred first run, then a fixed period.
// Cycles never overlap.
type Scheduler struct {
	engine  CycleRunner
	sweeper Sweeper
	logger  *logger.Logger
	config  SchedulerConfig

	cron    *cron.Cron
	cycleMu sync.Mutex

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a new reconciliation scheduler
func NewScheduler(engine CycleRunner, sweeper Sweeper, logger *logger.Logger, config SchedulerConfig) *Scheduler {
	if config.InitialDelay < 0 {
		config.InitialDelay = 0
	}
	if config.Interval <= 0 {
		config.Interval = 15 * time.Second
	}
	if config.CycleTimeout <= 0 {
		config.CycleTimeout = 4 * config.Interval
	}

	return &Scheduler{
		engine:  engine,
		sweeper: sweeper,
		logger:  logger,
		config:  config,
	}
}

// Start schedules the first cycle after the initial delay and then one every interval
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	cl := cronLogger{log: s.logger}
	c := cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl))
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.config.Interval), func() {
		s.execute(ctx, "scheduled")
	}); err != nil {
		return fmt.Errorf("failed to schedule reconciliation: %w", err)
	}

	s.cron = c
	s.stopCh = make(chan struct{})
	s.running = true

	s.logger.Info("Starting reconciliation scheduler",
		"initial_delay", s.config.InitialDelay,
		"interval", s.config.Interval,
		"cycle_timeout", s.config.CycleTimeout)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-time.After(s.config.InitialDelay):
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
		s.execute(ctx, "initial")
		// the periodic schedule starts once the first cycle has finished
		select {
		case <-s.stopCh:
		case <-ctx.Done():
		default:
			c.Start()
		}
	}()
	return nil
}

// Stop halts scheduling and waits for an in-flight cycle to finish
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	c := s.cron
	s.mu.Unlock()

	s.logger.Info("Stopping reconciliation scheduler")

	s.wg.Wait()
	<-c.Stop().Done()

	if d, ok := s.engine.(interface{ Drain() }); ok {
		d.Drain()
	}

	s.logger.Info("Reconciliation scheduler stopped")
	return nil
}

// RunOnce runs one cycle immediately unless one is already running
func (s *Scheduler) RunOnce(ctx context.Context) (*CycleResult, error) {
	if !s.cycleMu.TryLock() {
		return nil, ErrCycleInProgress
	}
	defer s.cycleMu.Unlock()
	return s.runCycle(ctx)
}

func (s *Scheduler) execute(ctx context.Context, trigger string) {
	if ctx.Err() != nil {
		return
	}
	result, err := s.RunOnce(ctx)
	if errors.Is(err, ErrCycleInProgress) {
		s.logger.Warn("Previous reconciliation cycle still running, skipping", "trigger", trigger)
		return
	}
	if err != nil {
		s.logger.Error("Reconciliation cycle failed", "trigger", trigger, "error", err)
		return
	}
	if result.Report != nil && result.Report.Failed() {
		s.logger.Warn("Reconciliation cycle completed with chain failures", "trigger", trigger)
	}
}

// runCycle runs the sweeper and the engine concurrently and waits for both
func (s *Scheduler) runCycle(ctx context.Context) (*CycleResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.CycleTimeout)
	defer cancel()

	result := &CycleResult{}
	var g errgroup.Group
	g.Go(func() error {
		expired, err := s.sweeper.Run(ctx)
		result.Expired = expired
		return err
	})
	g.Go(func() error {
		report, err := s.engine.RunCycle(ctx)
		result.Report = report
		return err
	})
	return result, g.Wait()
}

// cronLogger adapts the service logger to cron's logging interface
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
