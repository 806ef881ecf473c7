package collector

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Eco-Stack/eco-stack-prometheus/internal/upsert"
)

// RunTrigger executes one collection pass
type RunTrigger interface {
	RunOnce(ctx context.Context, trigger string, hosts []upsert.HostContext) RunSummary
}

// SchedulerConfig configures a Scheduler
type SchedulerConfig struct {
	Interval   time.Duration // 0 disables the interval trigger
	Daily      bool
	DailyHour  int
	DailyMin   int
	Location   *time.Location
	RunOnStart bool
	Now        func() time.Time
}

// Scheduler fires collection runs on a fixed interval and once a day at a wall-clock time
type Scheduler struct {
	logger *zap.Logger
	runner RunTrigger
	hosts  []upsert.HostContext
	config SchedulerConfig

	manualRunning atomic.Bool
	wg            sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	stopCh  chan struct{}
	done    chan struct{}
}

// NewScheduler creates a new Scheduler for the given hosts
func NewScheduler(logger *zap.Logger, runner RunTrigger, hosts []upsert.HostContext, config SchedulerConfig) *Scheduler {
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Scheduler{
		logger: logger,
		runner: runner,
		hosts:  hosts,
		config: config,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the trigger loops in the background
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.logger.Info("Starting collection scheduler",
		zap.Duration("interval", s.config.Interval),
		zap.Bool("daily", s.config.Daily),
		zap.Int("dailyHour", s.config.DailyHour),
		zap.Int("dailyMinute", s.config.DailyMin),
		zap.String("timeZone", s.config.Location.String()),
		zap.Int("hosts", len(s.hosts)))

	go s.run(s.ctx)
}

// Stop cancels the loops and any in-flight run, then waits for them to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	// no manual run can be added once stopped is set
	s.stopped = true
	close(s.stopCh)
	s.cancel()
	s.mu.Unlock()

	<-s.done
	s.wg.Wait()
	s.logger.Info("Collection scheduler stopped")
}

// TriggerManual starts a run in the background. It returns false if the
// scheduler is not running or a manual run is still in progress.
func (s *Scheduler) TriggerManual() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.stopped || s.ctx.Err() != nil {
		return false
	}
	if !s.manualRunning.CompareAndSwap(false, true) {
		return false
	}

	ctx := s.ctx
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.manualRunning.Store(false)
		s.runner.RunOnce(ctx, TriggerManual, s.hosts)
	}()
	return true
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	if s.config.RunOnStart {
		s.runner.RunOnce(ctx, TriggerStartup, s.hosts)
	}

	g, gctx := errgroup.WithContext(ctx)
	if s.config.Interval > 0 {
		g.Go(func() error {
			s.intervalLoop(gctx)
			return nil
		})
	}
	if s.config.Daily {
		g.Go(func() error {
			s.dailyLoop(gctx)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Scheduler) intervalLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runner.RunOnce(ctx, TriggerInterval, s.hosts)
		}
	}
}

func (s *Scheduler) dailyLoop(ctx context.Context) {
	for {
		now := s.config.Now()
		next := NextDaily(now, s.config.DailyHour, s.config.DailyMin, s.config.Location)
		s.logger.Debug("Next daily collection run scheduled", zap.Time("at", next))

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.stopCh:
			timer.Stop()
			return
		case <-timer.C:
			s.runner.RunOnce(ctx, TriggerDaily, s.hosts)
		}
	}
}

// NextDaily returns the first hour:minute in loc strictly after now
func NextDaily(now time.Time, hour, minute int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return next
}
