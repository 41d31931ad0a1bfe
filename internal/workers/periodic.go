package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultJobTimeout bounds one run of a periodic job
const DefaultJobTimeout = 2 * time.Minute

// Periodic runs named maintenance jobs on cron schedules. A run that is still
// in progress when its next tick arrives causes that tick to be skipped.
type Periodic struct {
	cron    *cron.Cron
	logger  *zap.Logger
	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewPeriodic creates a scheduler whose specs are evaluated in loc
func NewPeriodic(loc *time.Location, logger *zap.Logger) *Periodic {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger))
	ctx, cancel := context.WithCancel(context.Background())
	return &Periodic{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		logger:  logger,
		timeout: DefaultJobTimeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Schedule registers fn under a standard cron spec or descriptor ("@hourly")
func (p *Periodic) Schedule(name, spec string, fn func(ctx context.Context) error) error {
	if _, err := p.cron.AddFunc(spec, p.wrap(name, fn)); err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	return nil
}

// Every registers fn to run at a fixed interval
func (p *Periodic) Every(name string, interval time.Duration, fn func(ctx context.Context) error) error {
	if interval <= 0 {
		return fmt.Errorf("interval for %s must be positive", name)
	}
	p.cron.Schedule(cron.Every(interval), cron.FuncJob(p.wrap(name, fn)))
	return nil
}

// Len returns the number of registered jobs
func (p *Periodic) Len() int {
	return len(p.cron.Entries())
}

func (p *Periodic) wrap(name string, fn func(ctx context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
		defer cancel()
		start := time.Now()
		if err := fn(ctx); err != nil {
			p.logger.Error("periodic_job_failed", zap.String("job", name), zap.Error(err))
			return
		}
		p.logger.Debug("periodic_job_completed", zap.String("job", name), zap.Duration("duration", time.Since(start)))
	}
}

// Start runs the jobs until ctx is cancelled, then waits for running jobs to finish
func (p *Periodic) Start(ctx context.Context) {
	p.cron.Start()
	<-ctx.Done()
	p.cancel()
	stopped := p.cron.Stop()
	<-stopped.Done()
}
