package schedsvc

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/trezcool/darasa/core"
)

// Scheduler runs background jobs on cron schedules (eg. "@every 5m", "@daily").
// A job still running when its next tick comes is skipped.
type Scheduler struct {
	cron   *cron.Cron
	logger core.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func New(logger core.Logger) *Scheduler {
	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers job under name; its errors are logged.
func (s *Scheduler) Add(name, spec string, job func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		if err := job(s.ctx); err != nil {
			s.logger.Error(fmt.Sprintf("running job %q", name), err)
		}
	})
	if err != nil {
		return errors.Wrapf(err, "scheduling job %q", name)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

// cronLogger adapts core.Logger to cron.Logger.
type cronLogger struct {
	logger core.Logger
}

// Info drops cron's tick logs.
func (l cronLogger) Info(string, ...interface{}) {}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{err}, keysAndValues...)...)
}
