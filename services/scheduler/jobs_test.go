package schedsvc

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/payment"
)

type fakeMaintenance struct {
	report    payment.ReconcileReport
	expireNow time.Time
	expired   int
	recounted int
	err       error
}

func (f *fakeMaintenance) Reconcile(context.Context) (payment.ReconcileReport, error) {
	return f.report, f.err
}

func (f *fakeMaintenance) ExpireLapsed(_ context.Context, now time.Time) (int, error) {
	f.expireNow = now
	return f.expired, f.err
}

func (f *fakeMaintenance) RecountCounters(context.Context) (int, error) {
	return f.recounted, f.err
}

func TestJobs(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	NowFunc = func() time.Time { return now }
	defer func() { NowFunc = time.Now }()

	boom := errors.New("boom")
	tests := []struct {
		name    string
		job     func(f *fakeMaintenance) func(ctx context.Context) error
		err     error
		wantErr bool
	}{
		{"reconcile", func(f *fakeMaintenance) func(context.Context) error { return ReconcileJob(f, newTestLogger()) }, nil, false},
		{"reconcile fails", func(f *fakeMaintenance) func(context.Context) error { return ReconcileJob(f, newTestLogger()) }, boom, true},
		{"expire", func(f *fakeMaintenance) func(context.Context) error { return ExpireJob(f, newTestLogger()) }, nil, false},
		{"expire fails", func(f *fakeMaintenance) func(context.Context) error { return ExpireJob(f, newTestLogger()) }, boom, true},
		{"recount", func(f *fakeMaintenance) func(context.Context) error { return RecountJob(f, newTestLogger()) }, nil, false},
		{"recount fails", func(f *fakeMaintenance) func(context.Context) error { return RecountJob(f, newTestLogger()) }, boom, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeMaintenance{report: payment.ReconcileReport{Resolved: 1}, expired: 2, recounted: 3, err: tt.err}
			err := tt.job(f)(context.Background())
			if tt.wantErr {
				assert.Equal(t, boom, errors.Cause(err))
				return
			}
			assert.NoError(t, err)
		})
	}

	t.Run("expire uses the current time", func(t *testing.T) {
		f := new(fakeMaintenance)
		require.NoError(t, ExpireJob(f, newTestLogger())(context.Background()))
		assert.Equal(t, now, f.expireNow)
	})
}

func TestRegisterJobs(t *testing.T) {
	f := new(fakeMaintenance)

	t.Run("valid schedules", func(t *testing.T) {
		sched := New(newTestLogger())
		defer sched.Stop()
		assert.NoError(t, RegisterJobs(sched, core.NewTestConfig(), newTestLogger(), f, f))
	})

	t.Run("invalid schedule", func(t *testing.T) {
		conf := core.NewTestConfig()
		conf.Reconcile.Schedule = "whenever"
		sched := New(newTestLogger())
		defer sched.Stop()
		assert.Error(t, RegisterJobs(sched, conf, newTestLogger(), f, f))
	})
}
