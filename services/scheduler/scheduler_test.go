package schedsvc

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testLogger struct {
	mu     sync.Mutex
	errors []string
}

func newTestLogger() *testLogger { return new(testLogger) }

func (l *testLogger) Debug(string, ...interface{}) {}
func (l *testLogger) Info(string, ...interface{})  {}
func (l *testLogger) Warn(string, ...interface{})  {}
func (l *testLogger) Fatal(string, ...interface{}) {}

func (l *testLogger) Error(msg string, _ ...interface{}) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *testLogger) errorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors)
}

func TestScheduler(t *testing.T) {
	logger := newTestLogger()
	sched := New(logger)

	var runs, failures int32
	require.NoError(t, sched.Add("tick", "@every 1s", func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}))
	require.NoError(t, sched.Add("fail", "@every 1s", func(ctx context.Context) error {
		atomic.AddInt32(&failures, 1)
		return errors.New("boom")
	}))

	sched.Start()
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&runs) > 0 && atomic.LoadInt32(&failures) > 0
	}, 3*time.Second, 50*time.Millisecond)
	sched.Stop()
	assert.GreaterOrEqual(t, logger.errorCount(), 1)
}

func TestScheduler_InvalidSpec(t *testing.T) {
	sched := New(newTestLogger())
	defer sched.Stop()

	err := sched.Add("bad", "every now and then", func(context.Context) error { return nil })
	assert.Error(t, err)
}

func TestScheduler_StopCancelsJobs(t *testing.T) {
	sched := New(newTestLogger())

	started := make(chan struct{})
	var once sync.Once
	var cancelled int32
	require.NoError(t, sched.Add("slow", "@every 1s", func(ctx context.Context) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		atomic.StoreInt32(&cancelled, 1)
		return ctx.Err()
	}))

	sched.Start()
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not start")
	}
	sched.Stop()
	assert.Equal(t, int32(1), atomic.LoadInt32(&cancelled))
}
