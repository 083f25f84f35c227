package consumers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExpirer struct {
	mu        sync.Mutex
	calls     int
	olderThan time.Duration
	err       error
}

func (f *fakeExpirer) ExpireStaleHolds(_ context.Context, olderThan time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.olderThan = olderThan
	return 1, f.err
}

func (f *fakeExpirer) snapshot() (int, time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, f.olderThan
}

func TestExpirationJobRunsOnSchedule(t *testing.T) {
	expirer := &fakeExpirer{}
	job := NewExpirationJob(expirer, 50*time.Millisecond, 45*time.Minute)

	require.NoError(t, job.Start(context.Background()))
	defer job.Stop()

	assert.Eventually(t, func() bool {
		calls, _ := expirer.snapshot()
		return calls >= 2
	}, 2*time.Second, 10*time.Millisecond)

	_, olderThan := expirer.snapshot()
	assert.Equal(t, 45*time.Minute, olderThan)
}

func TestExpirationJobStop(t *testing.T) {
	expirer := &fakeExpirer{err: errors.New("db down")}
	job := NewExpirationJob(expirer, 20*time.Millisecond, time.Minute)

	require.NoError(t, job.Start(context.Background()))
	assert.Eventually(t, func() bool {
		calls, _ := expirer.snapshot()
		return calls >= 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, job.Stop())
	stopped, _ := expirer.snapshot()
	time.Sleep(100 * time.Millisecond)
	calls, _ := expirer.snapshot()
	assert.Equal(t, stopped, calls)
}

func TestExpirationJobSkipsCancelledContext(t *testing.T) {
	expirer := &fakeExpirer{}
	job := NewExpirationJob(expirer, 0, time.Minute)
	assert.Equal(t, time.Minute, job.interval)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	job.run(ctx)

	calls, _ := expirer.snapshot()
	assert.Zero(t, calls)
}

func TestExpirationJobStopWithoutStart(t *testing.T) {
	assert.NoError(t, NewExpirationJob(&fakeExpirer{}, time.Second, time.Minute).Stop())
}
