package collector

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Eco-Stack/eco-stack-prometheus/internal/model"
	"github.com/Eco-Stack/eco-stack-prometheus/internal/notify"
	"github.com/Eco-Stack/eco-stack-prometheus/internal/sampler"
	"github.com/Eco-Stack/eco-stack-prometheus/internal/store"
	"github.com/Eco-Stack/eco-stack-prometheus/internal/timeseries"
	"github.com/Eco-Stack/eco-stack-prometheus/internal/upsert"
)

// fakeSampler appends value to every bucket unless host is listed in fail
type fakeSampler struct {
	metricType model.MetricType
	value      float64
	fail       map[string]error
	block      bool
}

func (s *fakeSampler) MetricType() model.MetricType { return s.metricType }

func (s *fakeSampler) Sample(ctx context.Context, host string, w sampler.Window, b *timeseries.Builder) error {
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err, ok := s.fail[host]; ok {
		return err
	}
	for _, t := range w.Buckets() {
		if err := b.Append(timeseries.NewSample(t, s.value)); err != nil {
			return err
		}
	}
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.SeriesEvent
}

func (n *recordingNotifier) NotifySeries(ctx context.Context, event notify.SeriesEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) Close() {}

var fixedNow = time.Date(2024, 5, 1, 15, 0, 0, 0, time.UTC)

func testHosts() []upsert.HostContext {
	return []upsert.HostContext{
		{Host: "10.0.0.1:9100", InstanceID: "Instance 1", ProjectID: "CloudProject 1", HypervisorID: "Hypervisor 1"},
		{Host: "10.0.0.2:9100", InstanceID: "Instance 2", ProjectID: "CloudProject 1", HypervisorID: "Hypervisor 2"},
	}
}

func newTestRunner(t *testing.T, s *store.Store, samplers []sampler.Sampler, n notify.Notifier, timeout time.Duration) *Runner {
	t.Helper()
	logger := zaptest.NewLogger(t)
	now := func() time.Time { return fixedNow }
	u := upsert.NewUpserter(logger, s, upsert.Config{Now: now})
	return NewRunner(logger, samplers, u, n, Config{
		Window:     3 * time.Hour,
		Bucket:     time.Hour,
		RunTimeout: timeout,
		Now:        now,
	})
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("host")
			defer unlock()

			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive)
	assert.Equal(t, 0, km.Len())
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	km := NewKeyedMutex()

	unlockA := km.Lock("a")
	done := make(chan struct{})
	go func() {
		unlock := km.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}

	assert.Equal(t, 1, km.Len())
	unlockA()
	unlockA()
	assert.Equal(t, 0, km.Len())
}

func TestRunOnceBuildsGraph(t *testing.T) {
	s := store.NewMemStore()
	n := &recordingNotifier{}
	r := newTestRunner(t, s, []sampler.Sampler{
		&fakeSampler{metricType: model.MetricTypeCPU, value: 30},
		&fakeSampler{metricType: model.MetricTypeMemory, value: 80},
	}, n, time.Minute)

	_, ok := r.Latest()
	assert.False(t, ok)

	summary := r.RunOnce(context.Background(), TriggerManual, testHosts())

	assert.Equal(t, StatusSuccess, summary.Status)
	assert.Equal(t, TriggerManual, summary.Trigger)
	assert.Equal(t, "2024-05-01", summary.Date)
	assert.Equal(t, 4, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)
	require.Len(t, summary.Results, 4)
	assert.Equal(t, string(model.MetricTypeCPU), summary.Results[0].MetricType)
	assert.Equal(t, string(model.MetricTypeMemory), summary.Results[1].MetricType)
	for _, res := range summary.Results {
		assert.Equal(t, 3, res.Samples)
		assert.Empty(t, res.Error)
	}
	assert.Len(t, summary.Results[0].RecordIDs, 2)
	assert.Len(t, summary.Results[1].RecordIDs, 1)

	ctx := context.Background()
	project, found, err := s.Projects.FindByID(ctx, "CloudProject 1")
	require.NoError(t, err)
	require.True(t, found)
	assert.ElementsMatch(t, []string{"Instance 1", "Instance 2"}, project.InstanceIDs.Slice())

	rec, found, err := s.Metrics.FindByID(ctx, summary.Results[1].RecordIDs[0])
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, string(model.MetricTypeMemory), rec.Name)
	require.Len(t, rec.Samples, 3)
	assert.Equal(t, 80.0, rec.Samples[0].Value)

	assert.Len(t, n.events, 4)
	assert.Equal(t, 30.0, n.events[0].LastValue)

	latest, ok := r.Latest()
	require.True(t, ok)
	assert.Equal(t, summary.ID, latest.ID)
}

func TestRunOnceIsolatesFailures(t *testing.T) {
	s := store.NewMemStore()
	boom := errors.New("backend down")
	r := newTestRunner(t, s, []sampler.Sampler{
		&fakeSampler{metricType: model.MetricTypeCPU, value: 10, fail: map[string]error{"10.0.0.2:9100": boom}},
		&fakeSampler{metricType: model.MetricTypeMemory, value: 50},
	}, nil, time.Minute)

	summary := r.RunOnce(context.Background(), TriggerInterval, testHosts())

	assert.Equal(t, StatusPartial, summary.Status)
	assert.Equal(t, 3, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)

	failed := summary.Results[2]
	assert.Equal(t, "10.0.0.2:9100", failed.Host)
	assert.Equal(t, string(model.MetricTypeCPU), failed.MetricType)
	assert.Contains(t, failed.Error, "backend down")
	assert.Empty(t, failed.RecordIDs)

	// memory for the failing host still lands
	inst, found, err := s.Instances.FindByID(context.Background(), "Instance 2")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1, inst.MemoryUtilizationMetricIDs.Len())
	assert.Equal(t, 0, inst.CPUUtilizationMetricIDs.Len())
}

func TestRunOnceNoHosts(t *testing.T) {
	r := newTestRunner(t, store.NewMemStore(), []sampler.Sampler{
		&fakeSampler{metricType: model.MetricTypeCPU},
	}, nil, 0)

	summary := r.RunOnce(context.Background(), TriggerDaily, nil)
	assert.Equal(t, StatusSuccess, summary.Status)
	assert.Empty(t, summary.Results)
}

func TestRunOnceTimeout(t *testing.T) {
	r := newTestRunner(t, store.NewMemStore(), []sampler.Sampler{
		&fakeSampler{metricType: model.MetricTypeCPU, block: true},
	}, nil, 20*time.Millisecond)

	summary := r.RunOnce(context.Background(), TriggerManual, testHosts())
	assert.Equal(t, StatusFailed, summary.Status)
	assert.Equal(t, 2, summary.Failed)
	for _, res := range summary.Results {
		assert.Contains(t, res.Error, context.DeadlineExceeded.Error())
	}
}

func TestNextDaily(t *testing.T) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)

	tests := []struct {
		name     string
		now      time.Time
		hour     int
		minute   int
		expected time.Time
	}{
		{
			name:     "later today",
			now:      time.Date(2024, 5, 1, 10, 0, 0, 0, seoul),
			hour:     12,
			expected: time.Date(2024, 5, 1, 12, 0, 0, 0, seoul),
		},
		{
			name:     "exactly now moves to tomorrow",
			now:      time.Date(2024, 5, 1, 0, 0, 0, 0, seoul),
			expected: time.Date(2024, 5, 2, 0, 0, 0, 0, seoul),
		},
		{
			name:     "utc clock in another zone",
			now:      time.Date(2024, 5, 1, 15, 30, 0, 0, time.UTC), // 00:30 on May 2 in Seoul
			expected: time.Date(2024, 5, 3, 0, 0, 0, 0, seoul),
		},
		{
			name:     "month rollover",
			now:      time.Date(2024, 1, 31, 23, 0, 0, 0, seoul),
			hour:     6,
			minute:   30,
			expected: time.Date(2024, 2, 1, 6, 30, 0, 0, seoul),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextDaily(tt.now, tt.hour, tt.minute, seoul)
			assert.True(t, tt.expected.Equal(got), "expected %s, got %s", tt.expected, got)
		})
	}
}

// countingTrigger records the triggers it was called with
type countingTrigger struct {
	mu       sync.Mutex
	triggers []string
	release  chan struct{}
}

func (c *countingTrigger) RunOnce(ctx context.Context, trigger string, hosts []upsert.HostContext) RunSummary {
	c.mu.Lock()
	c.triggers = append(c.triggers, trigger)
	c.mu.Unlock()

	if c.release != nil && trigger == TriggerManual {
		select {
		case <-c.release:
		case <-ctx.Done():
		}
	}
	return RunSummary{Trigger: trigger}
}

func (c *countingTrigger) count(trigger string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, tr := range c.triggers {
		if tr == trigger {
			n++
		}
	}
	return n
}

func TestSchedulerInterval(t *testing.T) {
	trigger := &countingTrigger{}
	s := NewScheduler(zaptest.NewLogger(t), trigger, testHosts(), SchedulerConfig{
		Interval:   10 * time.Millisecond,
		RunOnStart: true,
	})

	s.Start(context.Background())
	require.Eventually(t, func() bool { return trigger.count(TriggerInterval) >= 2 }, time.Second, 5*time.Millisecond)
	s.Stop()

	assert.Equal(t, 1, trigger.count(TriggerStartup))
	stopped := trigger.count(TriggerInterval)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, trigger.count(TriggerInterval))
}

func TestSchedulerDaily(t *testing.T) {
	trigger := &countingTrigger{}
	now := time.Date(2024, 5, 1, 23, 59, 59, 980_000_000, time.UTC)
	s := NewScheduler(zaptest.NewLogger(t), trigger, testHosts(), SchedulerConfig{
		Daily: true,
		Now:   func() time.Time { return now },
	})

	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool { return trigger.count(TriggerDaily) >= 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, trigger.count(TriggerInterval))
}

func TestSchedulerTriggerManual(t *testing.T) {
	trigger := &countingTrigger{release: make(chan struct{})}
	s := NewScheduler(zaptest.NewLogger(t), trigger, testHosts(), SchedulerConfig{})

	assert.False(t, s.TriggerManual(), "not started")

	s.Start(context.Background())
	require.True(t, s.TriggerManual())
	require.Eventually(t, func() bool { return trigger.count(TriggerManual) == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, s.TriggerManual(), "run in progress")

	close(trigger.release)
	require.Eventually(t, func() bool { return !s.manualRunning.Load() }, time.Second, 5*time.Millisecond)
	assert.True(t, s.TriggerManual())

	s.Stop()
	assert.False(t, s.TriggerManual(), "stopped")
}

func TestSchedulerStopWaitsForAcceptedManualRuns(t *testing.T) {
	for i := 0; i < 20; i++ {
		trigger := &countingTrigger{}
		s := NewScheduler(zaptest.NewLogger(t), trigger, testHosts(), SchedulerConfig{})
		s.Start(context.Background())

		var accepted atomic.Int64
		var callers sync.WaitGroup
		for j := 0; j < 4; j++ {
			callers.Add(1)
			go func() {
				defer callers.Done()
				for k := 0; k < 50; k++ {
					if s.TriggerManual() {
						accepted.Add(1)
					}
				}
			}()
		}

		s.Stop()
		ran := trigger.count(TriggerManual)
		callers.Wait()

		// runs accepted before Stop completed, none after
		assert.Equal(t, int64(ran), accepted.Load())
		assert.Equal(t, ran, trigger.count(TriggerManual))
	}
}
