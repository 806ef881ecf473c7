// Package collector runs collection passes over the configured hosts and schedules them.
package collector

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Eco-Stack/eco-stack-prometheus/internal/metrics"
	"github.com/Eco-Stack/eco-stack-prometheus/internal/notify"
	"github.com/Eco-Stack/eco-stack-prometheus/internal/sampler"
	"github.com/Eco-Stack/eco-stack-prometheus/internal/timeseries"
	"github.com/Eco-Stack/eco-stack-prometheus/internal/upsert"
)

// Run triggers
const (
	TriggerInterval = "interval"
	TriggerDaily    = "daily"
	TriggerStartup  = "startup"
	TriggerManual   = "manual"
)

// Run statuses
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// SeriesUpserter persists a finished series and links it into the entity graph
type SeriesUpserter interface {
	Upsert(ctx context.Context, series timeseries.MetricSeries, hc upsert.HostContext) (*upsert.Result, error)
}

// Config configures a Runner
type Config struct {
	Window     time.Duration
	Bucket     time.Duration
	RunTimeout time.Duration
	Location   *time.Location
	Now        func() time.Time
}

// HostResult is the outcome of one host and metric type within a run
type HostResult struct {
	Host       string   `json:"host"`
	MetricType string   `json:"metricType"`
	Samples    int      `json:"samples"`
	RecordIDs  []string `json:"recordIds,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// RunSummary describes a finished collection run
type RunSummary struct {
	ID          string       `json:"id"`
	Trigger     string       `json:"trigger"`
	Status      string       `json:"status"`
	Date        string       `json:"date"`
	WindowStart time.Time    `json:"windowStart"`
	WindowEnd   time.Time    `json:"windowEnd"`
	StartedAt   time.Time    `json:"startedAt"`
	FinishedAt  time.Time    `json:"finishedAt"`
	Succeeded   int          `json:"succeeded"`
	Failed      int          `json:"failed"`
	Results     []HostResult `json:"results"`
}

// Runner executes collection passes: for each host, each sampler's series is
// sampled, built and upserted. A failure is confined to its host and metric type.
type Runner struct {
	logger   *zap.Logger
	samplers []sampler.Sampler
	upserter SeriesUpserter
	notifier notify.Notifier
	locks    *KeyedMutex
	config   Config

	mu     sync.RWMutex
	latest *RunSummary
}

// NewRunner creates a new Runner. Samplers run in the given order for every host.
func NewRunner(logger *zap.Logger, samplers []sampler.Sampler, upserter SeriesUpserter, notifier notify.Notifier, config Config) *Runner {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Runner{
		logger:   logger,
		samplers: samplers,
		upserter: upserter,
		notifier: notifier,
		locks:    NewKeyedMutex(),
		config:   config,
	}
}

// RunOnce collects every host once and returns the run summary
func (r *Runner) RunOnce(ctx context.Context, trigger string, hosts []upsert.HostContext) RunSummary {
	startedAt := r.config.Now()
	window := sampler.TrailingWindow(startedAt, r.config.Window, r.config.Bucket, r.config.Location)
	date := timeseries.DateOf(startedAt, r.config.Location)

	summary := RunSummary{
		ID:          uuid.New().String(),
		Trigger:     trigger,
		Date:        date.String(),
		WindowStart: window.Start,
		WindowEnd:   window.End,
		StartedAt:   startedAt,
	}

	r.logger.Info("Starting collection run",
		zap.String("runId", summary.ID),
		zap.String("trigger", trigger),
		zap.Int("hosts", len(hosts)),
		zap.Time("windowStart", window.Start),
		zap.Time("windowEnd", window.End))

	if r.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.RunTimeout)
		defer cancel()
	}

	if len(hosts) > 0 {
		results := make([][]HostResult, len(hosts))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(len(hosts))
		for i, hc := range hosts {
			i, hc := i, hc
			g.Go(func() error {
				results[i] = r.collectHost(gctx, trigger, hc, window, date)
				return nil
			})
		}
		_ = g.Wait()

		for _, hostResults := range results {
			summary.Results = append(summary.Results, hostResults...)
		}
	}

	for _, res := range summary.Results {
		if res.Error == "" {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}

	switch {
	case summary.Failed == 0:
		summary.Status = StatusSuccess
	case summary.Succeeded == 0:
		summary.Status = StatusFailed
	default:
		summary.Status = StatusPartial
	}
	summary.FinishedAt = r.config.Now()

	duration := summary.FinishedAt.Sub(startedAt)
	metrics.RecordCollectionRun(trigger, summary.Status, duration)

	r.logger.Info("Finished collection run",
		zap.String("runId", summary.ID),
		zap.String("trigger", trigger),
		zap.String("status", summary.Status),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Duration("duration", duration))

	r.mu.Lock()
	r.latest = &summary
	r.mu.Unlock()

	return summary
}

// Latest returns the summary of the most recent run, if any
func (r *Runner) Latest() (RunSummary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.latest == nil {
		return RunSummary{}, false
	}
	return *r.latest, true
}

// collectHost runs every sampler for one host while holding the host's lock
func (r *Runner) collectHost(ctx context.Context, trigger string, hc upsert.HostContext, window sampler.Window, date timeseries.Date) []HostResult {
	unlock := r.locks.Lock(hc.Host)
	defer unlock()

	results := make([]HostResult, 0, len(r.samplers))
	for _, s := range r.samplers {
		res := r.collectSeries(ctx, trigger, s, hc, window, date)
		metrics.RecordHostCollection(res.MetricType, res.Error != "")
		results = append(results, res)
	}
	return results
}

func (r *Runner) collectSeries(ctx context.Context, trigger string, s sampler.Sampler, hc upsert.HostContext, window sampler.Window, date timeseries.Date) HostResult {
	metricType := string(s.MetricType())
	res := HostResult{Host: hc.Host, MetricType: metricType}

	fail := func(stage string, err error) HostResult {
		r.logger.Error("Failed to collect metric",
			zap.String("host", hc.Host),
			zap.String("metricType", metricType),
			zap.String("stage", stage),
			zap.Error(err))
		res.Error = err.Error()
		return res
	}

	b := timeseries.NewBuilder(window.Len())
	if err := s.Sample(ctx, hc.Host, window, b); err != nil {
		return fail("sample", err)
	}

	series, err := b.Finish(metricType, date)
	if err != nil {
		return fail("build", err)
	}
	res.Samples = series.Len()

	result, err := r.upserter.Upsert(ctx, series, hc)
	if err != nil {
		var ue *upsert.UpsertError
		if errors.As(err, &ue) {
			res.RecordIDs = ue.RecordIDs
		}
		return fail("upsert", err)
	}
	res.RecordIDs = result.RecordIDs

	event := notify.SeriesEvent{
		Trigger:      trigger,
		Host:         hc.Host,
		MetricType:   metricType,
		Date:         date.String(),
		InstanceID:   hc.InstanceID,
		ProjectID:    hc.ProjectID,
		HypervisorID: hc.HypervisorID,
		RecordIDs:    result.RecordIDs,
		Samples:      series.Len(),
	}
	if last, ok := series.Last(); ok {
		event.LastValue = last.Value
	}
	if err := r.notifier.NotifySeries(ctx, event); err != nil {
		r.logger.Warn("Failed to publish series notification",
			zap.String("host", hc.Host),
			zap.String("metricType", metricType),
			zap.Error(err))
	}

	return res
}
