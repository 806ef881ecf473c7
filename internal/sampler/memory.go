package sampler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/Eco-Stack/eco-stack-prometheus/internal/metrics"
	"github.com/Eco-Stack/eco-stack-prometheus/internal/model"
	"github.com/Eco-Stack/eco-stack-prometheus/internal/prometheus"
	"github.com/Eco-Stack/eco-stack-prometheus/internal/timeseries"
)

// MemorySampler derives per-bucket memory utilization from node_exporter gauges.
// Under SubstituteZero a failed gauge reads as 0, like a failed core in
// CPUSampler; a failed MemTotal therefore yields a 0 bucket.
type MemorySampler struct {
	base
}

// NewMemorySampler creates a new memory sampler
func NewMemorySampler(logger *zap.Logger, querier prometheus.Querier, policy ErrorPolicy) *MemorySampler {
	return &MemorySampler{
		base: newBase(logger, querier, policy, model.MetricTypeMemory),
	}
}

// Sample appends one memory utilization sample per bucket of w
func (s *MemorySampler) Sample(ctx context.Context, host string, w Window, b *timeseries.Builder) error {
	return s.collect(ctx, host, w, b, func(ctx context.Context, start time.Time) (float64, error) {
		return s.bucket(ctx, host, w.Bucket, start)
	})
}

func (s *MemorySampler) bucket(ctx context.Context, host string, size time.Duration, start time.Time) (float64, error) {
	names := [...]string{memFree, memCached, memBuffers, memTotal}
	var values [len(names)]float64
	var errs []error

	for i, name := range names {
		v, err := s.querier.Query(ctx, MemoryQuery(name, host, size), start)
		if err != nil {
			if s.policy != SubstituteZero || ctx.Err() != nil {
				return 0, fmt.Errorf("%s: %w", name, err)
			}
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			v = 0
		}
		values[i] = v
	}

	if len(errs) > 0 {
		s.logger.Warn("Substituting zero for failed memory gauges",
			zap.String("host", host),
			zap.Time("bucket", start),
			zap.Int("failedGauges", len(errs)),
			zap.Error(errors.Join(errs...)))
		metrics.RecordSubstitutedSample(string(model.MetricTypeMemory), string(s.policy))
	}

	free, cached, buffers, total := values[0], values[1], values[2], values[3]
	utilization := MemoryUtilization(free, cached, buffers, total)

	s.logger.Debug("Memory utilization",
		zap.String("host", host),
		zap.Time("bucket", start),
		zap.Float64("free", free),
		zap.Float64("cached", cached),
		zap.Float64("buffers", buffers),
		zap.Float64("total", total),
		zap.Float64("utilization", utilization))

	return utilization, nil
}

// MemoryUtilization returns 100 * (1 - (free+cached+buffers)/total).
// A zero total or a non-finite result yields 0.
func MemoryUtilization(free, cached, buffers, total float64) float64 {
	if total == 0 {
		return 0
	}
	u := 100 * (1 - (free+cached+buffers)/total)
	if math.IsNaN(u) || math.IsInf(u, 0) {
		return 0
	}
	return u
}
