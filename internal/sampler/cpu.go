package sampler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Eco-Stack/eco-stack-prometheus/internal/metrics"
	"github.com/Eco-Stack/eco-stack-prometheus/internal/model"
	"github.com/Eco-Stack/eco-stack-prometheus/internal/prometheus"
	"github.com/Eco-Stack/eco-stack-prometheus/internal/timeseries"
)

// DefaultCPUCores is the number of cores queried per host when none is configured
const DefaultCPUCores = 8

// Aggregation combines per-core utilization into one bucket value
type Aggregation string

const (
	// AggregateSum adds the per-core values
	AggregateSum Aggregation = "sum"
	// AggregateMean averages the per-core values
	AggregateMean Aggregation = "mean"
)

// ParseAggregation parses a configured aggregation; empty selects AggregateSum
func ParseAggregation(s string) (Aggregation, error) {
	switch a := Aggregation(strings.ToLower(strings.TrimSpace(s))); a {
	case "":
		return AggregateSum, nil
	case AggregateSum, AggregateMean:
		return a, nil
	default:
		return "", fmt.Errorf("unknown cpu aggregation %q", s)
	}
}

// CPUConfig configures a CPUSampler
type CPUConfig struct {
	Cores       int
	Aggregation Aggregation
	Policy      ErrorPolicy
}

// CPUSampler derives per-bucket CPU utilization from per-core idle rates
type CPUSampler struct {
	base
	cores       int
	aggregation Aggregation
}

// NewCPUSampler creates a new CPU sampler
func NewCPUSampler(logger *zap.Logger, querier prometheus.Querier, config CPUConfig) *CPUSampler {
	cores := config.Cores
	if cores <= 0 {
		cores = DefaultCPUCores
	}
	aggregation := config.Aggregation
	if aggregation == "" {
		aggregation = AggregateSum
	}

	return &CPUSampler{
		base:        newBase(logger, querier, config.Policy, model.MetricTypeCPU),
		cores:       cores,
		aggregation: aggregation,
	}
}

// Sample appends one CPU utilization sample per bucket of w
func (s *CPUSampler) Sample(ctx context.Context, host string, w Window, b *timeseries.Builder) error {
	return s.collect(ctx, host, w, b, func(ctx context.Context, start time.Time) (float64, error) {
		return s.bucket(ctx, host, w.Bucket, start)
	})
}

// bucket queries every core concurrently and aggregates the results
func (s *CPUSampler) bucket(ctx context.Context, host string, size time.Duration, start time.Time) (float64, error) {
	values := make([]float64, s.cores)
	errs := make([]error, s.cores)

	var g errgroup.Group
	g.SetLimit(s.cores)
	for core := 0; core < s.cores; core++ {
		core := core
		g.Go(func() error {
			values[core], errs[core] = s.querier.Query(ctx, CPUCoreQuery(host, core, size), start)
			return nil
		})
	}
	g.Wait()

	failed := 0
	for core, err := range errs {
		if err == nil {
			continue
		}
		failed++
		if s.policy != SubstituteZero || ctx.Err() != nil {
			return 0, fmt.Errorf("cpu %d: %w", core, err)
		}
		values[core] = 0
	}

	if failed > 0 {
		s.logger.Warn("Substituting zero for failed cores",
			zap.String("host", host),
			zap.Time("bucket", start),
			zap.Int("failedCores", failed),
			zap.Error(errors.Join(errs...)))
		metrics.RecordSubstitutedSample(string(model.MetricTypeCPU), string(s.policy))
	}

	total := 0.0
	for _, v := range values {
		total += v
	}

	s.logger.Debug("Total CPU utilization",
		zap.String("host", host),
		zap.Time("bucket", start),
		zap.Float64("utilization", total))

	if s.aggregation == AggregateMean {
		return total / float64(s.cores), nil
	}
	return total, nil
}
