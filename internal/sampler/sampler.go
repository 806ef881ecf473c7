// Package sampler turns a host and a time window into one utilization sample per bucket.
package sampler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Eco-Stack/eco-stack-prometheus/internal/metrics"
	"github.com/Eco-Stack/eco-stack-prometheus/internal/model"
	"github.com/Eco-Stack/eco-stack-prometheus/internal/prometheus"
	"github.com/Eco-Stack/eco-stack-prometheus/internal/timeseries"
)

// ErrorPolicy decides what happens to a bucket whose queries failed
type ErrorPolicy string

const (
	// SubstituteZero records 0.0 for the bucket and logs a warning
	SubstituteZero ErrorPolicy = "substitute_zero"
	// SkipBucket leaves the bucket out of the series
	SkipBucket ErrorPolicy = "skip_bucket"
	// Abort stops sampling and returns the error
	Abort ErrorPolicy = "abort"
)

// ParseErrorPolicy parses a configured policy name; empty selects SubstituteZero
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch p := ErrorPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return SubstituteZero, nil
	case SubstituteZero, SkipBucket, Abort:
		return p, nil
	default:
		return "", fmt.Errorf("unknown error policy %q", s)
	}
}

// Sampler produces the samples of one metric type for a host
type Sampler interface {
	MetricType() model.MetricType
	Sample(ctx context.Context, host string, w Window, b *timeseries.Builder) error
}

// bucketFunc computes the value of the bucket starting at start
type bucketFunc func(ctx context.Context, start time.Time) (float64, error)

type base struct {
	logger     *zap.Logger
	querier    prometheus.Querier
	policy     ErrorPolicy
	metricType model.MetricType
}

func newBase(logger *zap.Logger, querier prometheus.Querier, policy ErrorPolicy, metricType model.MetricType) base {
	if policy == "" {
		policy = SubstituteZero
	}
	return base{
		logger:     logger,
		querier:    querier,
		policy:     policy,
		metricType: metricType,
	}
}

// MetricType returns the series name this sampler produces
func (s base) MetricType() model.MetricType {
	return s.metricType
}

// collect walks the buckets in order and applies the error policy to failed buckets
func (s base) collect(ctx context.Context, host string, w Window, b *timeseries.Builder, value bucketFunc) error {
	if err := ValidateHost(host); err != nil {
		return err
	}
	if err := w.Validate(); err != nil {
		return err
	}

	for _, start := range w.Buckets() {
		v, err := value(ctx, start)
		if err != nil {
			// a cancelled run is not a backend failure
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("sampling %s for %s interrupted: %w", s.metricType, host, ctxErr)
			}

			switch s.policy {
			case Abort:
				return fmt.Errorf("sampling %s for %s at %s: %w",
					s.metricType, host, start.Format(time.RFC3339), err)
			case SkipBucket:
				s.logger.Warn("Skipping bucket after backend error",
					zap.String("host", host),
					zap.String("metricType", string(s.metricType)),
					zap.Time("bucket", start),
					zap.Error(err))
				metrics.RecordSubstitutedSample(string(s.metricType), string(s.policy))
				continue
			default:
				s.logger.Warn("Substituting zero after backend error",
					zap.String("host", host),
					zap.String("metricType", string(s.metricType)),
					zap.Time("bucket", start),
					zap.Error(err))
				metrics.RecordSubstitutedSample(string(s.metricType), string(s.policy))
				v = 0
			}
		}

		if err := b.Append(timeseries.NewSample(start, v)); err != nil {
			return err
		}
	}

	return nil
}
