package timeseries

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrFinished is returned when a builder is used after Finish
	ErrFinished = errors.New("series builder already finished")

	// ErrOutOfOrder is returned when a sample does not advance the series
	ErrOutOfOrder = errors.New("sample timestamp does not advance the series")
)

// MetricSeries is the ordered result of one collection run for one host and metric type.
// It is never mutated after Finish.
type MetricSeries struct {
	Name    string   `json:"name"`
	Date    Date     `json:"date"`
	Samples []Sample `json:"samples"`
}

// Len returns the number of samples in the series
func (s MetricSeries) Len() int {
	return len(s.Samples)
}

// First returns the oldest sample, or false if the series is empty
func (s MetricSeries) First() (Sample, bool) {
	if len(s.Samples) == 0 {
		return Sample{}, false
	}
	return s.Samples[0], true
}

// Last returns the newest sample, or false if the series is empty
func (s MetricSeries) Last() (Sample, bool) {
	if len(s.Samples) == 0 {
		return Sample{}, false
	}
	return s.Samples[len(s.Samples)-1], true
}

// Builder accumulates bucket samples for one run. It does not re-sort:
// samples must be appended in bucket order.
type Builder struct {
	mu       sync.Mutex
	samples  []Sample
	finished bool
}

// NewBuilder creates a new Builder with room for capacity samples
func NewBuilder(capacity int) *Builder {
	if capacity < 0 {
		capacity = 0
	}
	return &Builder{
		samples: make([]Sample, 0, capacity),
	}
}

// Append adds the next sample to the series
func (b *Builder) Append(s Sample) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.finished {
		return ErrFinished
	}

	if n := len(b.samples); n > 0 && !s.Timestamp.After(b.samples[n-1].Timestamp) {
		return fmt.Errorf("%w: %s after %s", ErrOutOfOrder,
			s.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
			b.samples[n-1].Timestamp.Format("2006-01-02T15:04:05Z07:00"))
	}

	b.samples = append(b.samples, s)
	return nil
}

// Len returns the number of samples appended so far
func (b *Builder) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

// Finish seals the builder and returns the completed series
func (b *Builder) Finish(name string, date Date) (MetricSeries, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.finished {
		return MetricSeries{}, ErrFinished
	}
	b.finished = true

	samples := make([]Sample, len(b.samples))
	copy(samples, b.samples)

	return MetricSeries{
		Name:    name,
		Date:    date,
		Samples: samples,
	}, nil
}
