// Package notify announces persisted metric series to downstream consumers.
package notify

import (
	"context"
	"time"
)

// SeriesEvent describes one persisted and linked metric series
type SeriesEvent struct {
	Trigger      string    `json:"trigger"`
	Host         string    `json:"host"`
	MetricType   string    `json:"metricType"`
	Date         string    `json:"date"`
	InstanceID   string    `json:"instanceId"`
	ProjectID    string    `json:"projectId"`
	HypervisorID string    `json:"hypervisorId"`
	RecordIDs    []string  `json:"recordIds"`
	Samples      int       `json:"samples"`
	LastValue    float64   `json:"lastValue"`
	PublishedAt  time.Time `json:"publishedAt"`
}

// Notifier publishes series events. Failures never affect collection.
type Notifier interface {
	NotifySeries(ctx context.Context, event SeriesEvent) error
	Close()
}

// Nop discards every event
type Nop struct{}

// NotifySeries does nothing
func (Nop) NotifySeries(ctx context.Context, event SeriesEvent) error { return nil }

// Close does nothing
func (Nop) Close() {}
