// Package model defines the persisted documents of the collector: metric records
// and the Project -> Instance -> Hypervisor entity chain that references them.
package model

import (
	"time"

	"github.com/Eco-Stack/eco-stack-prometheus/internal/timeseries"
)

// MetricType names the utilization a series describes
type MetricType string

const (
	MetricTypeCPU    MetricType = "CPU Utilization"
	MetricTypeMemory MetricType = "Memory Utilization"
)

// Origin distinguishes the two CPU records written per run.
// Instance-origin and hypervisor-origin ids are tracked in separate sets.
type Origin string

const (
	OriginInstance   Origin = "instance"
	OriginHypervisor Origin = "hypervisor"
)

// Meta carries the store-managed identity and version of a document
type Meta struct {
	ID      string `json:"id"`
	Version int64  `json:"version"`
}

// DocumentID returns the document id
func (m *Meta) DocumentID() string { return m.ID }

// SetDocumentID sets the document id
func (m *Meta) SetDocumentID(id string) { m.ID = id }

// DocumentVersion returns the version the document was read at
func (m *Meta) DocumentVersion() int64 { return m.Version }

// SetDocumentVersion records the version after a successful save
func (m *Meta) SetDocumentVersion(v int64) { m.Version = v }

// MetricRecord is a persisted, immutable MetricSeries
type MetricRecord struct {
	Meta
	timeseries.MetricSeries
	Origin Origin `json:"origin"`
	Host   string `json:"host"`
}

// NewMetricRecord wraps a finished series for persistence. The id is assigned by the store.
func NewMetricRecord(series timeseries.MetricSeries, origin Origin, host string) *MetricRecord {
	return &MetricRecord{
		MetricSeries: series,
		Origin:       origin,
		Host:         host,
	}
}

// Instance is a compute instance (cloud VM) being monitored
type Instance struct {
	Meta
	CreatedDate                       timeseries.Date `json:"createdDate"`
	CPUUtilizationMetricIDs           RefSet          `json:"cpuUtilizationMetricIds"`
	HypervisorCPUUtilizationMetricIDs RefSet          `json:"hypervisorCpuUtilizationMetricIds"`
	MemoryUtilizationMetricIDs        RefSet          `json:"memoryUtilizationMetricIds"`
	HypervisorIDs                     RefSet          `json:"hypervisorIds"`
}

// NewInstance creates an instance first seen at now
func NewInstance(id string, now time.Time, loc *time.Location) *Instance {
	return &Instance{
		Meta:        Meta{ID: id},
		CreatedDate: timeseries.DateOf(now, loc),
	}
}

// AddMetric links a metric record to the set matching its type and origin
func (i *Instance) AddMetric(metricType MetricType, origin Origin, recordID string) bool {
	switch {
	case metricType == MetricTypeCPU && origin == OriginHypervisor:
		return i.HypervisorCPUUtilizationMetricIDs.Add(recordID)
	case metricType == MetricTypeCPU:
		return i.CPUUtilizationMetricIDs.Add(recordID)
	case metricType == MetricTypeMemory:
		return i.MemoryUtilizationMetricIDs.Add(recordID)
	default:
		return false
	}
}

// Project groups instances
type Project struct {
	Meta
	CreatedDate timeseries.Date `json:"createdDate"`
	InstanceIDs RefSet          `json:"cloudInstanceIds"`
}

// NewProject creates a project first seen at now
func NewProject(id string, now time.Time, loc *time.Location) *Project {
	return &Project{
		Meta:        Meta{ID: id},
		CreatedDate: timeseries.DateOf(now, loc),
	}
}

// Hypervisor is a physical compute host
type Hypervisor struct {
	Meta
	Name                       string          `json:"name,omitempty"`
	CreatedDate                timeseries.Date `json:"createdDate"`
	LastInstanceCount          int             `json:"lastCloudInstanceCnt"`
	InstanceIDs                RefSet          `json:"cloudInstanceIds"`
	CPUUtilizationMetricIDs    RefSet          `json:"cpuUtilizationMetricIds"`
	MemoryUtilizationMetricIDs RefSet          `json:"memoryUtilizationMetricIds"`
}

// NewHypervisor creates a hypervisor first seen at now
func NewHypervisor(id, name string, now time.Time, loc *time.Location) *Hypervisor {
	return &Hypervisor{
		Meta:        Meta{ID: id},
		Name:        name,
		CreatedDate: timeseries.DateOf(now, loc),
	}
}

// AddInstance links a hosted instance and refreshes the instance count
func (h *Hypervisor) AddInstance(instanceID string) bool {
	added := h.InstanceIDs.Add(instanceID)
	h.LastInstanceCount = h.InstanceIDs.Len()
	return added
}

// AddMetric links a hypervisor-level metric record
func (h *Hypervisor) AddMetric(metricType MetricType, recordID string) bool {
	switch metricType {
	case MetricTypeCPU:
		return h.CPUUtilizationMetricIDs.Add(recordID)
	case MetricTypeMemory:
		return h.MemoryUtilizationMetricIDs.Add(recordID)
	default:
		return false
	}
}
