// Package upsert persists finished series and links them into the
// Project -> Instance -> Hypervisor graph.
//
// Entity updates are read-modify-write cycles against versioned documents.
// A version conflict re-reads the entity and re-applies the same additions,
// so concurrent upserts converge on the union of their links.
package upsert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Eco-Stack/eco-stack-prometheus/internal/metrics"
	"github.com/Eco-Stack/eco-stack-prometheus/internal/model"
	"github.com/Eco-Stack/eco-stack-prometheus/internal/store"
	"github.com/Eco-Stack/eco-stack-prometheus/internal/timeseries"
)

// DefaultMaxConflictRetries bounds the read-modify-write attempts per entity
const DefaultMaxConflictRetries = 10

// HostContext names the entities a host's series belong to
type HostContext struct {
	Host         string `json:"host"`
	InstanceID   string `json:"instanceId"`
	ProjectID    string `json:"projectId"`
	HypervisorID string `json:"hypervisorId"`
}

// Validate checks every id is present
func (hc HostContext) Validate() error {
	switch {
	case hc.Host == "":
		return fmt.Errorf("%w: host is empty", ErrInvalidHostContext)
	case hc.InstanceID == "":
		return fmt.Errorf("%w: instance id is empty for %s", ErrInvalidHostContext, hc.Host)
	case hc.ProjectID == "":
		return fmt.Errorf("%w: project id is empty for %s", ErrInvalidHostContext, hc.Host)
	case hc.HypervisorID == "":
		return fmt.Errorf("%w: hypervisor id is empty for %s", ErrInvalidHostContext, hc.Host)
	}
	return nil
}

// Config configures an Upserter
type Config struct {
	MaxConflictRetries int
	Location           *time.Location
	Now                func() time.Time
}

// Result lists what one upsert persisted and linked
type Result struct {
	MetricType   model.MetricType      `json:"metricType"`
	Records      []*model.MetricRecord `json:"-"`
	RecordIDs    []string              `json:"recordIds"`
	InstanceID   string                `json:"instanceId"`
	ProjectID    string                `json:"projectId"`
	HypervisorID string                `json:"hypervisorId"`
}

// Upserter writes metric records and their entity links
type Upserter struct {
	logger     *zap.Logger
	store      *store.Store
	maxRetries int
	loc        *time.Location
	now        func() time.Time
}

// NewUpserter creates a new Upserter over s
func NewUpserter(logger *zap.Logger, s *store.Store, config Config) *Upserter {
	retries := config.MaxConflictRetries
	if retries <= 0 {
		retries = DefaultMaxConflictRetries
	}
	loc := config.Location
	if loc == nil {
		loc = time.UTC
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}

	return &Upserter{
		logger:     logger,
		store:      s,
		maxRetries: retries,
		loc:        loc,
		now:        now,
	}
}

// Upsert persists series for the host in hc and links the new record(s).
// CPU series are stored twice: an instance-origin and a hypervisor-origin record.
func (u *Upserter) Upsert(ctx context.Context, series timeseries.MetricSeries, hc HostContext) (*Result, error) {
	if err := hc.Validate(); err != nil {
		return nil, err
	}

	metricType := model.MetricType(series.Name)
	if metricType != model.MetricTypeCPU && metricType != model.MetricTypeMemory {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetricType, series.Name)
	}

	// Step 1: persist the record(s)
	origins := []model.Origin{model.OriginInstance}
	if metricType == model.MetricTypeCPU {
		origins = append(origins, model.OriginHypervisor)
	}

	result := &Result{
		MetricType:   metricType,
		InstanceID:   hc.InstanceID,
		ProjectID:    hc.ProjectID,
		HypervisorID: hc.HypervisorID,
	}

	for _, origin := range origins {
		rec := model.NewMetricRecord(series, origin, hc.Host)
		if err := u.store.Metrics.Save(ctx, rec); err != nil {
			if len(result.RecordIDs) > 0 {
				// the earlier record is stored but will never be linked
				u.logger.Warn("Orphaned metric record after persistence failure",
					zap.String("host", hc.Host),
					zap.Strings("recordIds", result.RecordIDs))
			}
			return nil, &UpsertError{
				Kind: KindPersistenceUnavailable,
				Err:  fmt.Errorf("failed to save %s record: %w", origin, err),
			}
		}
		result.Records = append(result.Records, rec)
		result.RecordIDs = append(result.RecordIDs, rec.ID)
	}

	// Steps 2-3: instance links every record and the hypervisor
	_, err := update(ctx, u, u.store.Instances, hc.InstanceID,
		func() *model.Instance {
			return model.NewInstance(hc.InstanceID, u.now(), u.loc)
		},
		func(inst *model.Instance) bool {
			changed := false
			for _, rec := range result.Records {
				if inst.AddMetric(metricType, rec.Origin, rec.ID) {
					changed = true
				}
			}
			if inst.HypervisorIDs.Add(hc.HypervisorID) {
				changed = true
			}
			return changed
		})
	if err != nil {
		return nil, u.linkFailed("instance", hc.InstanceID, result.RecordIDs, err)
	}

	// Step 4: project links the instance
	_, err = update(ctx, u, u.store.Projects, hc.ProjectID,
		func() *model.Project {
			return model.NewProject(hc.ProjectID, u.now(), u.loc)
		},
		func(p *model.Project) bool {
			return p.InstanceIDs.Add(hc.InstanceID)
		})
	if err != nil {
		return nil, u.linkFailed("project", hc.ProjectID, result.RecordIDs, err)
	}

	// Step 5: hypervisor links the instance and its own metric record
	hypervisorRecord := hypervisorRecordID(result.Records)
	_, err = update(ctx, u, u.store.Hypervisors, hc.HypervisorID,
		func() *model.Hypervisor {
			return model.NewHypervisor(hc.HypervisorID, hc.Host, u.now(), u.loc)
		},
		func(h *model.Hypervisor) bool {
			changed := false
			if h.Name == "" {
				h.Name = hc.Host
				changed = true
			}
			if h.AddInstance(hc.InstanceID) {
				changed = true
			}
			if h.AddMetric(metricType, hypervisorRecord) {
				changed = true
			}
			return changed
		})
	if err != nil {
		return nil, u.linkFailed("hypervisor", hc.HypervisorID, result.RecordIDs, err)
	}

	u.logger.Info("Saved metric series",
		zap.String("host", hc.Host),
		zap.String("metricType", string(metricType)),
		zap.String("date", series.Date.String()),
		zap.Int("samples", series.Len()),
		zap.Strings("recordIds", result.RecordIDs))

	return result, nil
}

func (u *Upserter) linkFailed(entity, id string, recordIDs []string, err error) error {
	u.logger.Error("Failed to link metric records",
		zap.String("entity", entity),
		zap.String("entityId", id),
		zap.Strings("recordIds", recordIDs),
		zap.Error(err))

	return &UpsertError{
		Kind:      KindLinkFailed,
		Entity:    entity,
		EntityID:  id,
		RecordIDs: recordIDs,
		Err:       err,
	}
}

// hypervisorRecordID picks the record a hypervisor tracks: the hypervisor-origin
// record when there is one, else the instance-origin record
func hypervisorRecordID(records []*model.MetricRecord) string {
	for _, rec := range records {
		if rec.Origin == model.OriginHypervisor {
			return rec.ID
		}
	}
	if len(records) > 0 {
		return records[0].ID
	}
	return ""
}

// update fetches or creates the document id, applies the additions and saves it,
// retrying from a fresh read on version conflicts
func update[D store.Document](
	ctx context.Context,
	u *Upserter,
	c store.Collection[D],
	id string,
	create func() D,
	apply func(D) bool,
) (D, error) {
	var zero D

	for attempt := 1; ; attempt++ {
		doc, found, err := c.FindByID(ctx, id)
		if err != nil {
			return zero, fmt.Errorf("failed to load %s/%s: %w", c.Name(), id, err)
		}
		if !found {
			doc = create()
		}

		if !apply(doc) && found {
			return doc, nil
		}

		err = c.Save(ctx, doc)
		if err == nil {
			return doc, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return zero, err
		}

		metrics.RecordUpsertConflict(c.Name())
		if attempt >= u.maxRetries {
			return zero, fmt.Errorf("gave up after %d attempts: %w", attempt, err)
		}

		u.logger.Debug("Retrying entity update after version conflict",
			zap.String("collection", c.Name()),
			zap.String("id", id),
			zap.Int("attempt", attempt))

		if err := ctx.Err(); err != nil {
			return zero, err
		}
	}
}
