package upsert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Eco-Stack/eco-stack-prometheus/internal/model"
	"github.com/Eco-Stack/eco-stack-prometheus/internal/store"
	"github.com/Eco-Stack/eco-stack-prometheus/internal/timeseries"
)

var testHost = HostContext{
	Host:         "192.168.0.36:9100",
	InstanceID:   "Instance 1",
	ProjectID:    "CloudProject 1",
	HypervisorID: "Hypervisor 1",
}

func testSeries(metricType model.MetricType) timeseries.MetricSeries {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	b := timeseries.NewBuilder(3)
	for i := 0; i < 3; i++ {
		_ = b.Append(timeseries.NewSample(start.Add(time.Duration(i)*time.Hour), float64(i*10)))
	}
	series, _ := b.Finish(string(metricType), "2024-05-01")
	return series
}

func newTestUpserter(t *testing.T, s *store.Store, now time.Time) *Upserter {
	return NewUpserter(zaptest.NewLogger(t), s, Config{
		Location: time.UTC,
		Now:      func() time.Time { return now },
	})
}

func TestUpsertMemoryCreatesGraph(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	u := newTestUpserter(t, s, time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))

	result, err := u.Upsert(ctx, testSeries(model.MetricTypeMemory), testHost)
	require.NoError(t, err)
	require.Len(t, result.RecordIDs, 1)
	recordID := result.RecordIDs[0]

	rec, found, err := s.Metrics.FindByID(ctx, recordID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, model.OriginInstance, rec.Origin)
	assert.Equal(t, 3, rec.Len())

	inst, found, err := s.Instances.FindByID(ctx, "Instance 1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, model.RefSet{recordID}, inst.MemoryUtilizationMetricIDs)
	assert.Empty(t, inst.CPUUtilizationMetricIDs)
	assert.Equal(t, model.RefSet{"Hypervisor 1"}, inst.HypervisorIDs)
	assert.Equal(t, timeseries.Date("2024-05-01"), inst.CreatedDate)

	proj, found, err := s.Projects.FindByID(ctx, "CloudProject 1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, model.RefSet{"Instance 1"}, proj.InstanceIDs)

	hyp, found, err := s.Hypervisors.FindByID(ctx, "Hypervisor 1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, model.RefSet{"Instance 1"}, hyp.InstanceIDs)
	assert.Equal(t, 1, hyp.LastInstanceCount)
	assert.Equal(t, "192.168.0.36:9100", hyp.Name)
	assert.Equal(t, model.RefSet{recordID}, hyp.MemoryUtilizationMetricIDs)
}

func TestUpsertCPUKeepsOriginsApart(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	u := newTestUpserter(t, s, time.Now())

	result, err := u.Upsert(ctx, testSeries(model.MetricTypeCPU), testHost)
	require.NoError(t, err)
	require.Len(t, result.Records, 2)

	instanceRecord, hypervisorRecord := result.Records[0], result.Records[1]
	assert.Equal(t, model.OriginInstance, instanceRecord.Origin)
	assert.Equal(t, model.OriginHypervisor, hypervisorRecord.Origin)
	assert.NotEqual(t, instanceRecord.ID, hypervisorRecord.ID)

	inst, _, err := s.Instances.FindByID(ctx, "Instance 1")
	require.NoError(t, err)
	assert.Equal(t, model.RefSet{instanceRecord.ID}, inst.CPUUtilizationMetricIDs)
	assert.Equal(t, model.RefSet{hypervisorRecord.ID}, inst.HypervisorCPUUtilizationMetricIDs)

	hyp, _, err := s.Hypervisors.FindByID(ctx, "Hypervisor 1")
	require.NoError(t, err)
	assert.Equal(t, model.RefSet{hypervisorRecord.ID}, hyp.CPUUtilizationMetricIDs)
}

func TestUpsertIsIdempotentOnEntities(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()

	first := newTestUpserter(t, s, time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	r1, err := first.Upsert(ctx, testSeries(model.MetricTypeMemory), testHost)
	require.NoError(t, err)

	// a later run on another day must not move createdDate
	second := newTestUpserter(t, s, time.Date(2024, 5, 3, 9, 0, 0, 0, time.UTC))
	r2, err := second.Upsert(ctx, testSeries(model.MetricTypeMemory), testHost)
	require.NoError(t, err)

	inst, _, err := s.Instances.FindByID(ctx, "Instance 1")
	require.NoError(t, err)
	assert.Equal(t, timeseries.Date("2024-05-01"), inst.CreatedDate)
	assert.Equal(t, model.RefSet{r1.RecordIDs[0], r2.RecordIDs[0]}, inst.MemoryUtilizationMetricIDs)
	assert.Equal(t, model.RefSet{"Hypervisor 1"}, inst.HypervisorIDs)

	proj, _, err := s.Projects.FindByID(ctx, "CloudProject 1")
	require.NoError(t, err)
	assert.Equal(t, model.RefSet{"Instance 1"}, proj.InstanceIDs)
	assert.Equal(t, timeseries.Date("2024-05-01"), proj.CreatedDate)
	assert.Equal(t, int64(1), proj.Version, "unchanged project is not rewritten")

	hyp, _, err := s.Hypervisors.FindByID(ctx, "Hypervisor 1")
	require.NoError(t, err)
	assert.Equal(t, 1, hyp.LastInstanceCount)
}

func TestUpsertAbsorbsDuplicateLinks(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	u := newTestUpserter(t, s, time.Now())

	// the project already lists the instance
	require.NoError(t, s.Projects.Save(ctx, &model.Project{
		Meta:        model.Meta{ID: "CloudProject 1"},
		CreatedDate: "2023-01-01",
		InstanceIDs: model.RefSet{"Instance 1"},
	}))

	_, err := u.Upsert(ctx, testSeries(model.MetricTypeMemory), testHost)
	require.NoError(t, err)

	proj, _, err := s.Projects.FindByID(ctx, "CloudProject 1")
	require.NoError(t, err)
	assert.Equal(t, model.RefSet{"Instance 1"}, proj.InstanceIDs)
	assert.Equal(t, timeseries.Date("2023-01-01"), proj.CreatedDate)
}

func TestConcurrentUpsertsUnionLinks(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	u := newTestUpserter(t, s, time.Now())

	const writers = 8
	var wg sync.WaitGroup
	results := make([]*Result, writers)
	errs := make([]error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			hc := testHost
			hc.InstanceID = fmt.Sprintf("Instance %d", i%2)
			results[i], errs[i] = u.Upsert(ctx, testSeries(model.MetricTypeMemory), hc)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	perInstance := map[string][]string{}
	for _, r := range results {
		perInstance[r.InstanceID] = append(perInstance[r.InstanceID], r.RecordIDs...)
	}

	for id, recordIDs := range perInstance {
		inst, found, err := s.Instances.FindByID(ctx, id)
		require.NoError(t, err)
		require.True(t, found)
		assert.ElementsMatch(t, recordIDs, inst.MemoryUtilizationMetricIDs.Slice())
	}

	proj, _, err := s.Projects.FindByID(ctx, "CloudProject 1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Instance 0", "Instance 1"}, proj.InstanceIDs.Slice())

	hyp, _, err := s.Hypervisors.FindByID(ctx, "Hypervisor 1")
	require.NoError(t, err)
	assert.Equal(t, 2, hyp.LastInstanceCount)
	assert.Len(t, hyp.MemoryUtilizationMetricIDs, writers)
}

type failingCollection[D store.Document] struct {
	store.Collection[D]
	err error
}

func (f failingCollection[D]) Save(ctx context.Context, doc D) error {
	return f.err
}

func TestUpsertPersistenceUnavailable(t *testing.T) {
	s := store.NewMemStore()
	s.Metrics = failingCollection[*model.MetricRecord]{Collection: s.Metrics, err: errors.New("connection refused")}
	u := newTestUpserter(t, s, time.Now())

	_, err := u.Upsert(context.Background(), testSeries(model.MetricTypeMemory), testHost)
	require.Error(t, err)

	var ue *UpsertError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, KindPersistenceUnavailable, ue.Kind)
	assert.True(t, errors.Is(err, ErrPersistenceUnavailable))

	_, found, err := s.Instances.FindByID(context.Background(), "Instance 1")
	require.NoError(t, err)
	assert.False(t, found, "no entity is touched when the record is not stored")
}

func TestUpsertLinkFailedCarriesRecordIDs(t *testing.T) {
	s := store.NewMemStore()
	s.Projects = failingCollection[*model.Project]{Collection: s.Projects, err: errors.New("timeout")}
	u := newTestUpserter(t, s, time.Now())

	_, err := u.Upsert(context.Background(), testSeries(model.MetricTypeCPU), testHost)
	require.Error(t, err)

	var ue *UpsertError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, KindLinkFailed, ue.Kind)
	assert.Equal(t, "project", ue.Entity)
	assert.Len(t, ue.RecordIDs, 2)
	assert.True(t, errors.Is(err, ErrLinkFailed))

	// the instance was linked before the project failed
	inst, found, err := s.Instances.FindByID(context.Background(), "Instance 1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, model.RefSet{ue.RecordIDs[0]}, inst.CPUUtilizationMetricIDs)
}

func TestUpsertGivesUpAfterRetries(t *testing.T) {
	s := store.NewMemStore()
	s.Hypervisors = failingCollection[*model.Hypervisor]{Collection: s.Hypervisors, err: store.ErrVersionConflict}
	u := NewUpserter(zaptest.NewLogger(t), s, Config{MaxConflictRetries: 3})

	_, err := u.Upsert(context.Background(), testSeries(model.MetricTypeMemory), testHost)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLinkFailed))
	assert.True(t, errors.Is(err, store.ErrVersionConflict))
}

func TestUpsertRejectsBadInput(t *testing.T) {
	u := newTestUpserter(t, store.NewMemStore(), time.Now())

	hc := testHost
	hc.ProjectID = ""
	_, err := u.Upsert(context.Background(), testSeries(model.MetricTypeMemory), hc)
	assert.ErrorIs(t, err, ErrInvalidHostContext)

	_, err = u.Upsert(context.Background(), testSeries(model.MetricType("Disk Utilization")), testHost)
	assert.ErrorIs(t, err, ErrUnknownMetricType)
}
