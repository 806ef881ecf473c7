package store

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"github.com/Eco-Stack/eco-stack-prometheus/internal/model"
)

// Collection names
const (
	CollectionMetricRecords = "metric_records"
	CollectionInstances     = "instances"
	CollectionProjects      = "projects"
	CollectionHypervisors   = "hypervisors"
)

// Storage drivers
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverPostgres = "postgres"
)

var (
	// ErrVersionConflict is returned by Save when the stored document changed since it was read
	ErrVersionConflict = errors.New("document version conflict")

	// ErrInvalidDocument is returned for nil documents
	ErrInvalidDocument = errors.New("invalid document")
)

// Document is a record persisted by id with an optimistic version
type Document interface {
	DocumentID() string
	SetDocumentID(id string)
	DocumentVersion() int64
	SetDocumentVersion(v int64)
}

// Collection defines the find/save contract every backend provides.
//
// Save is a full-document upsert by id. A document without an id is assigned a new one.
// The write succeeds only if the stored version still equals doc.DocumentVersion()
// (0 for documents that do not exist yet); otherwise ErrVersionConflict is returned.
// On success the document's version is advanced.
type Collection[D Document] interface {
	Name() string
	FindByID(ctx context.Context, id string) (D, bool, error)
	Save(ctx context.Context, doc D) error
}

// Config selects and configures a storage backend
type Config struct {
	Driver      string
	Path        string
	DatabaseURL string
}

// Store bundles the four collections the collector writes
type Store struct {
	Metrics     Collection[*model.MetricRecord]
	Instances   Collection[*model.Instance]
	Projects    Collection[*model.Project]
	Hypervisors Collection[*model.Hypervisor]

	ping  func(ctx context.Context) error
	close func()
}

// Open creates the store selected by cfg.Driver
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	switch cfg.Driver {
	case DriverMemory, "":
		logger.Info("Using in-memory document store")
		return NewMemStore(), nil
	case DriverFile:
		return NewFileStore(cfg.Path, logger)
	case DriverPostgres:
		return NewPostgresStore(ctx, cfg.DatabaseURL, logger)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

// Ping checks that the backend is reachable
func (s *Store) Ping(ctx context.Context) error {
	if s.ping == nil {
		return nil
	}
	return s.ping(ctx)
}

// Close releases backend resources
func (s *Store) Close() {
	if s.close != nil {
		s.close()
	}
}

func newMetricRecord() *model.MetricRecord { return &model.MetricRecord{} }
func newInstance() *model.Instance         { return &model.Instance{} }
func newProject() *model.Project           { return &model.Project{} }
func newHypervisor() *model.Hypervisor     { return &model.Hypervisor{} }

// checkVersion enforces the compare-and-swap rule shared by all backends
func checkVersion(collection, id string, stored, expected int64) error {
	if stored != expected {
		return fmt.Errorf("%w: %s/%s stored version %d, expected %d",
			ErrVersionConflict, collection, id, stored, expected)
	}
	return nil
}

func isNil(doc Document) bool {
	if doc == nil {
		return true
	}
	v := reflect.ValueOf(doc)
	return v.Kind() == reflect.Ptr && v.IsNil()
}
