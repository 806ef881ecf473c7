package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FileCollection persists each document as a JSON file under its collection directory.
// Version checks are serialized per collection, so one process owns a directory.
type FileCollection[D Document] struct {
	dir    string
	name   string
	logger *zap.Logger
	mu     sync.RWMutex
	newDoc func() D
}

// NewFileCollection creates a new file-backed collection in dir/name
func NewFileCollection[D Document](dir, name string, logger *zap.Logger, newDoc func() D) (*FileCollection[D], error) {
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	return &FileCollection[D]{
		dir:    path,
		name:   name,
		logger: logger,
		newDoc: newDoc,
	}, nil
}

// NewFileStore creates a store rooted at dir
func NewFileStore(dir string, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("file store path cannot be empty")
	}

	metrics, err := NewFileCollection(dir, CollectionMetricRecords, logger, newMetricRecord)
	if err != nil {
		return nil, err
	}
	instances, err := NewFileCollection(dir, CollectionInstances, logger, newInstance)
	if err != nil {
		return nil, err
	}
	projects, err := NewFileCollection(dir, CollectionProjects, logger, newProject)
	if err != nil {
		return nil, err
	}
	hypervisors, err := NewFileCollection(dir, CollectionHypervisors, logger, newHypervisor)
	if err != nil {
		return nil, err
	}

	logger.Info("Using file document store", zap.String("path", dir))

	return &Store{
		Metrics:     metrics,
		Instances:   instances,
		Projects:    projects,
		Hypervisors: hypervisors,
		ping: func(ctx context.Context) error {
			_, err := os.Stat(dir)
			return err
		},
	}, nil
}

// Name returns the collection name
func (f *FileCollection[D]) Name() string {
	return f.name
}

// FindByID loads a document from disk
func (f *FileCollection[D]) FindByID(ctx context.Context, id string) (D, bool, error) {
	var zero D
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.load(id)
}

// Save writes a document to disk if its version matches the stored one
func (f *FileCollection[D]) Save(ctx context.Context, doc D) error {
	if isNil(doc) {
		return ErrInvalidDocument
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if doc.DocumentID() == "" {
		doc.SetDocumentID(uuid.New().String())
	}
	id := doc.DocumentID()

	var stored int64
	current, exists, err := f.load(id)
	if err != nil {
		return err
	}
	if exists {
		stored = current.DocumentVersion()
	}

	expected := doc.DocumentVersion()
	if err := checkVersion(f.name, id, stored, expected); err != nil {
		return err
	}

	doc.SetDocumentVersion(expected + 1)
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		doc.SetDocumentVersion(expected)
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	// Write to a temp file and rename so readers never see a partial document
	filePath := f.path(id)
	tmp, err := os.CreateTemp(f.dir, ".tmp-*")
	if err != nil {
		doc.SetDocumentVersion(expected)
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		doc.SetDocumentVersion(expected)
		return fmt.Errorf("failed to write document file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		doc.SetDocumentVersion(expected)
		return fmt.Errorf("failed to write document file: %w", err)
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		doc.SetDocumentVersion(expected)
		return fmt.Errorf("failed to write document file: %w", err)
	}

	f.logger.Debug("Saved document to disk",
		zap.String("collection", f.name),
		zap.String("id", id),
		zap.Int64("version", expected+1),
		zap.String("filePath", filePath))

	return nil
}

// IDs lists the ids of all stored documents
func (f *FileCollection[D]) IDs() ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	files, err := filepath.Glob(filepath.Join(f.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list document files: %w", err)
	}

	ids := make([]string, 0, len(files))
	for _, filePath := range files {
		name := strings.TrimSuffix(filepath.Base(filePath), ".json")
		id, err := url.PathUnescape(name)
		if err != nil {
			f.logger.Warn("Skipping unreadable document file name", zap.String("filePath", filePath))
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *FileCollection[D]) load(id string) (D, bool, error) {
	var zero D

	data, err := os.ReadFile(f.path(id))
	if os.IsNotExist(err) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("failed to read file: %w", err)
	}

	doc := f.newDoc()
	if err := json.Unmarshal(data, doc); err != nil {
		return zero, false, fmt.Errorf("failed to unmarshal %s/%s: %w", f.name, id, err)
	}
	return doc, true, nil
}

// path maps an id to a file name; ids such as "Instance 1" or "10.0.0.1:9100" are escaped
func (f *FileCollection[D]) path(id string) string {
	return filepath.Join(f.dir, url.PathEscape(id)+".json")
}
