package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	domain "github.com/oshokin/node-upgrader/internal/domain/upgrade"
)

// journalFilePermissions is the mode of the journal file.
const journalFilePermissions = 0o644

// Repository defines persistence operations for run records.
type Repository interface {
	Load(ctx context.Context) (*domain.Record, error)
	Save(ctx context.Context, record *domain.Record) error
}

// FileRepository persists the last run record to a YAML file on disk.
type FileRepository struct {
	// path is the filesystem location of the journal file.
	path string
	// mu protects concurrent access to the journal file.
	mu sync.Mutex
}

var (
	// ErrNotFound is returned when no run has been recorded yet.
	ErrNotFound = errors.New("run record not found")
	// errNilRecord is returned when Save is given nothing to store.
	errNilRecord = errors.New("run record is nil")
)

// NewFileRepository creates a repository that reads and writes YAML at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Load reads the last run record from disk.
func (r *FileRepository) Load(_ context.Context) (*domain.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read journal file: %w", err)
	}

	var record domain.Record
	if err = yaml.Unmarshal(contents, &record); err != nil {
		return nil, fmt.Errorf("decode journal file: %w", err)
	}

	return &record, nil
}

// Save replaces the journal with record. The file is written next to its
// final location and renamed, so readers never see half a record.
func (r *FileRepository) Save(_ context.Context, record *domain.Record) error {
	if record == nil {
		return errNilRecord
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := yaml.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode run record: %w", err)
	}

	if err = os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create journal directory: %w", err)
	}

	tmp := r.path + ".tmp"
	if err = os.WriteFile(tmp, data, journalFilePermissions); err != nil {
		return fmt.Errorf("write journal file: %w", err)
	}

	if err = os.Rename(tmp, r.path); err != nil {
		_ = os.Remove(tmp)

		return fmt.Errorf("replace journal file: %w", err)
	}

	return nil
}
