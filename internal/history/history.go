// Package history persists pipeline run records.
//
// The FileRepository stores records as JSON on disk; the status command
// reads them back. An absent file is an empty history, not an error.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Status values recorded per pipeline step.
const (
	// StatusOK marks a step that completed successfully.
	StatusOK = "ok"
	// StatusFailed marks a step that returned an error.
	StatusFailed = "failed"
	// StatusSkipped marks a step that never ran.
	StatusSkipped = "skipped"
)

// historyFileMode keeps the run history private to the user.
const historyFileMode = 0o600

// Step is the recorded outcome of one pipeline step.
type Step struct {
	// Status is one of StatusOK, StatusFailed, StatusSkipped.
	Status string `json:"status"`
	// Error holds the failure message for failed steps.
	Error string `json:"error,omitempty"`
}

// Record describes one pipeline run.
type Record struct {
	// ID uniquely identifies the run.
	ID string `json:"id"`
	// Revision is the commit hash the run built, if known.
	Revision string `json:"revision,omitempty"`
	// Digest is the manifest digest of the published image.
	Digest string `json:"digest,omitempty"`
	// Tags lists the references published by the build step.
	Tags []string `json:"tags,omitempty"`
	// StartedAt and FinishedAt bound the run.
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	// Build, Deploy and Publish hold the per-step outcomes.
	Build   Step `json:"build"`
	Deploy  Step `json:"deploy"`
	Publish Step `json:"publish"`
}

// Repository defines persistence operations for run records.
type Repository interface {
	Load(ctx context.Context) ([]Record, error)
	Append(ctx context.Context, record Record) error
	Latest(ctx context.Context, n int) ([]Record, error)
}

// FileRepository persists run records to a JSON file on disk.
type FileRepository struct {
	// path is the filesystem location of the history file.
	path string
	// mu protects concurrent access to the history file.
	mu sync.Mutex
}

// NewFileRepository creates a repository reading and writing JSON at the
// provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Load reads every record from disk, oldest first.
func (r *FileRepository) Load(_ context.Context) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.load()
}

// Append adds a record to the history file, creating it when absent.
func (r *FileRepository) Append(_ context.Context, record Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.load()
	if err != nil {
		return err
	}

	records = append(records, record)

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}

	if err = os.WriteFile(r.path, data, historyFileMode); err != nil {
		return fmt.Errorf("write history file: %w", err)
	}

	return nil
}

// Latest returns up to n most recent records, newest first.
func (r *FileRepository) Latest(_ context.Context, n int) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.load()
	if err != nil {
		return nil, err
	}

	latest := make([]Record, 0, n)
	for i := len(records) - 1; i >= 0 && len(latest) < n; i-- {
		latest = append(latest, records[i])
	}

	return latest, nil
}

// load reads the history file without locking; callers hold the mutex.
func (r *FileRepository) load() ([]Record, error) {
	contents, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("read history file: %w", err)
	}

	var records []Record
	if err = json.Unmarshal(contents, &records); err != nil {
		return nil, fmt.Errorf("decode history file: %w", err)
	}

	return records, nil
}
