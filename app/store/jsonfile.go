package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/go-pkgz/lgr"
)

// JSONFile implements Store with a single JSON file
type JSONFile struct {
	path string
}

// NewJSONFile makes store for given file, nothing created until Initialize
func NewJSONFile(path string) *JSONFile {
	return &JSONFile{path: path}
}

// Initialize creates the file with an empty collection if it doesn't exist yet
func (s *JSONFile) Initialize(ctx context.Context) error {
	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to check %s: %w", s.path, err)
	}
	log.Printf("[INFO] create empty jobs file %s", s.path)
	return s.SaveAll(ctx, []Job{})
}

// LoadAll reads and parses the whole file. Missing file is an empty collection,
// any other failure is returned wrapped with ErrUnavailable.
func (s *JSONFile) LoadAll(_ context.Context) ([]Job, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Job{}, nil
		}
		log.Printf("[WARN] failed to read jobs from %s: %v", s.path, err)
		return nil, fmt.Errorf("%w: read %s: %w", ErrUnavailable, s.path, err)
	}

	jobs := []Job{}
	if err := json.Unmarshal(data, &jobs); err != nil {
		log.Printf("[WARN] failed to parse jobs from %s: %v", s.path, err)
		return nil, fmt.Errorf("%w: parse %s: %w", ErrUnavailable, s.path, err)
	}
	if jobs == nil { // file with "null"
		jobs = []Job{}
	}
	return jobs, nil
}

// SaveAll overwrites the file with the whole collection. Data written to a temp file
// in the same directory first and renamed over the target, so the file is never partial.
func (s *JSONFile) SaveAll(_ context.Context, jobs []Job) error {
	if jobs == nil {
		jobs = []Job{}
	}
	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal jobs: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", s.path, err)
	}
	defer os.Remove(tmp.Name()) // no-op after successful rename

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}

// Close does nothing, file is not kept open
func (s *JSONFile) Close() error { return nil }

func (s *JSONFile) String() string { return "jsonfile:" + s.path }
