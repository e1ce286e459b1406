// Package backup makes timestamped snapshots of the job collection on a cron schedule
// and removes old ones beyond the retention count
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/robfig/cron/v3"

	"github.com/umputun/jobtrack/app/store"
)

const (
	filePrefix = "jobs-"
	fileSuffix = ".json"
	tsLayout   = "20060102T150405.000"
)

// Loader is the part of store.Store snapshots need
type Loader interface {
	LoadAll(ctx context.Context) ([]store.Job, error)
}

// Service makes snapshots of jobs from Store into Location, keeping up to Keep files (0 keeps all)
type Service struct {
	Store    Loader
	Location string
	Keep     int
	now      func() time.Time
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a standard 5-field cron spec or @descriptor
func ParseSchedule(schedule string) (cron.Schedule, error) {
	sched, err := parser.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid backup schedule %q: %w", schedule, err)
	}
	return sched, nil
}

// Run makes snapshots on schedule until ctx done
func (s *Service) Run(ctx context.Context, schedule string) error {
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.Location, 0o700); err != nil {
		return fmt.Errorf("failed to make backup location %s: %w", s.Location, err)
	}

	c := cron.New(cron.WithParser(parser))
	c.Schedule(sched, cron.FuncJob(func() {
		if _, err := s.Snapshot(ctx); err != nil {
			log.Printf("[WARN] backup failed: %v", err)
		}
	}))
	log.Printf("[INFO] backup to %s scheduled %q, keep %d", s.Location, schedule, s.Keep)

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done() // wait for running snapshot
	log.Printf("[DEBUG] backup scheduler stopped")
	return nil
}

// Snapshot writes all jobs to a new timestamped file and removes old snapshots. Returns the file name.
func (s *Service) Snapshot(ctx context.Context) (string, error) {
	jobs, err := s.Store.LoadAll(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load jobs: %w", err)
	}
	if jobs == nil {
		jobs = []store.Job{}
	}
	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal jobs: %w", err)
	}

	now := time.Now
	if s.now != nil {
		now = s.now
	}
	fname := filepath.Join(s.Location, filePrefix+now().UTC().Format(tsLayout)+fileSuffix)
	if err := os.WriteFile(fname, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", fname, err)
	}
	log.Printf("[INFO] backup %s created, %d jobs", fname, len(jobs))

	if err := s.cleanup(); err != nil {
		log.Printf("[WARN] failed to remove old backups: %v", err)
	}
	return fname, nil
}

// List returns snapshot files in location, oldest first
func (s *Service) List() ([]string, error) {
	entries, err := os.ReadDir(s.Location)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.Location, err)
	}
	res := []string{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), filePrefix) || !strings.HasSuffix(e.Name(), fileSuffix) {
			continue
		}
		res = append(res, filepath.Join(s.Location, e.Name()))
	}
	sort.Strings(res) // timestamp in name sorts chronologically
	return res, nil
}

func (s *Service) cleanup() error {
	if s.Keep <= 0 {
		return nil
	}
	files, err := s.List()
	if err != nil {
		return err
	}
	if len(files) <= s.Keep {
		return nil
	}
	for _, f := range files[:len(files)-s.Keep] {
		if err := os.Remove(f); err != nil {
			return fmt.Errorf("failed to remove %s: %w", f, err)
		}
		log.Printf("[DEBUG] old backup %s removed", f)
	}
	return nil
}
