package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/jobtrack/app/store"
)

// error messages returned to clients
const (
	msgNotFound      = "Job not found"
	msgUnavailable   = "Job store unavailable"
	msgInvalidBody   = "Invalid job payload"
	msgSaveFailed    = "Failed to save job"
	msgUpdateFailed  = "Failed to update job"
	msgDeleteFailed  = "Failed to delete job"
	msgDeleteSuccess = "Job deleted successfully"
)

// handleListJobs returns the whole collection in stored order
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, ok := s.loadJobs(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, jobs)
}

// handleGetJob returns a single job by id
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobs, ok := s.loadJobs(w, r)
	if !ok {
		return
	}
	idx := store.Find(jobs, r.PathValue("id"))
	if idx < 0 {
		s.writeJSONError(w, http.StatusNotFound, msgNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, jobs[idx])
}

// handleCreateJob appends a new job made from the request body. The id is always generated,
// appliedDate defaults to today and lastUpdate is set to now.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	patch, err := decodePatch(r)
	if err != nil {
		log.Printf("[DEBUG] invalid create payload: %v", err)
		s.writeJSONError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	jobs, ok := s.loadJobs(w, r)
	if !ok {
		return
	}

	now := s.now().UTC()
	job := store.NewJob(store.NewID(now))
	job.Merge(patch)
	job.DefaultAppliedDate(now.Format(store.DateLayout))
	job.Touch(now.Format(store.TimestampLayout))

	if err := s.saveJobs(r.Context(), append(jobs, job)); err != nil {
		log.Printf("[WARN] failed to save new job %s: %v", job.ID, err)
		s.writeJSONError(w, http.StatusInternalServerError, msgSaveFailed)
		return
	}
	log.Printf("[INFO] job %s created", job.ID)
	s.writeJSON(w, http.StatusCreated, job)
}

// handleUpdateJob shallow-merges the request body over the stored job and refreshes lastUpdate
func (s *Server) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	patch, err := decodePatch(r)
	if err != nil {
		log.Printf("[DEBUG] invalid update payload for %s: %v", id, err)
		s.writeJSONError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	jobs, ok := s.loadJobs(w, r)
	if !ok {
		return
	}
	idx := store.Find(jobs, id)
	if idx < 0 {
		s.writeJSONError(w, http.StatusNotFound, msgNotFound)
		return
	}

	job := jobs[idx]
	job.Merge(patch)
	job.Touch(s.now().UTC().Format(store.TimestampLayout))
	jobs[idx] = job

	if err := s.saveJobs(r.Context(), jobs); err != nil {
		log.Printf("[WARN] failed to save updated job %s: %v", id, err)
		s.writeJSONError(w, http.StatusInternalServerError, msgUpdateFailed)
		return
	}
	log.Printf("[INFO] job %s updated", id)
	s.writeJSON(w, http.StatusOK, job)
}

// handleDeleteJob removes every job with the given id, keeping order of the rest
func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	jobs, ok := s.loadJobs(w, r)
	if !ok {
		return
	}

	kept := make([]store.Job, 0, len(jobs))
	for _, j := range jobs {
		if j.ID != id {
			kept = append(kept, j)
		}
	}
	if len(kept) == len(jobs) {
		s.writeJSONError(w, http.StatusNotFound, msgNotFound)
		return
	}

	if err := s.saveJobs(r.Context(), kept); err != nil {
		log.Printf("[WARN] failed to save jobs after deleting %s: %v", id, err)
		s.writeJSONError(w, http.StatusInternalServerError, msgDeleteFailed)
		return
	}
	log.Printf("[INFO] job %s deleted", id)
	s.writeJSON(w, http.StatusOK, map[string]string{"message": msgDeleteSuccess})
}

// handleCountryStats returns number of jobs per country
func (s *Server) handleCountryStats(w http.ResponseWriter, r *http.Request) {
	jobs, ok := s.loadJobs(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, store.CountByCountry(jobs))
}

// handleJobSchema returns JSON schema of the job record
func (s *Server) handleJobSchema(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, store.Schema())
}

// loadJobs loads the collection, on failure writes 503 response and returns false
func (s *Server) loadJobs(w http.ResponseWriter, r *http.Request) ([]store.Job, bool) {
	jobs, err := s.store.LoadAll(r.Context())
	if err != nil {
		s.metrics.storeErrors.WithLabelValues("load").Inc()
		log.Printf("[WARN] failed to load jobs from %s: %v", s.store, err)
		s.writeJSONError(w, http.StatusServiceUnavailable, msgUnavailable)
		return nil, false
	}
	return jobs, true
}

// saveJobs saves the collection, retried by repeater if set
func (s *Server) saveJobs(ctx context.Context, jobs []store.Job) error {
	save := func() error { return s.store.SaveAll(ctx, jobs) }

	var err error
	if s.repeater == nil {
		err = save()
	} else {
		err = s.repeater.Do(ctx, save)
	}
	if err != nil {
		s.metrics.storeErrors.WithLabelValues("save").Inc()
		return fmt.Errorf("save to %s: %w", s.store, err)
	}
	return nil
}

// decodePatch reads request body as a JSON object, empty body is an empty object
func decodePatch(r *http.Request) (store.Job, error) {
	patch := store.Job{}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil && !errors.Is(err, io.EOF) {
		return store.Job{}, fmt.Errorf("decode body: %w", err)
	}
	return patch, nil
}
