package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/jobboard/app/registry"
)

// handleListJobs returns all jobs in insertion order, empty array if none
func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.registry.List())
}

// handleAddJob adds json object from request body as a new job.
// Any "id" field supplied by the caller is replaced by the assigned one.
func (s *Server) handleAddJob(w http.ResponseWriter, r *http.Request) {
	if !isJSONContent(r.Header.Get("Content-Type")) {
		log.Printf("[DEBUG] rejected job from %s: content type %q", r.RemoteAddr, r.Header.Get("Content-Type"))
		s.writeJSONError(w, http.StatusUnsupportedMediaType, "content type must be application/json")
		return
	}

	job, err := decodeJob(r.Body)
	if err != nil {
		log.Printf("[DEBUG] rejected job from %s: %v", r.RemoteAddr, err)
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	stored, err := s.registry.Add(job)
	if err != nil {
		log.Printf("[WARN] failed to add job: %v", err)
		s.writeJSONError(w, http.StatusInternalServerError, "failed to add job")
		return
	}
	log.Printf("[DEBUG] job %d added", stored.ID())

	if s.listener != nil {
		s.listener.OnJobAdded(stored)
	}

	s.writeJSON(w, http.StatusCreated, MessageResponse{Message: "Job added"})
}

// decodeJob reads a single json object. Numbers are kept as json.Number to round-trip unchanged.
func decodeJob(body io.Reader) (registry.Job, error) {
	if body == nil {
		return nil, errors.New("empty request body")
	}

	dec := json.NewDecoder(body)
	dec.UseNumber()

	var job registry.Job
	if err := dec.Decode(&job); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty request body")
		}
		return nil, fmt.Errorf("invalid job, expected json object: %w", err)
	}
	if job == nil {
		return nil, errors.New("invalid job, expected json object, got null")
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("invalid job, unexpected data after json object")
	}
	return job, nil
}

// isJSONContent checks for application/json or a structured application/*+json media type
func isJSONContent(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || (strings.HasPrefix(mt, "application/") && strings.HasSuffix(mt, "+json"))
}
