package web

import (
	"encoding/json"
	"net/http"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/invopop/jsonschema"

	"github.com/umputun/jobboard/app/sysinfo"
)

// MessageResponse is the JSON response for successful POST /jobs
type MessageResponse struct {
	Message string `json:"message" jsonschema:"description=confirmation message"`
}

// ErrorResponse is the JSON response for rejected requests
type ErrorResponse struct {
	Error string `json:"error" jsonschema:"description=reason of the rejection"`
}

// StatusResponse is the JSON response for /api/v1/status
type StatusResponse struct {
	Version   string         `json:"version" jsonschema:"description=application version"`
	Jobs      int            `json:"jobs" jsonschema:"description=number of jobs in registry,minimum=0"`
	StartedAt time.Time      `json:"started_at" jsonschema:"description=server start time"`
	Uptime    string         `json:"uptime" jsonschema:"description=time since start"`
	Host      *sysinfo.Stats `json:"host,omitempty" jsonschema:"description=host metrics snapshot"`
}

// handleStatus returns registry size, version, uptime and host metrics
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Version:   s.version,
		Jobs:      s.registry.Len(),
		StartedAt: s.startedAt,
		Uptime:    time.Since(s.startedAt).Truncate(time.Second).String(),
	}
	if s.hostStats != nil {
		st := s.hostStats.Collect()
		resp.Host = &st
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleSchema returns json schemas of api documents
func (s *Server) handleSchema(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.schemas)
}

// apiSchemas reflects json schemas of documents returned by the api.
// Job records have no schema, any json object is accepted.
func apiSchemas() map[string]any {
	return map[string]any{
		"message": jsonschema.Reflect(&MessageResponse{}),
		"error":   jsonschema.Reflect(&ErrorResponse{}),
		"status":  jsonschema.Reflect(&StatusResponse{}),
	}
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[WARN] failed to encode JSON response: %v", err)
	}
}

// writeJSONError writes a JSON error response
func (s *Server) writeJSONError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}
