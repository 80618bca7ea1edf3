package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/statgrid/gridstore-exporter/internal/config"
	"github.com/statgrid/gridstore-exporter/internal/metrics"
)

// StatusResponse describes the exporter and its runtime.
type StatusResponse struct {
	Service        string    `json:"service"`
	Version        string    `json:"version"`
	Timestamp      time.Time `json:"timestamp"`
	Uptime         string    `json:"uptime"`
	RuntimeRunning bool      `json:"runtime_running"`
	Scrapes        uint64    `json:"scrapes"`
	Tables         int       `json:"tables"`
}

// TableResponse is one table's statistics. Unavailable statistics
// report as zero with Available false.
type TableResponse struct {
	Name        string `json:"name"`
	MemoryBytes int64  `json:"memory_bytes"`
	Size        int64  `json:"size"`
	Available   bool   `json:"available"`
}

// LocksResponse summarizes the runtime's lock table.
type LocksResponse struct {
	Held      []HeldLockResponse   `json:"held"`
	Queued    []QueuedLockResponse `json:"queued"`
	Timestamp time.Time            `json:"timestamp"`
}

// HeldLockResponse is one granted lock.
type HeldLockResponse struct {
	Entity     string `json:"entity"`
	Key        string `json:"key,omitempty"`
	WholeTable bool   `json:"whole_table"`
	Type       string `json:"type"`
	Owner      string `json:"owner"`
}

// QueuedLockResponse is one waiting lock request.
type QueuedLockResponse struct {
	Table string `json:"table"`
	Key   string `json:"key,omitempty"`
	Type  string `json:"type"`
	Owner string `json:"owner"`
}

// EnabledRequest is the admin payload for replacing the enablement set.
type EnabledRequest struct {
	Enabled []string `json:"enabled" validate:"required,min=1,dive,metrickey"`
}

// EnabledResponse reports the enablement set in effect.
type EnabledResponse struct {
	All     bool     `json:"all"`
	Enabled []string `json:"enabled,omitempty"`
	Known   []string `json:"known"`
}

// Version is stamped at build time.
var Version = "dev"

func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(s.startTime).String(),
	})
}

// readyzHandler reports ready only once the runtime is up: scrapes
// before that point return empty expositions.
func (s *Server) readyzHandler(w http.ResponseWriter, r *http.Request) {
	if s.intro == nil || !s.intro.Running() {
		s.writeJSON(w, r, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "not ready",
			"timestamp": time.Now().UTC(),
		})
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"status":    "ready",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	running := s.intro != nil && s.intro.Running()
	tables := 0
	if running {
		tables = len(s.intro.Tables())
	}

	s.writeJSON(w, r, http.StatusOK, StatusResponse{
		Service:        "gridstore-exporter",
		Version:        Version,
		Timestamp:      time.Now().UTC(),
		Uptime:         time.Since(s.startTime).String(),
		RuntimeRunning: running,
		Scrapes:        s.exporter.Scrapes(),
		Tables:         tables,
	})
}

// collectTables walks the runtime's table list into API form.
func (s *Server) collectTables() []TableResponse {
	if s.intro == nil || !s.intro.Running() {
		return []TableResponse{}
	}

	wordSize := int64(s.intro.WordSize())
	names := s.intro.Tables()
	out := make([]TableResponse, 0, len(names))
	for _, name := range names {
		words, wordsOK := s.intro.TableMemoryWords(name)
		size, sizeOK := s.intro.TableSize(name)
		out = append(out, TableResponse{
			Name:        name,
			MemoryBytes: words * wordSize,
			Size:        size,
			Available:   wordsOK && sizeOK,
		})
	}
	return out
}

func (s *Server) tablesHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"tables":    s.collectTables(),
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) locksHandler(w http.ResponseWriter, r *http.Request) {
	response := LocksResponse{
		Held:      []HeldLockResponse{},
		Queued:    []QueuedLockResponse{},
		Timestamp: time.Now().UTC(),
	}

	if s.intro != nil && s.intro.Running() {
		for _, l := range s.intro.HeldLocks() {
			response.Held = append(response.Held, HeldLockResponse{
				Entity:     l.Entity,
				Key:        l.Key,
				WholeTable: l.WholeTable,
				Type:       string(l.Type),
				Owner:      l.Owner.String(),
			})
		}
		for _, q := range s.intro.LockQueue() {
			response.Queued = append(response.Queued, QueuedLockResponse{
				Table: q.Table,
				Key:   q.Key,
				Type:  string(q.Type),
				Owner: q.Owner.String(),
			})
		}
	}

	s.writeJSON(w, r, http.StatusOK, response)
}

func (s *Server) getEnabledHandler(w http.ResponseWriter, r *http.Request) {
	enabled := s.store.Enablement()
	s.writeJSON(w, r, http.StatusOK, EnabledResponse{
		All:     enabled.All(),
		Enabled: enabled.Keys(),
		Known:   metrics.KnownKeys(),
	})
}

// putEnabledHandler replaces the enablement set. The change takes effect
// on the next scrape; no restart is involved.
func (s *Server) putEnabledHandler(w http.ResponseWriter, r *http.Request) {
	var req EnabledRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	if err := s.validate.Struct(&req); err != nil {
		var verrs validator.ValidationErrors
		if ok := asValidationErrors(err, &verrs); ok {
			s.writeError(w, r, http.StatusUnprocessableEntity,
				fmt.Errorf("invalid enablement set: %s", describeValidation(verrs, req.Enabled)))
			return
		}
		s.writeError(w, r, http.StatusUnprocessableEntity, err)
		return
	}

	s.store.SetEnabled(req.Enabled)
	s.logger.Info("Enablement set updated", "enabled", req.Enabled)

	s.getEnabledHandler(w, r)
}

func describeValidation(verrs validator.ValidationErrors, entries []string) string {
	for _, fe := range verrs {
		if fe.Tag() == "metrickey" {
			return fmt.Sprintf("unknown metric key %q", fe.Value())
		}
	}
	if len(entries) == 0 {
		return "enabled must list at least one key or " + config.EnableAll
	}
	return verrs.Error()
}
