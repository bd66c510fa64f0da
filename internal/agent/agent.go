package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/framefarm/internal/core"
	"github.com/3cpo-dev/framefarm/internal/telemetry"
	"github.com/3cpo-dev/framefarm/pkg/api"
)

type Server struct {
	Version  string
	Executor *core.TaskExecutor
	Merger   *core.MergeAggregator
	// Store is optional; task and merge results are recorded when set.
	Store *core.Store
	// WorkDir holds one directory per job.
	WorkDir string
	// Token enables bearer auth when non-empty.
	Token string

	srv     *http.Server
	running atomic.Int64

	mu      sync.Mutex
	results map[string][]*api.TaskResult
}

// Routes for the server
func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("/v0/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		_ = r.Body.Close()

		telemetry.CounterGlobal("framefarm_agent_heartbeats", 1, map[string]string{
			"component": "agent",
			"endpoint":  "heartbeat",
		})

		h := HeartbeatResponse{Time: time.Now(), Host: r.Host, Version: s.Version, Running: int(s.running.Load())}
		_ = json.NewEncoder(w).Encode(h)

		telemetry.TimerGlobal("framefarm_agent_request_duration", time.Since(start), map[string]string{
			"component": "agent",
			"endpoint":  "heartbeat",
			"status":    "200",
		})
	})
	mux.HandleFunc("/v0/metrics", func(w http.ResponseWriter, r *http.Request) {
		_ = r.Body.Close()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		if err := telemetry.WriteText(w, telemetry.GetGlobal().GetMetrics()); err != nil {
			log.Warn().Err(err).Msg("write metrics")
		}
	})
	mux.HandleFunc("/v0/tasks", s.authorized(s.handleTask))
	mux.HandleFunc("/v0/merge", s.authorized(s.handleMerge))
}

func (s *Server) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Token != "" {
			auth := r.Header.Get("Authorization")
			x := r.Header.Get("X-Auth-Token")
			if auth != "Bearer "+s.Token && x != s.Token {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	requestStart := time.Now()
	defer r.Body.Close()

	var task TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		telemetry.CounterGlobal("framefarm_agent_task_errors", 1, map[string]string{
			"component": "agent",
			"endpoint":  "tasks",
			"error":     "decode_request",
		})
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := checkJobID(task.JobID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if task.ID == "" {
		task.ID = core.NewID()
	}

	running := map[string]string{"component": "agent"}
	telemetry.GaugeGlobal("framefarm_agent_running_tasks", float64(s.running.Add(1)), running)
	res, err := core.RunFrame(r.Context(), s.Executor, task, core.FrameDir(s.jobDir(task.JobID), task.Index))
	telemetry.GaugeGlobal("framefarm_agent_running_tasks", float64(s.running.Add(-1)), running)

	status := "success"
	if err != nil {
		status = "error"
		log.Error().Err(err).Str("task_id", task.ID).Str("job_id", task.JobID).Msg("task failed")
	} else {
		s.remember(task.JobID, res)
	}
	if s.Store != nil {
		if serr := s.Store.RecordTask(r.Context(), task, res); serr != nil {
			log.Warn().Err(serr).Str("task_id", task.ID).Msg("ledger write failed")
		}
	}

	labels := map[string]string{
		"component": "agent",
		"endpoint":  "tasks",
		"status":    status,
	}
	telemetry.TimerGlobal("framefarm_agent_request_duration", time.Since(requestStart), labels)
	telemetry.HistogramGlobal("framefarm_agent_task_output_size", float64(len(res.Output)), labels)

	_ = json.NewEncoder(w).Encode(res)
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	requestStart := time.Now()
	defer r.Body.Close()

	var req MergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := checkJobID(req.JobID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	results := s.recalled(req.JobID)
	if len(req.Outputs) > 0 {
		res := &api.TaskResult{Status: api.RunSucceeded}
		for _, f := range req.Outputs {
			res.Files = append(res.Files, api.OutputFile{Path: f, Kind: api.FileOutput})
		}
		results = []*api.TaskResult{res}
	}

	dir := core.MergeDir(s.jobDir(req.JobID))
	merged, err := s.merge(r.Context(), req.JobID, dir, results)
	status := "success"
	if err != nil {
		status = "error"
		log.Error().Err(err).Str("job_id", req.JobID).Msg("merge failed")
		var noOutputs *core.NoOutputsError
		code := http.StatusInternalServerError
		if errors.As(err, &noOutputs) {
			code = http.StatusUnprocessableEntity
		}
		writeError(w, code, err.Error())
	} else {
		if s.Store != nil {
			if serr := s.Store.RecordMerge(r.Context(), merged); serr != nil {
				log.Warn().Err(serr).Str("job_id", req.JobID).Msg("ledger write failed")
			}
		}
		_ = json.NewEncoder(w).Encode(merged)
	}

	telemetry.TimerGlobal("framefarm_agent_request_duration", time.Since(requestStart), map[string]string{
		"component": "agent",
		"endpoint":  "merge",
		"status":    status,
	})
}

func (s *Server) merge(ctx context.Context, jobID, dir string, results []*api.TaskResult) (*api.JobResult, error) {
	if err := core.GatherOutputs(dir, results); err != nil {
		return nil, err
	}
	return s.Merger.Merge(ctx, jobID, dir)
}

// checkJobID accepts ids that name a single directory under WorkDir.
func checkJobID(id string) error {
	switch {
	case id == "":
		return errors.New("job_id is required")
	case id == "." || id == ".." || strings.ContainsAny(id, `/\`):
		return fmt.Errorf("invalid job_id %q", id)
	}
	return nil
}

func (s *Server) jobDir(jobID string) string {
	return filepath.Join(s.WorkDir, jobID)
}

func (s *Server) remember(jobID string, res *api.TaskResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.results == nil {
		s.results = map[string][]*api.TaskResult{}
	}
	s.results[jobID] = append(s.results[jobID], res)
}

func (s *Server) recalled(jobID string) []*api.TaskResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*api.TaskResult(nil), s.results[jobID]...)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: msg})
}

func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	s.routes(mux)
	return mux
}

// ListenAndServe starts the server
func (s *Server) ListenAndServe(addr string) error {
	s.srv = &http.Server{Addr: addr, Handler: s.handler(), ReadHeaderTimeout: 10 * time.Second}
	log.Info().Str("addr", addr).Msg("Starting agent")
	return s.srv.ListenAndServe()
}

// Shutdown the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return fmt.Errorf("server not running")
	}
	return s.srv.Shutdown(ctx)
}
