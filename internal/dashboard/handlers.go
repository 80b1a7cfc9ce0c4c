package dashboard

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/caelum-labs/worchflow/internal/docstore"
	"github.com/caelum-labs/worchflow/internal/workflow"
)

// handleListExecutions implements GET /executions?status=&limit=&skip=
// (spec §6's Dashboard API table).
func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := queryInt(q, "limit", 50)
	skip := queryInt(q, "skip", 0)

	filter := docstore.Filter{}
	if status := q.Get("status"); status != "" {
		filter["status"] = status
	}

	docs, err := s.doc.FindByFilterSortLimit(r.Context(), docstore.CollectionExecutions, filter,
		docstore.Sort{Field: "createdAt", Descending: true}, limit+skip)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query executions")
		return
	}
	if skip >= len(docs) {
		docs = nil
	} else {
		docs = docs[skip:]
	}

	writeJSON(w, http.StatusOK, map[string]any{"executions": docs})
}

// handleGetExecution implements GET /executions/{id}, returning
// {execution, steps, kvExecution} per spec §6.
func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	execution, err := s.doc.FindOneByID(r.Context(), docstore.CollectionExecutions, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load execution")
		return
	}
	if execution == nil {
		writeError(w, http.StatusNotFound, "execution not found")
		return
	}

	steps, err := s.doc.FindByFilterSortLimit(r.Context(), docstore.CollectionSteps,
		docstore.Filter{"executionId": id}, docstore.Sort{Field: "timestamp"}, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load steps")
		return
	}

	kvExecution, err := s.client.ExecutionKVFields(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load kv execution")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"execution":   execution,
		"steps":       steps,
		"kvExecution": kvExecution,
	})
}

// handleRetry implements POST /executions/{id}/retry. Always goes through
// Client.ManualRetry — never a raw queue push (spec §9's resolved bug).
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.client.ManualRetry(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "retry failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleStats implements GET /stats, returning status counts plus
// avgDurationMs per terminal status bucket (SPEC_FULL's supplemented
// aggregate beyond the distilled spec's bare counts).
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.computeStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type sendRequest struct {
	Name string `json:"name"`
	Data any    `json:"data"`
}

// handleSend implements POST /send, rate-limited to protect Client.Submit
// from a misbehaving caller.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if err := s.sendLimiter.Wait(r.Context()); err != nil {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed send request")
		return
	}

	id, err := s.client.Submit(r.Context(), workflow.SubmitRequest{Name: req.Name, Data: req.Data})
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "executionId": id})
}

func queryInt(q map[string][]string, key string, def int) int {
	values, ok := q[key]
	if !ok || len(values) == 0 {
		return def
	}
	n, err := strconv.Atoi(values[0])
	if err != nil || n < 0 {
		return def
	}
	return n
}
