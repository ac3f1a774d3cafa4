package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Breadsandwich/visual-context-interface-app/internal/contextfile"
	"github.com/Breadsandwich/visual-context-interface-app/internal/orchestrator"
	"github.com/Breadsandwich/visual-context-interface-app/internal/plan"
	"github.com/Breadsandwich/visual-context-interface-app/internal/runstate"
	"github.com/Breadsandwich/visual-context-interface-app/internal/sourceedit"
)

// statusResponse is the RunState projection served by GET /status.
type statusResponse struct {
	Status        string                     `json:"status"`
	RunID         string                     `json:"run_id,omitempty"`
	FilesChanged  []string                   `json:"filesChanged"`
	Message       string                     `json:"message,omitempty"`
	Turns         int                        `json:"turns"`
	Timestamp     time.Time                  `json:"timestamp"`
	Error         string                     `json:"error,omitempty"`
	Clarification *runstate.Clarification    `json:"clarification,omitempty"`
	Progress      []runstate.ProgressEntry   `json:"progress"`
	Plan          *plan.Plan                 `json:"plan,omitempty"`
	Workers       map[string]runstate.Worker `json:"workers"`
}

// projectState flattens a state snapshot into the status payload: files
// changed are the union across workers, turns are summed, and the pending
// clarification (if any) is surfaced at the top level.
func projectState(snap runstate.State) statusResponse {
	resp := statusResponse{
		Status:       string(snap.Status),
		RunID:        snap.RunID,
		FilesChanged: []string{},
		Message:      snap.Message,
		Timestamp:    snap.Timestamp,
		Error:        snap.Error,
		Progress:     []runstate.ProgressEntry{},
		Workers:      snap.Workers,
	}
	if snap.Orchestrator != nil {
		resp.Plan = snap.Orchestrator.Plan
	}

	seen := make(map[string]bool)
	workerIDs := make([]string, 0, len(snap.Workers))
	for id := range snap.Workers {
		workerIDs = append(workerIDs, id)
	}
	sort.Strings(workerIDs)

	for _, id := range workerIDs {
		w := snap.Workers[id]
		resp.Turns += w.Turns
		resp.Progress = append(resp.Progress, w.Progress...)
		for _, f := range w.FilesChanged {
			if !seen[f] {
				seen[f] = true
				resp.FilesChanged = append(resp.FilesChanged, f)
			}
		}
		if resp.Clarification == nil && w.Clarification != nil {
			resp.Clarification = w.Clarification
		}
	}
	sort.Strings(resp.FilesChanged)
	return resp
}

type exportContextRequest struct {
	Payload json.RawMessage `json:"payload"`
}

// handleExportContext writes the inspector's payload to the project's
// control directory and triggers a run over it when the slot is free.
func (s *Server) handleExportContext(c *gin.Context) {
	var req exportContextRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Payload) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "payload is required"})
		return
	}

	contextPath, historyPath, err := contextfile.Export(s.projectRoot, req.Payload)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, contextfile.ErrTooLarge) || errors.Is(err, contextfile.ErrNotObject) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"success": false, "error": err.Error()})
		return
	}

	resp := gin.H{"success": true, "path": contextPath, "historyPath": historyPath}

	// Best-effort trigger; the export itself succeeded either way.
	if runID, err := s.orch.Trigger(contextPath); err == nil {
		resp["run_id"] = runID
	} else if errors.Is(err, orchestrator.ErrRunActive) {
		s.log.Warn("Context exported while a run is active, not triggering")
	}

	c.JSON(http.StatusOK, resp)
}

const maxEditsPerRequest = 100

type applyEditsRequest struct {
	Edits []sourceedit.Edit `json:"edits"`
}

// handleApplyEdits applies deterministic CSS edits directly and returns
// the remainder for AI-assisted routing.
func (s *Server) handleApplyEdits(c *gin.Context) {
	var req applyEditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid edits payload"})
		return
	}
	if len(req.Edits) > maxEditsPerRequest {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "too many edits (max 100)"})
		return
	}

	result, err := s.edits.Apply(req.Edits)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"applied":    result.Applied,
		"aiAssisted": result.AIAssisted,
	})
}
