package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Breadsandwich/visual-context-interface-app/internal/agentcfg"
	"github.com/Breadsandwich/visual-context-interface-app/internal/filelock"
	"github.com/Breadsandwich/visual-context-interface-app/internal/llm"
	"github.com/Breadsandwich/visual-context-interface-app/internal/logging"
	"github.com/Breadsandwich/visual-context-interface-app/internal/orchestrator"
	"github.com/Breadsandwich/visual-context-interface-app/internal/runstate"
	"github.com/Breadsandwich/visual-context-interface-app/internal/snapshot"
	"github.com/Breadsandwich/visual-context-interface-app/internal/sourceedit"
)

type fixture struct {
	srv     *Server
	tracker *runstate.Tracker
	store   *snapshot.Store
	root    string
	ctxPath string
}

func newFixture(t *testing.T, client llm.Client) *fixture {
	t.Helper()
	root := t.TempDir()

	configsDir := filepath.Join(root, "agents", "configs")
	promptsDir := filepath.Join(root, "agents", "prompts")
	for _, dir := range []string{configsDir, promptsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	configs := map[string]map[string]any{
		"orchestrator.json": {"id": "orchestrator", "name": "Orchestrator"},
		"css-agent.json": {
			"id": "css-agent", "name": "CSS Agent",
			"tools": []string{"read_file", "write_file", "ask_user"},
		},
	}
	for name, cfg := range configs {
		data, _ := json.Marshal(cfg)
		if err := os.WriteFile(filepath.Join(configsDir, name), data, 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}
	registry, err := agentcfg.Load(configsDir, promptsDir, logging.NopLogger())
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}

	ctxPath := filepath.Join(root, ".vci", "context.json")
	if err := os.MkdirAll(filepath.Dir(ctxPath), 0o755); err != nil {
		t.Fatalf("mkdir .vci: %v", err)
	}
	if err := os.WriteFile(ctxPath, []byte(`{"prompt": "Make the button red"}`), 0o644); err != nil {
		t.Fatalf("write context: %v", err)
	}

	tracker := runstate.NewTracker()
	locks := filelock.NewManager()
	store := snapshot.NewStore(root, 10)
	orch := orchestrator.New(root, registry, tracker, locks, client, store)
	edits := sourceedit.NewEngine(root, 0)

	srv := New(root, orch, tracker, store, edits, logging.NopLogger(), Options{})
	return &fixture{srv: srv, tracker: tracker, store: store, root: root, ctxPath: ctxPath}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("response not JSON: %v: %s", err, rec.Body.String())
	}
	return out
}

func (f *fixture) waitForStatus(t *testing.T, want runstate.Status) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if f.tracker.Snapshot().Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("never reached %s, at %s", want, f.tracker.Snapshot().Status)
}

func (f *fixture) waitForTerminal(t *testing.T) runstate.State {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap := f.tracker.Snapshot()
		if snap.Status == runstate.StatusSuccess || snap.Status == runstate.StatusError {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run never terminal: %s", f.tracker.Snapshot().Status)
	return runstate.State{}
}

func TestHealth(t *testing.T) {
	f := newFixture(t, llm.NewScriptedClient())

	rec := f.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if decode(t, rec)["status"] != "ok" {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestRunValidation(t *testing.T) {
	f := newFixture(t, llm.NewScriptedClient())

	tests := []struct {
		name string
		body any
	}{
		{"missing path", map[string]string{}},
		{"outside root", map[string]string{"context_path": "/etc/passwd"}},
		{"nonexistent", map[string]string{"context_path": filepath.Join(f.root, "nope.json")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/run", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("code = %d, want 400: %s", rec.Code, rec.Body.String())
			}
			if decode(t, rec)["accepted"] != false {
				t.Errorf("body = %s", rec.Body.String())
			}
		})
	}
}

func TestRunLifecycleOverHTTP(t *testing.T) {
	client := llm.NewScriptedClient(
		llm.FinalAnswer(`{"tasks": [
			{"id": "task-1", "agent": "css-agent", "description": "ask first"}
		]}`),
		llm.ToolCallTurn(llm.ToolUse("t1", "ask_user", map[string]any{
			"question": "Which button?",
		})),
		llm.FinalAnswer("Edited it."),
	)
	f := newFixture(t, client)

	rec := f.do(t, http.MethodPost, "/run", map[string]string{"context_path": f.ctxPath})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("code = %d: %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["accepted"] != true || body["run_id"] == "" {
		t.Errorf("body = %v", body)
	}

	f.waitForStatus(t, runstate.StatusClarifying)

	// A second trigger while the run is active is rejected.
	rec = f.do(t, http.MethodPost, "/run", map[string]string{"context_path": f.ctxPath})
	if rec.Code != http.StatusConflict {
		t.Errorf("concurrent run code = %d", rec.Code)
	}

	// The clarification surfaces in the status projection.
	rec = f.do(t, http.MethodGet, "/status", nil)
	status := decode(t, rec)
	if status["status"] != "clarifying" {
		t.Fatalf("status = %v", status["status"])
	}
	clar, ok := status["clarification"].(map[string]any)
	if !ok || clar["question"] != "Which button?" {
		t.Errorf("clarification = %v", status["clarification"])
	}

	rec = f.do(t, http.MethodPost, "/respond", map[string]string{"response": "The submit button"})
	if rec.Code != http.StatusOK {
		t.Fatalf("respond code = %d: %s", rec.Code, rec.Body.String())
	}

	snap := f.waitForTerminal(t)
	if snap.Status != runstate.StatusSuccess {
		t.Fatalf("final status = %s, error = %s", snap.Status, snap.Error)
	}

	// Nothing pending anymore.
	rec = f.do(t, http.MethodPost, "/respond", map[string]string{"response": "again"})
	if rec.Code != http.StatusConflict {
		t.Errorf("respond after run code = %d", rec.Code)
	}
}

func TestRespondRequiresClarifying(t *testing.T) {
	f := newFixture(t, llm.NewScriptedClient())

	rec := f.do(t, http.MethodPost, "/respond", map[string]string{"response": "hello"})
	if rec.Code != http.StatusConflict {
		t.Errorf("code = %d, want 409", rec.Code)
	}
}

func TestSnapshotsListAndRestore(t *testing.T) {
	f := newFixture(t, llm.NewScriptedClient())

	runID, err := f.store.Init()
	if err != nil {
		t.Fatalf("snapshot init: %v", err)
	}
	if err := os.WriteFile(filepath.Join(f.root, "a.css"), []byte("original"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := f.store.Capture(runID, "a.css"); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if err := f.store.Finalize(runID, []string{"a.css"}, "test run", snapshot.StatusSuccess); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := os.WriteFile(filepath.Join(f.root, "a.css"), []byte("clobbered"), 0o644); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	rec := f.do(t, http.MethodGet, "/snapshots", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list code = %d", rec.Code)
	}
	var listBody struct {
		Snapshots []snapshot.Manifest `json:"snapshots"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listBody); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listBody.Snapshots) != 1 || listBody.Snapshots[0].RunID != runID {
		t.Fatalf("snapshots = %+v", listBody.Snapshots)
	}

	rec = f.do(t, http.MethodPost, "/snapshots/"+runID+"/restore", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("restore code = %d: %s", rec.Code, rec.Body.String())
	}
	data, err := os.ReadFile(filepath.Join(f.root, "a.css"))
	if err != nil || string(data) != "original" {
		t.Errorf("restored content = %q, err = %v", data, err)
	}
}

func TestRestoreValidation(t *testing.T) {
	f := newFixture(t, llm.NewScriptedClient())

	rec := f.do(t, http.MethodPost, "/snapshots/not-a-run-id/restore", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed id code = %d", rec.Code)
	}

	// Well-formed but unknown run id.
	rec = f.do(t, http.MethodPost, "/snapshots/2026-01-02T03-04-05_abc123/restore", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("unknown id code = %d", rec.Code)
	}
}

func TestExportContext(t *testing.T) {
	// The auto-triggered run fails plan parsing; the export still succeeds.
	f := newFixture(t, llm.NewScriptedClient(llm.FinalAnswer("no plan")))

	rec := f.do(t, http.MethodPost, "/context", map[string]any{
		"payload": map[string]any{"prompt": "resize the hero"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d: %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["success"] != true {
		t.Fatalf("body = %v", body)
	}

	path, _ := body["path"].(string)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("exported file: %v", err)
	}
	if !strings.Contains(string(data), "resize the hero") {
		t.Errorf("exported content = %s", data)
	}

	f.waitForTerminal(t)
}

func TestExportContextRejectsNonObject(t *testing.T) {
	f := newFixture(t, llm.NewScriptedClient())

	rec := f.do(t, http.MethodPost, "/context", map[string]any{"payload": []int{1, 2}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("code = %d, want 400", rec.Code)
	}
}

func TestApplyEdits(t *testing.T) {
	f := newFixture(t, llm.NewScriptedClient())
	if err := os.MkdirAll(filepath.Join(f.root, "src"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(f.root, "src", "Home.jsx"), []byte("export function Home() {}\n"), 0o644); err != nil {
		t.Fatalf("write jsx: %v", err)
	}
	if err := os.WriteFile(filepath.Join(f.root, "src", "Home.css"), []byte(".hero {\n  color: blue;\n}\n"), 0o644); err != nil {
		t.Fatalf("write css: %v", err)
	}

	rec := f.do(t, http.MethodPost, "/edits", map[string]any{
		"edits": []map[string]any{{
			"selector":   "section.hero",
			"sourceFile": "src/Home.jsx",
			"sourceLine": 1,
			"changes":    []map[string]string{{"property": "color", "value": "red"}},
		}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d: %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["success"] != true {
		t.Fatalf("body = %v", body)
	}
	applied, _ := body["applied"].([]any)
	if len(applied) != 1 {
		t.Errorf("applied = %v", body["applied"])
	}

	data, _ := os.ReadFile(filepath.Join(f.root, "src", "Home.css"))
	if !strings.Contains(string(data), "color: red;") {
		t.Errorf("css not edited: %s", data)
	}
}

func TestApplyEditsCap(t *testing.T) {
	f := newFixture(t, llm.NewScriptedClient())

	edits := make([]map[string]any, maxEditsPerRequest+1)
	for i := range edits {
		edits[i] = map[string]any{"selector": ".x", "changes": []map[string]string{}}
	}
	rec := f.do(t, http.MethodPost, "/edits", map[string]any{"edits": edits})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("code = %d, want 400", rec.Code)
	}
}

func TestStatusProjection(t *testing.T) {
	f := newFixture(t, llm.NewScriptedClient())

	f.tracker.StartRun()
	f.tracker.RegisterWorker("css-agent-task-1", "css-agent", "CSS Agent", "recolor")
	f.tracker.UpdateWorkerProgress("css-agent-task-1", runstate.ProgressEntry{
		Turn: 1, Summary: "Editing App.css", FilesWritten: []string{"src/App.css"},
	})
	f.tracker.CompleteWorker("css-agent-task-1", []string{"src/App.css"}, "done")

	rec := f.do(t, http.MethodGet, "/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}

	var status statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Turns != 1 {
		t.Errorf("Turns = %d", status.Turns)
	}
	if len(status.FilesChanged) != 1 || status.FilesChanged[0] != "src/App.css" {
		t.Errorf("FilesChanged = %v", status.FilesChanged)
	}
	if len(status.Progress) != 1 || status.Progress[0].Summary != "Editing App.css" {
		t.Errorf("Progress = %v", status.Progress)
	}
	if status.RunID == "" {
		t.Error("RunID missing")
	}
}
