package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Mock runner, ticketing, oracle, and store endpoints on one port so the
// engine can run locally without any real infrastructure.

type jobTemplate struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

var templates = []jobTemplate{
	{ID: 7, Name: "Demo Job Template", Description: "General purpose remediation job"},
	{ID: 9, Name: "check_cpu_utilization", Description: "Inspect per-process CPU usage"},
	{ID: 10, Name: "Clean up var filesystem", Description: "Remove stale logs and caches"},
}

type jobState struct {
	mu     sync.Mutex
	nextID int
	// jobs report running for the first poll and successful afterwards.
	polls map[int]int
}

func main() {
	jobs := &jobState{nextID: 100, polls: map[int]int{}}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// Automation runner.
	mux.HandleFunc("/api/v2/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"description": "mock runner"})
	})
	mux.HandleFunc("/api/v2/job_templates/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/launch/") {
			if !enforcePost(w, r) {
				return
			}
			jobs.mu.Lock()
			id := jobs.nextID
			jobs.nextID++
			jobs.mu.Unlock()
			writeJSON(w, map[string]any{"job": id})
			return
		}
		writeJSON(w, map[string]any{"results": templates})
	})
	mux.HandleFunc("/api/v2/jobs/", func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) >= 5 && parts[4] == "events" {
			writeJSON(w, map[string]any{"results": []map[string]any{
				{"event": "playbook_on_start", "stdout": "PLAY [all]", "created": time.Now().Add(-10 * time.Second)},
				{"event": "runner_on_ok", "stdout": "TASK [cleanup] ok", "created": time.Now().Add(-5 * time.Second)},
			}})
			return
		}

		if len(parts) < 4 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var id int
		_, _ = fmt.Sscanf(parts[3], "%d", &id)
		jobs.mu.Lock()
		jobs.polls[id]++
		poll := jobs.polls[id]
		jobs.mu.Unlock()

		status := "running"
		finished := ""
		if poll > 1 {
			status = "successful"
			finished = time.Now().UTC().Format(time.RFC3339)
		}
		writeJSON(w, map[string]any{"id": id, "status": status, "finished": finished})
	})

	// Ticketing table API.
	mux.HandleFunc("/api/now/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"result": "ok"})
	})
	mux.HandleFunc("/api/now/table/incident", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"result": []map[string]string{{
			"sys_id":            "abc123",
			"number":            "INC0012345",
			"state":             "1",
			"severity":          "medium",
			"short_description": "/var is full",
			"description":       "filesystem /var at 100% on host app-01",
			"cmdb_ci":           "app-01",
		}}})
	})
	mux.HandleFunc("/api/now/table/incident/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, map[string]any{"result": "updated"})
	})

	// Decision oracle, Ollama chat wire format. The canned answer satisfies
	// every stage because each one only reads the keys it expects.
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		content := `{"labels":["disk_full"],"severity":"P3","eligibility":"auto","confidence":0.9,` +
			`"playbook_id":"10","playbook_name":"Clean up var filesystem","prechecks":[],"rollback_steps":[],"risk_score":0.2,` +
			`"decision":"success","metrics":{},"logs":{},"synthetics":{},` +
			`"work_notes":"Cleared /var on app-01","resolution_summary":"Filesystem cleanup completed","closed_by":"mock","resolution":"resolved"}`
		writeJSON(w, map[string]any{"message": map[string]string{"role": "assistant", "content": content}})
	})

	// Stage-record store.
	mux.HandleFunc("/v1/records/", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		writeJSON(w, map[string]any{"stored": true})
	})

	logger := log.New(log.Writer(), "stack-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":8080",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :8080")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
