// Package api exposes the screenshot corpus and the processing pipeline over
// HTTP (for the CLI) and MCP (for LLM clients).
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/grepshot/grepshot/internal/export"
	"github.com/grepshot/grepshot/internal/pipeline"
	"github.com/grepshot/grepshot/internal/storage"
)

const defaultListLimit = 50

// ProcessController is the pipeline surface the API needs.
type ProcessController interface {
	Start(limit int) error
	Pause() error
	Cancel() error
	Progress() pipeline.State
	Subscribe() chan pipeline.State
	Unsubscribe(ch chan pipeline.State)
}

// Exporter moves the corpus in and out of JSON documents.
type Exporter interface {
	Export(destDir string) (export.ExportResult, error)
	Import(path string) (export.ImportResult, error)
}

// AppDeps holds dependencies for the HTTP handler.
type AppDeps struct {
	Store     *storage.Store
	Pipeline  ProcessController
	Exporter  Exporter
	Token     string
	ScanLimit int // default discovery limit for /process/start
}

// NewHandler builds the router. /health is open; everything else requires the
// bearer token.
func NewHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/stats", handleStats(deps))
		r.Get("/search", handleSearch(deps))
		r.Get("/screenshots", handleListScreenshots(deps))
		r.Get("/screenshot", handleGetScreenshot(deps))
		r.Delete("/screenshots", handleClearScreenshots(deps))

		r.Post("/process/start", handleProcessStart(deps))
		r.Post("/process/pause", handleProcessPause(deps))
		r.Post("/process/cancel", handleProcessCancel(deps))
		r.Get("/process/progress", handleProcessProgress(deps))
		r.Get("/process/events", handleProcessEvents(deps))

		r.Post("/export", handleExport(deps))
		r.Post("/import", handleImport(deps))
	})

	return r
}

type screenshotJSON struct {
	ID            string `json:"id"`
	DisplayName   string `json:"displayName"`
	ExtractedText string `json:"extractedText"`
	CreatedAt     int64  `json:"createdAt"`
}

func toJSON(sc storage.Screenshot) screenshotJSON {
	return screenshotJSON{
		ID:            sc.ID,
		DisplayName:   sc.DisplayName,
		ExtractedText: sc.ExtractedText,
		CreatedAt:     sc.CreatedAt,
	}
}

func handleStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		count, err := deps.Store.CountScreenshots()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "counting records: %v", err)
			return
		}

		resp := map[string]any{"count": count}
		if recent, err := deps.Store.MostRecentScreenshot(); err == nil {
			resp["mostRecentCreatedAt"] = recent.CreatedAt
		} else if !errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusInternalServerError, "api_error", "reading most recent record: %v", err)
			return
		}
		if runs, err := deps.Store.RecentRuns(5); err == nil && len(runs) > 0 {
			type runJSON struct {
				ID        string `json:"id"`
				Status    string `json:"status"`
				Processed int    `json:"processed"`
				Total     int    `json:"total"`
			}
			out := make([]runJSON, len(runs))
			for i, run := range runs {
				out[i] = runJSON{ID: run.ID, Status: run.Status, Processed: run.Processed, Total: run.Total}
			}
			resp["recentRuns"] = out
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func handleSearch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		results, err := deps.Store.SearchScreenshots(query)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "search failed: %v", err)
			return
		}
		if limit := parseLimit(r, 0); limit > 0 && len(results) > limit {
			results = results[:limit]
		}

		out := make([]screenshotJSON, len(results))
		for i, sc := range results {
			out[i] = toJSON(sc)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleListScreenshots(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := deps.Store.AllScreenshots()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing records: %v", err)
			return
		}
		if limit := parseLimit(r, defaultListLimit); limit > 0 && len(records) > limit {
			records = records[:limit]
		}

		out := make([]screenshotJSON, len(records))
		for i, sc := range records {
			out[i] = toJSON(sc)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleGetScreenshot(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Ids are file paths, so they travel as a query parameter rather
		// than a path segment.
		id := r.URL.Query().Get("id")
		if id == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "id is required")
			return
		}

		sc, err := deps.Store.GetScreenshot(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "no record for %s", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading record: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, toJSON(sc))
	}
}

func handleClearScreenshots(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DeleteAllScreenshots(); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "clearing records: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
	}
}

func handleProcessStart(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Limit int `json:"limit"`
		}
		// An empty body means "use the configured limit".
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		limit := req.Limit
		if limit <= 0 {
			limit = deps.ScanLimit
		}

		if err := deps.Pipeline.Start(limit); err != nil {
			if errors.Is(err, pipeline.ErrAlreadyRunning) {
				httpError(w, http.StatusConflict, "conflict_error", "%v", err)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "starting run: %v", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
	}
}

func handleProcessPause(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Pipeline.Pause(); err != nil {
			if errors.Is(err, pipeline.ErrNotRunning) {
				httpError(w, http.StatusConflict, "conflict_error", "%v", err)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "pausing run: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "pausing"})
	}
}

func handleProcessCancel(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Pipeline.Cancel(); err != nil {
			if errors.Is(err, pipeline.ErrNotRunning) {
				httpError(w, http.StatusConflict, "conflict_error", "%v", err)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "cancelling run: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
	}
}

func handleProcessProgress(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Pipeline.Progress())
	}
}

func handleExport(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Dir string `json:"dir"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Dir == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "dir is required")
			return
		}

		res, err := deps.Exporter.Export(req.Dir)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "export failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleImport(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			File string `json:"file"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.File == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "file is required")
			return
		}

		res, err := deps.Exporter.Import(req.File)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "import failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func parseLimit(r *http.Request, fallback int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
