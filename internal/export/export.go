// Package export moves the processed corpus in and out of JSON documents.
// The document is an array of entries, one per record:
//
//	[{"path": "...", "name": "...", "text": "...", "createdAt": 1700000000000}]
//
// createdAt is optional on read for compatibility with documents written
// before the field existed.
package export

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/grepshot/grepshot/internal/storage"
)

// Entry is one record in the export document.
type Entry struct {
	Path      string `json:"path"`
	Name      string `json:"name"`
	Text      string `json:"text"`
	CreatedAt *int64 `json:"createdAt,omitempty"`
}

// ExportResult describes a completed export.
type ExportResult struct {
	ItemCount int    `json:"itemCount"`
	Location  string `json:"location"`
}

// ImportResult tallies an import.
type ImportResult struct {
	TotalItems    int `json:"totalItems"`
	ImportedCount int `json:"importedCount"`
	SkippedCount  int `json:"skippedCount"`
	ErrorCount    int `json:"errorCount"`
}

// RecordStore is the slice of storage the engine needs.
type RecordStore interface {
	AllScreenshots() ([]storage.Screenshot, error)
	HasScreenshot(id string) (bool, error)
	SaveScreenshot(storage.Screenshot) error
}

// AddedAtResolver recovers a record's add time from its source when the
// document predates the createdAt field. Returns 0 when unknown.
type AddedAtResolver func(id string) int64

// Engine serializes and restores the record store.
type Engine struct {
	store   RecordStore
	resolve AddedAtResolver
	now     func() time.Time
	logger  *slog.Logger
}

// New creates an export engine. resolve may be nil, in which case missing
// createdAt values fall back to 0.
func New(store RecordStore, resolve AddedAtResolver) *Engine {
	return &Engine{
		store:   store,
		resolve: resolve,
		now:     time.Now,
		logger:  slog.Default().With("component", "export"),
	}
}

// Export writes every record to a timestamped JSON document inside destDir.
// The document is written to a temp file and renamed into place, so a failed
// export never leaves a partial file at the final location.
func (e *Engine) Export(destDir string) (ExportResult, error) {
	records, err := e.store.AllScreenshots()
	if err != nil {
		return ExportResult{}, fmt.Errorf("reading records: %w", err)
	}

	entries := make([]Entry, 0, len(records))
	for _, sc := range records {
		createdAt := sc.CreatedAt
		entries = append(entries, Entry{
			Path:      sc.ID,
			Name:      sc.DisplayName,
			Text:      sc.ExtractedText,
			CreatedAt: &createdAt,
		})
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return ExportResult{}, fmt.Errorf("encoding export: %w", err)
	}

	info, err := os.Stat(destDir)
	if err != nil {
		return ExportResult{}, fmt.Errorf("export destination: %w", err)
	}
	if !info.IsDir() {
		return ExportResult{}, fmt.Errorf("export destination %s is not a directory", destDir)
	}

	fileName := fmt.Sprintf("grepshot_export_%s.json", e.now().Format("20060102_150405"))
	finalPath := filepath.Join(destDir, fileName)

	tmp, err := os.CreateTemp(destDir, ".grepshot_export_*")
	if err != nil {
		return ExportResult{}, fmt.Errorf("creating export file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return ExportResult{}, fmt.Errorf("writing export file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return ExportResult{}, fmt.Errorf("closing export file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return ExportResult{}, fmt.Errorf("finalizing export file: %w", err)
	}

	e.logger.Info("export complete", "items", len(entries), "location", finalPath)
	return ExportResult{ItemCount: len(entries), Location: finalPath}, nil
}

// Import reads an export document and inserts the entries the store does not
// already have. Entries are decoded one by one: a malformed entry bumps
// ErrorCount and the rest of the document still imports. Running the same
// import twice is safe, the second pass skips everything.
func (e *Engine) Import(path string) (ImportResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ImportResult{}, fmt.Errorf("reading import file: %w", err)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return ImportResult{}, fmt.Errorf("parsing import file: %w", err)
	}

	result := ImportResult{TotalItems: len(raw)}
	for i, item := range raw {
		var entry Entry
		if err := json.Unmarshal(item, &entry); err != nil {
			e.logger.Warn("skipping malformed entry", "index", i, "error", err)
			result.ErrorCount++
			continue
		}
		if entry.Path == "" {
			e.logger.Warn("skipping entry without path", "index", i)
			result.ErrorCount++
			continue
		}

		exists, err := e.store.HasScreenshot(entry.Path)
		if err != nil {
			e.logger.Warn("existence check failed", "id", entry.Path, "error", err)
			result.ErrorCount++
			continue
		}
		if exists {
			result.SkippedCount++
			continue
		}

		var createdAt int64
		switch {
		case entry.CreatedAt != nil:
			createdAt = *entry.CreatedAt
		case e.resolve != nil:
			// Older export documents carry no createdAt; ask the source.
			createdAt = e.resolve(entry.Path)
		}

		rec := storage.Screenshot{
			ID:            entry.Path,
			DisplayName:   entry.Name,
			ExtractedText: entry.Text,
			CreatedAt:     createdAt,
		}
		if err := e.store.SaveScreenshot(rec); err != nil {
			e.logger.Warn("inserting entry failed", "id", entry.Path, "error", err)
			result.ErrorCount++
			continue
		}
		result.ImportedCount++
	}

	e.logger.Info("import complete",
		"total", result.TotalItems,
		"imported", result.ImportedCount,
		"skipped", result.SkippedCount,
		"errors", result.ErrorCount,
	)
	return result, nil
}
