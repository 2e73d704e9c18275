package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Screenshot is one processed image. Its presence in the store is the only
// signal that the image has been processed; an empty ExtractedText means
// "processed, no text found".
type Screenshot struct {
	ID            string // source image path/URI, unique
	DisplayName   string
	ExtractedText string
	CreatedAt     int64 // ms since epoch, when the source image was added (not when OCR ran)
}

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusPaused    = "paused"
	RunStatusCancelled = "cancelled"
	RunStatusFailed    = "failed"
)

// Run records one processing run for status reporting.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time // zero while the run is still going
	Processed  int
	Total      int
	Status     string
	LastError  string
}
