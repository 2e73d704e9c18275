// Package source provides adapters over the places screenshots live on disk.
// Discovery treats every source the same: scan for images added after a
// watermark and return lightweight candidates.
package source

import (
	"context"
	"path/filepath"
	"strings"
)

// Candidate is an image found by a source scan. It is ephemeral: discovery
// consumes it, the pipeline persists a record for it, and it is discarded.
type Candidate struct {
	ID          string // stable identifier, the absolute file path
	DisplayName string
	AddedAt     int64 // ms since epoch
}

// Source is one place screenshots can be discovered.
type Source interface {
	// Name identifies the source in logs.
	Name() string
	// Scan returns candidates with AddedAt strictly greater than newerThan.
	// Pass 0 to scan everything.
	Scan(ctx context.Context, newerThan int64) ([]Candidate, error)
}

// screenshotMarker is the filename heuristic that identifies screenshots in
// the default media directory.
const screenshotMarker = "screenshot"

var imageExtensions = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".webp": {},
}

func isImage(name string) bool {
	_, ok := imageExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

func hasScreenshotMarker(name string) bool {
	return strings.Contains(strings.ToLower(name), screenshotMarker)
}
