package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// MediaSource is the default source: the platform screenshots directory,
// walked recursively and filtered by the screenshot filename marker.
type MediaSource struct {
	root string
}

// NewMediaSource creates a MediaSource rooted at dir.
func NewMediaSource(dir string) *MediaSource {
	return &MediaSource{root: dir}
}

// DefaultMediaDir returns the conventional screenshots directory for the
// current user (~/Pictures/Screenshots).
func DefaultMediaDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "Screenshots"
	}
	return filepath.Join(home, "Pictures", "Screenshots")
}

func (m *MediaSource) Name() string {
	return "media:" + m.root
}

// Scan walks the media root and returns screenshot images added after newerThan.
func (m *MediaSource) Scan(ctx context.Context, newerThan int64) ([]Candidate, error) {
	if _, err := os.Stat(m.root); err != nil {
		return nil, fmt.Errorf("media directory %s: %w", m.root, err)
	}

	var candidates []Candidate
	err := filepath.WalkDir(m.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subdirectory: skip it, keep the rest of the walk.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if !isImage(name) || !hasScreenshotMarker(name) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		addedAt := info.ModTime().UnixMilli()
		if addedAt <= newerThan {
			return nil
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		candidates = append(candidates, Candidate{
			ID:          abs,
			DisplayName: name,
			AddedAt:     addedAt,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", m.root, err)
	}
	return candidates, nil
}

// ResolveAddedAt looks up the add time for an id previously produced by a file
// source. Import uses it when an export document predates the createdAt field.
// Returns 0 when the file is gone.
func ResolveAddedAt(id string) int64 {
	info, err := os.Stat(id)
	if err != nil {
		return 0
	}
	return info.ModTime().UnixMilli()
}
