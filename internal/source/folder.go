package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FolderSource is a user-added directory. Unlike the media source it does not
// require the screenshot filename marker, since adding the folder already
// declared its contents. It lists a single level, not a tree.
type FolderSource struct {
	dir string
}

// NewFolderSource creates a FolderSource for dir.
func NewFolderSource(dir string) *FolderSource {
	return &FolderSource{dir: dir}
}

func (f *FolderSource) Name() string {
	return "folder:" + f.dir
}

// Scan lists the folder and returns images modified after newerThan.
func (f *FolderSource) Scan(ctx context.Context, newerThan int64) ([]Candidate, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("listing folder %s: %w", f.dir, err)
	}

	var candidates []Candidate
	for _, entry := range entries {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if entry.IsDir() || !isImage(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		modifiedAt := info.ModTime().UnixMilli()
		if modifiedAt <= newerThan {
			continue
		}
		abs, err := filepath.Abs(filepath.Join(f.dir, entry.Name()))
		if err != nil {
			abs = filepath.Join(f.dir, entry.Name())
		}
		candidates = append(candidates, Candidate{
			ID:          abs,
			DisplayName: entry.Name(),
			AddedAt:     modifiedAt,
		})
	}
	return candidates, nil
}
