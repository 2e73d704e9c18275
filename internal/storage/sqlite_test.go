package storage

import (
	"errors"
	"fmt"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestSaveScreenshotReplacesOnConflict(t *testing.T) {
	s := openTestStore(t)

	first := Screenshot{ID: "img-1", DisplayName: "Screenshot_1.png", ExtractedText: "old", CreatedAt: 100}
	if err := s.SaveScreenshot(first); err != nil {
		t.Fatalf("SaveScreenshot: %v", err)
	}

	second := first
	second.ExtractedText = "new"
	if err := s.SaveScreenshot(second); err != nil {
		t.Fatalf("SaveScreenshot (replace): %v", err)
	}

	got, err := s.GetScreenshot("img-1")
	if err != nil {
		t.Fatalf("GetScreenshot: %v", err)
	}
	if got.ExtractedText != "new" {
		t.Errorf("ExtractedText = %q, want %q", got.ExtractedText, "new")
	}

	n, err := s.CountScreenshots()
	if err != nil {
		t.Fatalf("CountScreenshots: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestGetScreenshotNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetScreenshot("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMostRecentScreenshot(t *testing.T) {
	s := openTestStore(t)

	_, err := s.MostRecentScreenshot()
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty store: err = %v, want ErrNotFound", err)
	}

	for i, createdAt := range []int64{100, 300, 200} {
		sc := Screenshot{
			ID:          fmt.Sprintf("img-%d", i),
			DisplayName: fmt.Sprintf("Screenshot_%d.png", i),
			CreatedAt:   createdAt,
		}
		if err := s.SaveScreenshot(sc); err != nil {
			t.Fatalf("SaveScreenshot: %v", err)
		}
	}

	got, err := s.MostRecentScreenshot()
	if err != nil {
		t.Fatalf("MostRecentScreenshot: %v", err)
	}
	if got.CreatedAt != 300 {
		t.Errorf("CreatedAt = %d, want 300", got.CreatedAt)
	}
}

func TestAllScreenshotsNewestFirst(t *testing.T) {
	s := openTestStore(t)

	for i, createdAt := range []int64{50, 200, 100} {
		sc := Screenshot{ID: fmt.Sprintf("img-%d", i), DisplayName: "s.png", CreatedAt: createdAt}
		if err := s.SaveScreenshot(sc); err != nil {
			t.Fatalf("SaveScreenshot: %v", err)
		}
	}

	all, err := s.AllScreenshots()
	if err != nil {
		t.Fatalf("AllScreenshots: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].CreatedAt > all[i-1].CreatedAt {
			t.Errorf("not sorted newest first: %d before %d", all[i-1].CreatedAt, all[i].CreatedAt)
		}
	}
}

func TestSearchScreenshots(t *testing.T) {
	s := openTestStore(t)

	records := []Screenshot{
		{ID: "a", DisplayName: "a.png", ExtractedText: "Hello World", CreatedAt: 1},
		{ID: "b", DisplayName: "b.png", ExtractedText: "error: connection refused", CreatedAt: 2},
		{ID: "c", DisplayName: "c.png", ExtractedText: "", CreatedAt: 3},
		{ID: "d", DisplayName: "d.png", ExtractedText: "100% complete", CreatedAt: 4},
		{ID: "e", DisplayName: "e.png", ExtractedText: "die ÄPFEL sind reif", CreatedAt: 5},
		{ID: "f", DisplayName: "f.png", ExtractedText: "die äpfel sind reif", CreatedAt: 6},
	}
	for _, sc := range records {
		if err := s.SaveScreenshot(sc); err != nil {
			t.Fatalf("SaveScreenshot: %v", err)
		}
	}

	tests := []struct {
		name    string
		query   string
		wantIDs []string
	}{
		{"case insensitive", "hello", []string{"a"}},
		{"uppercase query", "WORLD", []string{"a"}},
		{"substring", "connection", []string{"b"}},
		{"empty query matches nothing", "", nil},
		{"no match", "zzz", nil},
		{"literal percent", "100%", []string{"d"}},
		// Case folding is ASCII only, so uppercase non-ASCII text is
		// missed while an exact-case match still works.
		{"non-ascii exact case", "äpfel", []string{"f"}},
		{"non-ascii folded query", "ÄPFEL", []string{"f"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.SearchScreenshots(tt.query)
			if err != nil {
				t.Fatalf("SearchScreenshots(%q): %v", tt.query, err)
			}
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("got %d results, want %d", len(got), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if got[i].ID != id {
					t.Errorf("result[%d].ID = %q, want %q", i, got[i].ID, id)
				}
			}
		})
	}
}

func TestDeleteAllScreenshots(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveScreenshot(Screenshot{ID: "a", DisplayName: "a.png"}); err != nil {
		t.Fatalf("SaveScreenshot: %v", err)
	}
	if err := s.DeleteAllScreenshots(); err != nil {
		t.Fatalf("DeleteAllScreenshots: %v", err)
	}

	n, err := s.CountScreenshots()
	if err != nil {
		t.Fatalf("CountScreenshots: %v", err)
	}
	if n != 0 {
		t.Errorf("count = %d, want 0", n)
	}
}

func TestAllScreenshotIDs(t *testing.T) {
	s := openTestStore(t)

	for _, id := range []string{"a", "b"} {
		if err := s.SaveScreenshot(Screenshot{ID: id, DisplayName: id + ".png"}); err != nil {
			t.Fatalf("SaveScreenshot: %v", err)
		}
	}

	ids, err := s.AllScreenshotIDs()
	if err != nil {
		t.Fatalf("AllScreenshotIDs: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("len = %d, want 2", len(ids))
	}
	if _, ok := ids["a"]; !ok {
		t.Error("missing id a")
	}
}

func TestRunLifecycle(t *testing.T) {
	s := openTestStore(t)

	if err := s.CreateRun("run-1", 10); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := s.UpdateRunProgress("run-1", 4); err != nil {
		t.Fatalf("UpdateRunProgress: %v", err)
	}
	if err := s.FinishRun("run-1", RunStatusCompleted, ""); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	runs, err := s.RecentRuns(5)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("len = %d, want 1", len(runs))
	}
	r := runs[0]
	if r.Processed != 4 || r.Total != 10 {
		t.Errorf("progress = %d/%d, want 4/10", r.Processed, r.Total)
	}
	if r.Status != RunStatusCompleted {
		t.Errorf("status = %q, want %q", r.Status, RunStatusCompleted)
	}
	if r.FinishedAt.IsZero() {
		t.Error("FinishedAt not set")
	}
}

func TestRunProgressNotFound(t *testing.T) {
	s := openTestStore(t)

	if err := s.UpdateRunProgress("missing", 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateRunProgress: err = %v, want ErrNotFound", err)
	}
	if err := s.FinishRun("missing", RunStatusFailed, "boom"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FinishRun: err = %v, want ErrNotFound", err)
	}
}
