package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grepshot/grepshot/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *storage.Store, records ...storage.Screenshot) {
	t.Helper()
	for _, sc := range records {
		if err := s.SaveScreenshot(sc); err != nil {
			t.Fatalf("SaveScreenshot %s: %v", sc.ID, err)
		}
	}
}

func TestExportThenImportRoundTrip(t *testing.T) {
	src := openTestStore(t)
	seed(t, src,
		storage.Screenshot{ID: "/img/a.png", DisplayName: "a.png", ExtractedText: "alpha", CreatedAt: 100},
		storage.Screenshot{ID: "/img/b.png", DisplayName: "b.png", ExtractedText: "", CreatedAt: 200},
	)

	dir := t.TempDir()
	res, err := New(src, nil).Export(dir)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if res.ItemCount != 2 {
		t.Errorf("ItemCount = %d, want 2", res.ItemCount)
	}
	if !strings.HasPrefix(filepath.Base(res.Location), "grepshot_export_") {
		t.Errorf("Location = %q, want grepshot_export_ prefix", res.Location)
	}

	dst := openTestStore(t)
	imp, err := New(dst, nil).Import(res.Location)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if imp.ImportedCount != 2 || imp.SkippedCount != 0 || imp.ErrorCount != 0 {
		t.Fatalf("import result = %+v, want 2 imported", imp)
	}

	got, err := dst.GetScreenshot("/img/a.png")
	if err != nil {
		t.Fatalf("GetScreenshot: %v", err)
	}
	if got.ExtractedText != "alpha" || got.CreatedAt != 100 {
		t.Errorf("round trip mangled record: %+v", got)
	}
}

// TestImportTwiceSkipsEverything: the second import of the same document
// imports nothing and skips every entry.
func TestImportTwiceSkipsEverything(t *testing.T) {
	src := openTestStore(t)
	seed(t, src,
		storage.Screenshot{ID: "/img/a.png", DisplayName: "a.png", ExtractedText: "alpha", CreatedAt: 100},
		storage.Screenshot{ID: "/img/b.png", DisplayName: "b.png", ExtractedText: "beta", CreatedAt: 200},
	)

	res, err := New(src, nil).Export(t.TempDir())
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	dst := openTestStore(t)
	eng := New(dst, nil)
	if _, err := eng.Import(res.Location); err != nil {
		t.Fatalf("first Import: %v", err)
	}

	second, err := eng.Import(res.Location)
	if err != nil {
		t.Fatalf("second Import: %v", err)
	}
	if second.ImportedCount != 0 {
		t.Errorf("second ImportedCount = %d, want 0", second.ImportedCount)
	}
	if second.SkippedCount != second.TotalItems {
		t.Errorf("second SkippedCount = %d, want %d", second.SkippedCount, second.TotalItems)
	}
}

func TestExportEmptyStore(t *testing.T) {
	s := openTestStore(t)

	res, err := New(s, nil).Export(t.TempDir())
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if res.ItemCount != 0 {
		t.Errorf("ItemCount = %d, want 0", res.ItemCount)
	}

	imp, err := New(s, nil).Import(res.Location)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if imp.TotalItems != 0 || imp.ImportedCount != 0 {
		t.Errorf("import result = %+v, want all zero", imp)
	}
}

func TestExportInvalidDestination(t *testing.T) {
	s := openTestStore(t)
	dir := t.TempDir()

	if _, err := New(s, nil).Export(filepath.Join(dir, "missing")); err == nil {
		t.Fatal("expected error for missing destination")
	}

	// No partial files left behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("destination not clean after failed export: %v", entries)
	}
}

func TestImportLegacyDocumentWithoutCreatedAt(t *testing.T) {
	doc := `[
		{"path": "/img/a.png", "name": "a.png", "text": "alpha"},
		{"path": "/img/b.png", "name": "b.png", "text": "beta"}
	]`
	path := filepath.Join(t.TempDir(), "legacy.json")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s := openTestStore(t)
	resolve := func(id string) int64 {
		if id == "/img/a.png" {
			return 4242
		}
		return 0
	}

	imp, err := New(s, resolve).Import(path)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if imp.ImportedCount != 2 {
		t.Fatalf("ImportedCount = %d, want 2", imp.ImportedCount)
	}

	a, err := s.GetScreenshot("/img/a.png")
	if err != nil {
		t.Fatalf("GetScreenshot a: %v", err)
	}
	if a.CreatedAt != 4242 {
		t.Errorf("a.CreatedAt = %d, want resolved 4242", a.CreatedAt)
	}

	b, err := s.GetScreenshot("/img/b.png")
	if err != nil {
		t.Fatalf("GetScreenshot b: %v", err)
	}
	if b.CreatedAt != 0 {
		t.Errorf("b.CreatedAt = %d, want epoch fallback 0", b.CreatedAt)
	}
}

func TestImportCountsPerEntryErrors(t *testing.T) {
	doc := `[
		{"path": "/img/good.png", "name": "good.png", "text": "fine", "createdAt": 10},
		{"path": "", "name": "no-path.png", "text": "bad"},
		"not an object",
		{"path": "/img/also-good.png", "name": "ok.png", "text": "fine too", "createdAt": 20}
	]`
	path := filepath.Join(t.TempDir(), "mixed.json")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s := openTestStore(t)
	imp, err := New(s, nil).Import(path)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if imp.TotalItems != 4 {
		t.Errorf("TotalItems = %d, want 4", imp.TotalItems)
	}
	if imp.ImportedCount != 2 {
		t.Errorf("ImportedCount = %d, want 2", imp.ImportedCount)
	}
	if imp.ErrorCount != 2 {
		t.Errorf("ErrorCount = %d, want 2", imp.ErrorCount)
	}
}

func TestImportUnreadableFile(t *testing.T) {
	s := openTestStore(t)
	if _, err := New(s, nil).Import(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing import file")
	}
}

func TestExportDocumentShape(t *testing.T) {
	s := openTestStore(t)
	seed(t, s, storage.Screenshot{ID: "/img/a.png", DisplayName: "a.png", ExtractedText: "alpha", CreatedAt: 100})

	res, err := New(s, nil).Export(t.TempDir())
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	data, err := os.ReadFile(res.Location)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var entries []map[string]any
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len = %d, want 1", len(entries))
	}
	for _, key := range []string{"path", "name", "text", "createdAt"} {
		if _, ok := entries[0][key]; !ok {
			t.Errorf("entry missing %q field", key)
		}
	}
}
