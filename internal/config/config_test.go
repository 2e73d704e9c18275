package config

import (
	"strings"
	"testing"
)

// memBackend is an in-memory ConfigBackend for tests.
type memBackend struct {
	data map[string]any
}

func newMemBackend() *memBackend {
	return &memBackend{data: make(map[string]any)}
}

func (m *memBackend) GetString(key string) (string, bool, error) {
	v, ok := m.data[key]
	if !ok {
		return "", false, nil
	}
	s, _ := v.(string)
	return s, true, nil
}

func (m *memBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.data[key]
	if !ok {
		return 0, false, nil
	}
	i, _ := v.(int)
	return i, true, nil
}

func (m *memBackend) SetString(key, val string) error { m.data[key] = val; return nil }
func (m *memBackend) SetInt(key string, val int) error { m.data[key] = val; return nil }
func (m *memBackend) Delete(key string) error          { delete(m.data, key); return nil }

func TestLoadDefaults(t *testing.T) {
	cfg, err := loadWith(newMemBackend())
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 4680 {
		t.Errorf("Port = %d, want 4680", cfg.Server.Port)
	}
	if cfg.OCR.Engine != "tesseract" {
		t.Errorf("Engine = %q, want tesseract", cfg.OCR.Engine)
	}
	if cfg.Scan.Limit != 200 || cfg.Scan.BatchSize != 5 {
		t.Errorf("Scan = %+v, want limit 200 batch 5", cfg.Scan)
	}
}

func TestLoadBackendValues(t *testing.T) {
	b := newMemBackend()
	b.SetInt("server.port", 9999)
	b.SetString("ocr.engine", "vision")
	b.SetString("scan.folders", "/a\n/b")

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.OCR.Engine != "vision" {
		t.Errorf("Engine = %q, want vision", cfg.OCR.Engine)
	}
	if len(cfg.Scan.Folders) != 2 || cfg.Scan.Folders[0] != "/a" {
		t.Errorf("Folders = %v, want [/a /b]", cfg.Scan.Folders)
	}
}

func TestLoadEnvOverridesBackend(t *testing.T) {
	b := newMemBackend()
	b.SetInt("server.port", 9999)
	t.Setenv("GREPSHOT_PORT", "7777")
	t.Setenv("GREPSHOT_FOLDERS", "/x,/y")

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("Port = %d, want env override 7777", cfg.Server.Port)
	}
	if len(cfg.Scan.Folders) != 2 || cfg.Scan.Folders[1] != "/y" {
		t.Errorf("Folders = %v, want [/x /y]", cfg.Scan.Folders)
	}
}

func TestLoadRejectsUnknownEngine(t *testing.T) {
	b := newMemBackend()
	b.SetString("ocr.engine", "clippy")

	if _, err := loadWith(b); err == nil || !strings.Contains(err.Error(), "unknown OCR engine") {
		t.Fatalf("err = %v, want unknown engine error", err)
	}
}

func TestFolderManagement(t *testing.T) {
	b := newMemBackend()
	dir := t.TempDir()

	abs, err := AddFolder(b, dir)
	if err != nil {
		t.Fatalf("AddFolder: %v", err)
	}

	// Adding twice is a no-op.
	if _, err := AddFolder(b, dir); err != nil {
		t.Fatalf("AddFolder again: %v", err)
	}

	folders, err := Folders(b)
	if err != nil {
		t.Fatalf("Folders: %v", err)
	}
	if len(folders) != 1 || folders[0] != abs {
		t.Fatalf("Folders = %v, want [%s]", folders, abs)
	}

	if err := RemoveFolder(b, dir); err != nil {
		t.Fatalf("RemoveFolder: %v", err)
	}
	folders, err = Folders(b)
	if err != nil {
		t.Fatalf("Folders: %v", err)
	}
	if len(folders) != 0 {
		t.Errorf("Folders = %v, want empty", folders)
	}
}

func TestAddFolderRejectsMissingDir(t *testing.T) {
	if _, err := AddFolder(newMemBackend(), "/no/such/dir/hopefully"); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestGetAPITokenGeneratesOnce(t *testing.T) {
	b := newMemBackend()

	first, err := GetAPIToken(b)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if first == "" {
		t.Fatal("empty token generated")
	}

	second, err := GetAPIToken(b)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if first != second {
		t.Errorf("token not stable: %q then %q", first, second)
	}
}

func TestGetAPITokenEnvOverride(t *testing.T) {
	t.Setenv("GREPSHOT_TOKEN", "from-env")

	token, err := GetAPIToken(newMemBackend())
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if token != "from-env" {
		t.Errorf("token = %q, want from-env", token)
	}
}
