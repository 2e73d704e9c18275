package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	env     string
	typ     keyType
	secret  bool
	extract func(Config) any
}

var specs = []keySpec{
	{key: keyServerPort, env: "GREPSHOT_PORT", typ: kInt, extract: func(c Config) any { return c.Server.Port }},
	{key: keyDataDir, env: "GREPSHOT_DATA_DIR", typ: kString, extract: func(c Config) any { return c.Storage.DataDir }},
	{key: keyMediaDir, env: "GREPSHOT_MEDIA_DIR", typ: kString, extract: func(c Config) any { return c.Scan.MediaDir }},
	{key: keyScanLimit, env: "GREPSHOT_SCAN_LIMIT", typ: kInt, extract: func(c Config) any { return c.Scan.Limit }},
	{key: keyBatchSize, env: "GREPSHOT_BATCH_SIZE", typ: kInt, extract: func(c Config) any { return c.Scan.BatchSize }},
	{key: keyOCREngine, env: "GREPSHOT_OCR_ENGINE", typ: kString, extract: func(c Config) any { return c.OCR.Engine }},
	{key: keyTesseractPath, env: "GREPSHOT_TESSERACT_PATH", typ: kString, extract: func(c Config) any { return c.OCR.TesseractPath }},
	{key: keyOCRLanguage, env: "GREPSHOT_OCR_LANGUAGE", typ: kString, extract: func(c Config) any { return c.OCR.Language }},
	{key: keyCredentialsFile, env: "GREPSHOT_CREDENTIALS_FILE", typ: kString, extract: func(c Config) any { return c.OCR.CredentialsFile }},
	{key: keyLogLevel, env: "GREPSHOT_LOG_LEVEL", typ: kString, extract: func(c Config) any { return c.Log.Level }},
	{key: keyAPIToken, env: "GREPSHOT_TOKEN", typ: kString, secret: true, extract: func(c Config) any { return "" }},
}

// KeyInfo is a displayable config key.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll returns non-secret config keys with their effective values.
func ShowAll(cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		if s.secret {
			continue
		}
		result = append(result, KeyInfo{
			Key:    s.key,
			EnvVar: s.env,
			Value:  fmt.Sprintf("%v", s.extract(cfg)),
		})
	}
	return result
}

// SetKey writes a config key to the file backend. Folder sources are managed
// through AddFolder and RemoveFolder, not here.
func SetKey(b ConfigBackend, key, value string) error {
	for _, s := range specs {
		if s.key != key {
			continue
		}
		if s.secret {
			return fmt.Errorf("cannot set secret %q via config; use environment variable %s", key, s.env)
		}
		switch s.typ {
		case kString:
			return b.SetString(key, value)
		case kInt:
			i, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid integer value for %s: %w", key, err)
			}
			return b.SetInt(key, i)
		}
	}
	return fmt.Errorf("unknown config key: %q", key)
}

// Folders returns the configured extra folder sources.
func Folders(b ConfigBackend) ([]string, error) {
	v, ok, err := b.GetString(keyFolders)
	if err != nil || !ok {
		return nil, err
	}
	return splitList(v), nil
}

// AddFolder registers dir as an extra folder source. The path is made
// absolute and must exist as a directory.
func AddFolder(b ConfigBackend, dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("folder %s: %w", abs, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", abs)
	}

	folders, err := Folders(b)
	if err != nil {
		return "", err
	}
	if slices.Contains(folders, abs) {
		return abs, nil
	}
	folders = append(folders, abs)
	return abs, b.SetString(keyFolders, strings.Join(folders, "\n"))
}

// RemoveFolder deregisters dir. Removing an unknown folder is not an error.
func RemoveFolder(b ConfigBackend, dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	folders, err := Folders(b)
	if err != nil {
		return err
	}
	kept := slices.DeleteFunc(folders, func(f string) bool { return f == abs })
	if len(kept) == 0 {
		return b.Delete(keyFolders)
	}
	return b.SetString(keyFolders, strings.Join(kept, "\n"))
}

// GetAPIToken returns the bearer token for the management API, generating and
// persisting one on first use. GREPSHOT_TOKEN overrides the stored value.
func GetAPIToken(b ConfigBackend) (string, error) {
	if v := os.Getenv("GREPSHOT_TOKEN"); v != "" {
		return v, nil
	}
	if v, ok, err := b.GetString(keyAPIToken); err != nil {
		return "", err
	} else if ok && v != "" {
		return v, nil
	}

	token := uuid.New().String()
	if err := b.SetString(keyAPIToken, token); err != nil {
		return "", fmt.Errorf("persisting API token: %w", err)
	}
	return token, nil
}
