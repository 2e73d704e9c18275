package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/grepshot/grepshot/internal/recognize"
	"github.com/grepshot/grepshot/internal/source"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Scan    ScanConfig
	OCR     OCRConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type ScanConfig struct {
	MediaDir  string   // default screenshots directory
	Folders   []string // user-added extra folder sources
	Limit     int      // max candidates per discovery pass
	BatchSize int      // pipeline checkpoint granularity
}

type OCRConfig struct {
	Engine          string // "tesseract" or "vision"
	TesseractPath   string
	Language        string
	CredentialsFile string // Google Cloud service account, vision engine only
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4680,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Scan: ScanConfig{
			MediaDir:  source.DefaultMediaDir(),
			Limit:     200,
			BatchSize: 5,
		},
		OCR: OCRConfig{
			Engine:   recognize.EngineTesseract,
			Language: "eng",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Backend keys.
const (
	keyServerPort      = "server.port"
	keyDataDir         = "storage.data_dir"
	keyMediaDir        = "scan.media_dir"
	keyFolders         = "scan.folders" // list stored as a single \n-joined string
	keyScanLimit       = "scan.limit"
	keyBatchSize       = "scan.batch_size"
	keyOCREngine       = "ocr.engine"
	keyTesseractPath   = "ocr.tesseract_path"
	keyOCRLanguage     = "ocr.language"
	keyCredentialsFile = "ocr.credentials_file"
	keyLogLevel        = "log.level"
	keyAPIToken        = "server.token"
)

// Load reads configuration from the JSON file backend, then applies
// GREPSHOT_* environment variable overrides.
func Load() (Config, error) {
	return loadWith(NewBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	switch cfg.OCR.Engine {
	case recognize.EngineTesseract, recognize.EngineVision:
	default:
		return Config{}, fmt.Errorf("unknown OCR engine %q (want %q or %q)",
			cfg.OCR.Engine, recognize.EngineTesseract, recognize.EngineVision)
	}

	return cfg, nil
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	if v, ok, err := b.GetInt(keyServerPort); err != nil {
		return err
	} else if ok {
		cfg.Server.Port = v
	}
	if v, ok, _ := b.GetString(keyDataDir); ok && v != "" {
		cfg.Storage.DataDir = v
	}
	if v, ok, _ := b.GetString(keyMediaDir); ok && v != "" {
		cfg.Scan.MediaDir = v
	}
	if v, ok, _ := b.GetString(keyFolders); ok && v != "" {
		cfg.Scan.Folders = splitList(v)
	}
	if v, ok, err := b.GetInt(keyScanLimit); err != nil {
		return err
	} else if ok && v > 0 {
		cfg.Scan.Limit = v
	}
	if v, ok, err := b.GetInt(keyBatchSize); err != nil {
		return err
	} else if ok && v > 0 {
		cfg.Scan.BatchSize = v
	}
	if v, ok, _ := b.GetString(keyOCREngine); ok && v != "" {
		cfg.OCR.Engine = v
	}
	if v, ok, _ := b.GetString(keyTesseractPath); ok && v != "" {
		cfg.OCR.TesseractPath = v
	}
	if v, ok, _ := b.GetString(keyOCRLanguage); ok && v != "" {
		cfg.OCR.Language = v
	}
	if v, ok, _ := b.GetString(keyCredentialsFile); ok && v != "" {
		cfg.OCR.CredentialsFile = v
	}
	if v, ok, _ := b.GetString(keyLogLevel); ok && v != "" {
		cfg.Log.Level = v
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GREPSHOT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("GREPSHOT_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("GREPSHOT_MEDIA_DIR"); v != "" {
		cfg.Scan.MediaDir = v
	}
	if v := os.Getenv("GREPSHOT_FOLDERS"); v != "" {
		cfg.Scan.Folders = splitList(strings.ReplaceAll(v, ",", "\n"))
	}
	if v := os.Getenv("GREPSHOT_SCAN_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Scan.Limit = n
		}
	}
	if v := os.Getenv("GREPSHOT_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Scan.BatchSize = n
		}
	}
	if v := os.Getenv("GREPSHOT_OCR_ENGINE"); v != "" {
		cfg.OCR.Engine = v
	}
	if v := os.Getenv("GREPSHOT_TESSERACT_PATH"); v != "" {
		cfg.OCR.TesseractPath = v
	}
	if v := os.Getenv("GREPSHOT_OCR_LANGUAGE"); v != "" {
		cfg.OCR.Language = v
	}
	if v := os.Getenv("GREPSHOT_CREDENTIALS_FILE"); v != "" {
		cfg.OCR.CredentialsFile = v
	}
	if v := os.Getenv("GREPSHOT_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, "\n") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
