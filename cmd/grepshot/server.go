package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/grepshot/grepshot/internal/api"
	"github.com/grepshot/grepshot/internal/config"
	"github.com/grepshot/grepshot/internal/discovery"
	"github.com/grepshot/grepshot/internal/export"
	"github.com/grepshot/grepshot/internal/pipeline"
	"github.com/grepshot/grepshot/internal/recognize"
	"github.com/grepshot/grepshot/internal/source"
	"github.com/grepshot/grepshot/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the grepshot server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running grepshot server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show grepshot system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the screenshot corpus over MCP (stdio transport)",
	Long: `Serve search_screenshots and get_screenshot_text tools over MCP on
stdin/stdout, for use as a local tool server by LLM clients. Opens the
database directly, so the grepshot server does not need to be running.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "grepshot.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func newRecognizer(ctx context.Context, cfg config.Config) (recognize.Recognizer, error) {
	switch cfg.OCR.Engine {
	case recognize.EngineVision:
		return recognize.NewGoogleVision(ctx, cfg.OCR.CredentialsFile)
	default:
		return recognize.NewTesseract(cfg.OCR.TesseractPath, cfg.OCR.Language), nil
	}
}

func extraSources(cfg config.Config) []source.Source {
	var extra []source.Source
	for _, dir := range cfg.Scan.Folders {
		extra = append(extra, source.NewFolderSource(dir))
	}
	return extra
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "grepshot version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	apiToken, err := config.GetAPIToken(config.NewBackend())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}

	// Write PID file. Check if a server is already running via the health
	// endpoint first.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("grepshot is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("grepshot is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Build the OCR pipeline.
	recognizer, err := newRecognizer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing OCR engine %s: %w", cfg.OCR.Engine, err)
	}
	slog.Info("OCR engine ready", "engine", cfg.OCR.Engine)

	disco := discovery.New(store, source.NewMediaSource(cfg.Scan.MediaDir))
	processor := pipeline.NewProcessor(store, recognizer)
	svc := pipeline.NewService(ctx, disco, processor, store, extraSources(cfg), cfg.Scan.BatchSize)
	exporter := export.New(store, source.ResolveAddedAt)

	handler := api.NewHandler(api.AppDeps{
		Store:     store,
		Pipeline:  svc,
		Exporter:  exporter,
		Token:     apiToken,
		ScanLimit: cfg.Scan.Limit,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "grepshot listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Stop any in-flight run before closing the store.
	if err := svc.Cancel(); err != nil && !errors.Is(err, pipeline.ErrNotRunning) {
		slog.Warn("cancelling run during shutdown", "error", err)
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("grepshot is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop grepshot (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to grepshot (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	// Check server health.
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("OCR engine", "%s", cfg.OCR.Engine)
	printStatus("Media dir", "%s", cfg.Scan.MediaDir)
	for _, f := range cfg.Scan.Folders {
		printStatus("Extra folder", "%s", f)
	}

	// Show corpus size and run state if the server is up.
	if running {
		if apiToken, tokenErr := config.GetAPIToken(config.NewBackend()); tokenErr == nil {
			if statsResp, err := apiGet(client, serverURL+"/stats", apiToken); err == nil {
				var stats struct {
					Count               int   `json:"count"`
					MostRecentCreatedAt int64 `json:"mostRecentCreatedAt"`
					RecentRuns          []struct {
						Status    string `json:"status"`
						Processed int    `json:"processed"`
						Total     int    `json:"total"`
					} `json:"recentRuns"`
				}
				if decodeJSON(statsResp, &stats) == nil {
					printStatus("Screenshots", "%d", stats.Count)
					if stats.MostRecentCreatedAt > 0 {
						printStatus("Most recent", "%s", time.UnixMilli(stats.MostRecentCreatedAt).Format(time.RFC1123))
					}
					if len(stats.RecentRuns) > 0 {
						last := stats.RecentRuns[0]
						printStatus("Last run", "%s (%d/%d)", last.Status, last.Processed, last.Total)
					}
				}
			}
			if progResp, err := apiGet(client, serverURL+"/process/progress", apiToken); err == nil {
				var state pipeline.State
				if decodeJSON(progResp, &state) == nil && state.Running {
					printStatus("Run", "processing %d/%d", state.Processed, state.Total)
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func apiGet(client *http.Client, url, token string) (*http.Response, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return client.Do(req)
}

func runMCP(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Keep logs off stdout: the stdio transport owns it.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	mcpSrv := api.NewMCPServer(api.MCPDeps{Store: store})
	stdioSrv := server.NewStdioServer(mcpSrv)
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
