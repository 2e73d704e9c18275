package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/grepshot/grepshot/internal/config"
	"github.com/grepshot/grepshot/internal/export"
	"github.com/grepshot/grepshot/internal/pipeline"
)

// --- scan ---

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover new screenshots and run OCR on them",
	Long: `Discover screenshots added since the last processed one and extract
their text. The run continues in the server; pass --watch to stream progress
until it finishes.

Examples:
  grepshot scan
  grepshot scan --limit 50
  grepshot scan --watch`,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		watch, _ := cmd.Flags().GetBool("watch")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{}
		if limit > 0 {
			req["limit"] = limit
		}
		resp, err := client.post(cmd.Context(), "/process/start", req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if !watch {
			printSuccess("Run started")
			return nil
		}

		return followProgress(cmd, client)
	},
}

// followProgress consumes the server-sent event stream and renders progress
// lines until the run reaches a terminal state.
func followProgress(cmd *cobra.Command, client *apiClient) error {
	resp, err := client.get(cmd.Context(), "/process/events")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	var last pipeline.State
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var state pipeline.State
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &state); err != nil {
			continue
		}
		last = state
		if state.Total > 0 {
			printStep("Processed %d/%d", state.Processed, state.Total)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading progress stream: %w", err)
	}

	if last.Error != "" {
		printError("Run failed: %s", last.Error)
		return fmt.Errorf("run failed: %s", last.Error)
	}
	if last.Total == 0 {
		printSuccess("Nothing new to process")
		return nil
	}
	printSuccess("Processed %d of %d screenshots", last.Processed, last.Total)
	return nil
}

func init() {
	scanCmd.Flags().Int("limit", 0, "maximum screenshots to process (default: configured scan.limit)")
	scanCmd.Flags().Bool("watch", false, "stream progress until the run finishes")
}

// --- pause / cancel ---

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause the current OCR run at the next batch boundary",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/process/pause", nil)
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Run will pause after the current batch")
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel the current OCR run",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/process/cancel", nil)
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Run cancelled")
		return nil
	},
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search screenshots by recognized text",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/search?q=%s&limit=%d", url.QueryEscape(query), limit)
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var results []screenshotResult
		if err := decodeJSON(resp, &results); err != nil {
			return err
		}

		if len(results) == 0 {
			fmt.Println("No matches found.")
			return nil
		}

		for _, r := range results {
			printScreenshot(r, query)
		}
		return nil
	},
}

type screenshotResult struct {
	ID            string `json:"id"`
	DisplayName   string `json:"displayName"`
	ExtractedText string `json:"extractedText"`
	CreatedAt     int64  `json:"createdAt"`
}

func printScreenshot(r screenshotResult, query string) {
	when := time.UnixMilli(r.CreatedAt).Format("2006-01-02 15:04")
	fmt.Printf("\n%s  %s\n", colorize(colorBold, r.DisplayName), colorize(colorCyan, when))
	fmt.Printf("  %s\n", r.ID)
	if snippet := snippetAround(r.ExtractedText, query); snippet != "" {
		fmt.Printf("  %s\n", snippet)
	}
}

// snippetAround returns a short window of text centered on the first match,
// or the leading text when query is empty or absent.
func snippetAround(text, query string) string {
	const window = 160
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return ""
	}

	idx := -1
	if query != "" {
		idx = strings.Index(strings.ToLower(text), strings.ToLower(query))
	}
	if idx < 0 {
		if len(text) > window {
			return text[:runeBoundary(text, window)] + "..."
		}
		return text
	}

	start := idx - window/2
	if start < 0 {
		start = 0
	}
	start = runeBoundary(text, start)
	end := start + window
	if end > len(text) {
		end = len(text)
	}
	end = runeBoundary(text, end)
	snippet := text[start:end]
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(text) {
		snippet += "..."
	}
	return snippet
}

// runeBoundary walks i back to the start of the rune it points into, so
// slicing at i cannot produce invalid UTF-8.
func runeBoundary(text string, i int) int {
	for i > 0 && i < len(text) && !utf8.RuneStart(text[i]) {
		i--
	}
	return i
}

func init() {
	searchCmd.Flags().Int("limit", 20, "maximum number of results")
}

// --- list ---

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored screenshots, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/screenshots?limit=%d", limit))
		if err != nil {
			return err
		}

		var results []screenshotResult
		if err := decodeJSON(resp, &results); err != nil {
			return err
		}

		if len(results) == 0 {
			fmt.Println("No screenshots stored yet. Run `grepshot scan` first.")
			return nil
		}

		for _, r := range results {
			when := time.UnixMilli(r.CreatedAt).Format("2006-01-02 15:04")
			marker := " "
			if r.ExtractedText == "" {
				marker = colorize(colorYellow, "∅")
			}
			fmt.Printf("%s %s  %s\n", marker, colorize(colorCyan, when), r.DisplayName)
		}
		return nil
	},
}

func init() {
	listCmd.Flags().Int("limit", 50, "maximum number of screenshots to list")
}

// --- export / import ---

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all screenshot records to a JSON file",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		if dir == "" {
			dir = "."
		}
		// The server resolves paths against its own working directory.
		dir, err := filepath.Abs(dir)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/export", map[string]any{"dir": dir})
		if err != nil {
			return err
		}

		var result export.ExportResult
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Exported %d records to %s", result.ItemCount, result.Location)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("dir", "", "destination directory (default: current directory)")
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import screenshot records from a JSON file",
	Long: `Import records from a previously exported JSON file. Records whose id
already exists are skipped, so importing the same file twice is safe.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/import", map[string]any{"file": file})
		if err != nil {
			return err
		}

		var result export.ImportResult
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Imported %d of %d records (%d skipped, %d errors)",
			result.ImportedCount, result.TotalItems, result.SkippedCount, result.ErrorCount)
		if result.ErrorCount > 0 {
			printWarning("%d entries could not be imported", result.ErrorCount)
		}
		return nil
	},
}

// --- clear ---

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all stored screenshot records",
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			printWarning("This will delete ALL stored records. Use --yes to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/screenshots")
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("All records deleted")
		return nil
	},
}

func init() {
	clearCmd.Flags().Bool("yes", false, "confirm deletion")
}

// --- sources ---

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Manage extra screenshot folders",
}

var sourcesAddCmd = &cobra.Command{
	Use:   "add <dir>",
	Short: "Add a folder to scan for screenshots",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		abs, err := config.AddFolder(config.NewBackend(), args[0])
		if err != nil {
			return err
		}
		printSuccess("Added source %s", abs)
		return nil
	},
}

var sourcesRemoveCmd = &cobra.Command{
	Use:   "remove <dir>",
	Short: "Remove a previously added folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.RemoveFolder(config.NewBackend(), args[0]); err != nil {
			return err
		}
		printSuccess("Removed source %s", args[0])
		return nil
	},
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured screenshot folders",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		fmt.Printf("%s %s\n", colorize(colorBold, "media:"), cfg.Scan.MediaDir)
		for _, f := range cfg.Scan.Folders {
			fmt.Printf("%s %s\n", colorize(colorBold, "folder:"), f)
		}
		return nil
	},
}

func init() {
	sourcesCmd.AddCommand(sourcesAddCmd)
	sourcesCmd.AddCommand(sourcesRemoveCmd)
	sourcesCmd.AddCommand(sourcesListCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(config.NewBackend(), key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
