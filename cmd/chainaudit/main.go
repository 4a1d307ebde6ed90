// Package main is the CLI entry point for chainaudit — a tamper-evident
// audit chain with independent verification and a public access façade.
//
// Every audited event is an entry in an append-only, hash-chained log:
//
//	caller --> store.Append(record) --> SHA-256 link --> durable JSONL entry
//	any party --> verifier.Verify() --> full rescan --> intact / first break
//
// CLI commands (cobra):
//
//	chainaudit append   - Append one entry to the chain
//	chainaudit verify   - Verify hash chain integrity
//	chainaudit tail     - Show recent entries (-f to follow)
//	chainaudit query    - Query entries with filters
//	chainaudit export   - Export the chain (jsonl/json/csv, --redacted)
//	chainaudit report   - Print the public audit report
//	chainaudit stats    - Print chain statistics
//	chainaudit serve    - Run the public façade HTTP server
//	chainaudit config   - View/generate configuration
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chainaudit/chainaudit/internal/chain"
	"github.com/chainaudit/chainaudit/internal/config"
	"github.com/chainaudit/chainaudit/internal/public"
)

// Build-time variables injected via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// defaultConfigDir returns ~/.chainaudit/ where config.yaml and the
// default chain directory live.
func defaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chainaudit"
	}
	return filepath.Join(home, ".chainaudit")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// ============================================================================
// Root command
// ============================================================================

// configDir is the global flag for the chainaudit config/state directory.
var configDir string

// chainDir optionally overrides the chain storage directory from config.
var chainDir string

var rootCmd = &cobra.Command{
	Use:   "chainaudit",
	Short: "chainaudit — Tamper-evident audit chain",
	Long: `chainaudit maintains an append-only log of operation records, each
cryptographically linked to its predecessor. Any insertion, deletion,
reordering, or mutation of past entries is detectable by re-running
verification, and a public access façade exposes the non-sensitive
subset to external auditors.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&configDir,
		"config-dir",
		defaultConfigDir(),
		"Path to chainaudit config and state directory",
	)
	rootCmd.PersistentFlags().StringVar(
		&chainDir,
		"dir",
		"",
		"Chain storage directory (overrides config)",
	)

	rootCmd.AddCommand(appendCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
}

// loadConfig loads config.yaml from the config directory and applies the
// --dir override.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		return nil, err
	}
	if chainDir != "" {
		cfg.Chain.Dir = chainDir
	}
	return cfg, nil
}

// openStore opens the chain store for writing, taking the exclusive
// writer lock. Only append and serve use this.
func openStore() (*chain.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := chain.Open(cfg.Chain.Dir)
	if err != nil {
		return nil, fmt.Errorf("opening chain store: %w", err)
	}
	return store, nil
}

// openStoreRead opens the store read-only, so verify/query/tail and the
// reporting commands work while a server process holds the writer lock.
func openStoreRead() (*chain.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := chain.OpenReadOnly(cfg.Chain.Dir)
	if err != nil {
		return nil, fmt.Errorf("opening chain store: %w", err)
	}
	return store, nil
}

// ============================================================================
// chainaudit append — Append one entry
// ============================================================================

var (
	appendType        string
	appendActor       string
	appendSensitivity string
	appendPayload     string
)

var appendCmd = &cobra.Command{
	Use:   "append",
	Short: "Append one entry to the chain",
	Long: `Append a single audited event. The entry is linked to the current
tail, hashed, and durably flushed before the command returns.

Example:
  chainaudit append --type kernel_op --actor kernel --payload '{"op":"boot"}'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var payload map[string]any
		if appendPayload != "" {
			if err := json.Unmarshal([]byte(appendPayload), &payload); err != nil {
				return fmt.Errorf("invalid payload JSON: %w", err)
			}
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		entry, err := store.Append(cmd.Context(),
			chain.EventType(appendType),
			appendActor,
			chain.Sensitivity(appendSensitivity),
			payload,
		)
		if err != nil {
			return fmt.Errorf("append failed: %w", err)
		}

		fmt.Printf("appended entry #%d (%s)\n  hash: %s\n", entry.Sequence, entry.EntryID, entry.Hash)
		return nil
	},
}

func init() {
	appendCmd.Flags().StringVar(&appendType, "type", "", "Event type (e.g. kernel_op, ethical_decision)")
	appendCmd.Flags().StringVar(&appendActor, "actor", "", "Originating component or principal")
	appendCmd.Flags().StringVar(&appendSensitivity, "sensitivity", "public", "Sensitivity: public or sensitive")
	appendCmd.Flags().StringVar(&appendPayload, "payload", "", "Event payload as a JSON object")
	appendCmd.MarkFlagRequired("type")
	appendCmd.MarkFlagRequired("actor")
}

// ============================================================================
// chainaudit verify — Verify hash chain integrity
// ============================================================================

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify hash chain integrity",
	Long: `Walk the full chain from genesis and re-check every link: sequence
continuity, prev_hash linkage, and each entry's recomputed digest. The
first broken link is named exactly; timestamp regressions are reported
as warnings without failing the chain.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStoreRead()
		if err != nil {
			return err
		}
		defer store.Close()

		result, err := chain.NewVerifier(store).Verify(cmd.Context())
		if err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}

		for _, a := range result.Anomalies {
			fmt.Printf("warning: entry #%d timestamp %s precedes predecessor %s\n",
				a.Sequence, a.Timestamp, a.PrevTimestamp)
		}

		if !result.Valid {
			fmt.Printf("chain BROKEN at entry #%d: %s\n",
				result.FirstFailure.Sequence, result.FirstFailure.Reason)
			return fmt.Errorf("chain integrity violation at entry #%d", result.FirstFailure.Sequence)
		}

		fmt.Printf("chain intact, %d entries verified\n", result.Checked)
		return nil
	},
}

// ============================================================================
// chainaudit tail — Show recent entries
// ============================================================================

var (
	tailFollowMode bool
	tailLimit      int
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show recent entries",
	Long:  `Show the most recent chain entries. Use -f to follow new entries in real time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStoreRead()
		if err != nil {
			return err
		}
		defer store.Close()

		total := store.Len()
		from := uint64(0)
		if tailLimit > 0 && total > uint64(tailLimit) {
			from = total - uint64(tailLimit)
		}
		if total > 0 {
			entries, err := store.ReadRange(from, total-1)
			if err != nil {
				return fmt.Errorf("reading entries: %w", err)
			}
			for _, e := range entries {
				printEntry(e)
			}
		}

		if tailFollowMode {
			return store.Follow(cmd.Context(), printEntry)
		}
		return nil
	},
}

func init() {
	tailCmd.Flags().BoolVarP(&tailFollowMode, "follow", "f", false, "Follow new entries in real time")
	tailCmd.Flags().IntVarP(&tailLimit, "limit", "n", 20, "Number of recent entries to show")
}

// ============================================================================
// chainaudit query — Query entries with filters
// ============================================================================

var (
	queryTypes       []string
	queryActor       string
	queryActorGlob   string
	querySince       string
	queryUntil       string
	querySensitivity string
	queryLimit       int
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query entries with filters",
	Long: `Query the chain with filters. All filters are combined with AND;
results are returned in ascending sequence order.

Examples:
  chainaudit query --type kernel_op --actor kernel --since 1h
  chainaudit query --actor-glob 'sentient.*' --sensitivity public`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStoreRead()
		if err != nil {
			return err
		}
		defer store.Close()

		filter := chain.Filter{
			Actor:       queryActor,
			ActorGlob:   queryActorGlob,
			Since:       querySince,
			Until:       queryUntil,
			Sensitivity: chain.Sensitivity(querySensitivity),
			Limit:       queryLimit,
		}
		for _, t := range queryTypes {
			filter.EventTypes = append(filter.EventTypes, chain.EventType(t))
		}

		entries, err := store.Query(filter)
		if err != nil {
			return fmt.Errorf("query failed: %w", err)
		}

		if len(entries) == 0 {
			fmt.Println("No matching entries found.")
			return nil
		}
		for _, e := range entries {
			printEntry(e)
		}
		fmt.Printf("\n%d entries found.\n", len(entries))
		return nil
	},
}

func init() {
	queryCmd.Flags().StringSliceVar(&queryTypes, "type", nil, "Filter by event type (repeatable)")
	queryCmd.Flags().StringVar(&queryActor, "actor", "", "Filter by exact actor")
	queryCmd.Flags().StringVar(&queryActorGlob, "actor-glob", "", "Filter by actor glob pattern")
	queryCmd.Flags().StringVar(&querySince, "since", "", "Entries since RFC3339 time or duration (e.g. 1h)")
	queryCmd.Flags().StringVar(&queryUntil, "until", "", "Entries until RFC3339 time or duration")
	queryCmd.Flags().StringVar(&querySensitivity, "sensitivity", "", "Filter by sensitivity (public/sensitive)")
	queryCmd.Flags().IntVar(&queryLimit, "limit", 0, "Maximum number of entries to return")
}

// ============================================================================
// chainaudit export — Export the chain
// ============================================================================

var (
	exportFormat   string
	exportRedacted bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the chain",
	Long: `Export all entries to stdout. Supported formats: jsonl, json, csv.
With --redacted, sensitive payloads are replaced by a redaction marker
while sequence and hash linkage stay intact, so the export remains
externally verifiable.

Example:
  chainaudit export --format csv > chain.csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStoreRead()
		if err != nil {
			return err
		}
		defer store.Close()

		if exportRedacted {
			entries, err := public.New(store).RedactedExport(cmd.Context())
			if err != nil {
				return fmt.Errorf("redacted export failed: %w", err)
			}
			enc := json.NewEncoder(os.Stdout)
			for _, e := range entries {
				if err := enc.Encode(e); err != nil {
					return err
				}
			}
			return nil
		}

		return store.Export(os.Stdout, exportFormat)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "jsonl", "Export format: jsonl, json, csv")
	exportCmd.Flags().BoolVar(&exportRedacted, "redacted", false, "Redact sensitive payloads, keep linkage")
}

// ============================================================================
// chainaudit report — Public audit report
// ============================================================================

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the public audit report",
	Long: `Generate the public audit report: chain verification status, the
public subset of entries, and per-type event counts over that subset.
Sensitive entries never appear in the report.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStoreRead()
		if err != nil {
			return err
		}
		defer store.Close()

		report, err := public.New(store).Report(cmd.Context())
		if err != nil {
			return fmt.Errorf("report generation failed: %w", err)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

// ============================================================================
// chainaudit stats — Chain statistics
// ============================================================================

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print chain statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStoreRead()
		if err != nil {
			return err
		}
		defer store.Close()

		stats, err := store.Stats()
		if err != nil {
			return fmt.Errorf("reading stats: %w", err)
		}

		m := store.Manifest()
		fmt.Printf("chain:           %s\n", m.ChainID)
		fmt.Printf("created:         %s\n", m.CreatedAt)
		fmt.Printf("total entries:   %d\n", stats.TotalEntries)
		fmt.Printf("public entries:  %d\n", stats.PublicEntries)
		if stats.OldestEntry != "" {
			fmt.Printf("oldest entry:    %s\n", stats.OldestEntry)
			fmt.Printf("newest entry:    %s\n", stats.NewestEntry)
		}
		for _, t := range chain.EventTypes() {
			if n := stats.EventCounts[t]; n > 0 {
				fmt.Printf("  %-20s %d\n", t, n)
			}
		}
		return nil
	},
}

// ============================================================================
// chainaudit serve — Public façade HTTP server
// ============================================================================

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the public façade HTTP server",
	Long: `Serve the public access façade over HTTP: the audit report, the
public entry feed (REST + WebSocket), chain statistics, and the
redacted export. Sensitive entries are filtered at this layer; the
chain underneath stays complete.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		store, err := chain.Open(cfg.Chain.Dir)
		if err != nil {
			return fmt.Errorf("opening chain store: %w", err)
		}
		defer store.Close()

		// Record server lifecycle in the chain itself.
		if _, err := store.Append(cmd.Context(), chain.EventSystemInit, "facade-server",
			chain.SensitivityPublic, map[string]any{"event": "serve_start", "version": version}); err != nil {
			return fmt.Errorf("recording startup: %w", err)
		}

		facade := public.New(store)
		server := public.NewServer(facade, store)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		// Feed pump: follows the chain and broadcasts public entries.
		go func() {
			if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				fmt.Fprintf(os.Stderr, "live feed stopped: %v\n", err)
			}
		}()

		httpServer := &http.Server{
			Addr:    cfg.Server.Addr(),
			Handler: server.Handler(),
		}

		// Shut down cleanly on SIGINT/SIGTERM.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigCh
			cancel()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			httpServer.Shutdown(shutdownCtx)
		}()

		fmt.Printf("chainaudit façade listening on http://%s\n", cfg.Server.Addr())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

// ============================================================================
// chainaudit config — Configuration management
// ============================================================================

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View and generate configuration",
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configGenerateCmd)
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := filepath.Join(configDir, "config.yaml")
		data, err := os.ReadFile(configPath)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Printf("No config file found at %s\n", configPath)
				fmt.Println("Run 'chainaudit config generate' to create one with defaults.")
				return nil
			}
			return fmt.Errorf("reading config: %w", err)
		}
		fmt.Println(string(data))
		return nil
	},
}

var configGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := os.MkdirAll(configDir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
		configPath := filepath.Join(configDir, "config.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("config already exists at %s", configPath)
		}
		if err := config.WriteDefault(configPath); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}
		fmt.Printf("wrote default config to %s\n", configPath)
		return nil
	},
}

// printEntry formats and prints a single chain entry to stdout.
func printEntry(e chain.Entry) {
	marker := " "
	if e.Sensitivity == chain.SensitivitySensitive {
		marker = "*"
	}
	fmt.Printf("#%-6d [%s] %s type=%-18s actor=%s\n",
		e.Sequence, e.Timestamp, marker, e.EventType, e.Actor)
}
