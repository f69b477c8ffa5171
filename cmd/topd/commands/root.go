package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/topd/pkg/config"
	"github.com/openfroyo/topd/pkg/engine"
	"github.com/openfroyo/topd/pkg/stores"
	"github.com/openfroyo/topd/pkg/telemetry"
	"github.com/openfroyo/topd/pkg/topd"
)

var (
	// Global flags
	configPath string
	stateRoot  string
	pillarRoot string
	dropInDir  string
	historyDB  string
	verbose    bool
	jsonOutput bool

	// Set by watch only
	metricsAddr string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

// ErrorKind classifies a command error for the exit log line.
func ErrorKind(err error) string {
	return string(engine.KindOf(err))
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "topd",
		Short: "topd - drop-in top file aggregation for Salt",
		Long: `topd merges a base Salt top file with the fragments that packages drop
into the marker directory (default _tops) below each file root.

Features:
  - First-seen union of targets per match key, per environment
  - State and pillar namespaces merged independently
  - Fragment policies via OPA/rego
  - Output schema check via CUE
  - Render history in SQLite
  - Watch mode with Prometheus metrics`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (yaml, toml or cue)")
	rootCmd.PersistentFlags().StringVar(&stateRoot, "state-root", "", "state file root (overrides config)")
	rootCmd.PersistentFlags().StringVar(&pillarRoot, "pillar-root", "", "pillar root (overrides config)")
	rootCmd.PersistentFlags().StringVar(&dropInDir, "dropin-dir", "", "drop-in marker directory name (overrides config)")
	rootCmd.PersistentFlags().StringVar(&historyDB, "history-db", "", "SQLite render history (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newTopCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newReportCommand())
	rootCmd.AddCommand(newEnableCommand())
	rootCmd.AddCommand(newDisableCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newValidateCommand())

	return rootCmd
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadFile(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if stateRoot != "" {
		cfg.StateRoot = stateRoot
	}
	if pillarRoot != "" {
		cfg.PillarRoot = pillarRoot
	}
	if dropInDir != "" {
		cfg.DropInDir = dropInDir
	}
	if historyDB != "" {
		cfg.HistoryDB = historyDB
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	if metricsAddr != "" {
		cfg.Telemetry.Metrics.Enabled = true
		cfg.Telemetry.Metrics.ListenAddress = metricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// session is everything one command invocation needs.
type session struct {
	ctx       context.Context
	cfg       *config.Config
	tel       *telemetry.Telemetry
	logger    zerolog.Logger
	assembler *topd.Assembler
	store     *stores.SQLiteStore
}

// openSession loads the configuration, sets up telemetry and builds the
// assembler. With history, renders and events are recorded in the store.
func openSession(cmd *cobra.Command, history bool) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	return newSession(cmd.Context(), cfg, tel, history)
}

// newSession takes ownership of tel; it is shut down when newSession fails.
func newSession(parent context.Context, cfg *config.Config, tel *telemetry.Telemetry, history bool) (*session, error) {
	ctx := tel.WithContext(parent)
	logger := tel.Logger.NewComponentLogger("cli").Zerolog()

	s := &session{ctx: ctx, cfg: cfg, tel: tel, logger: logger}
	a, err := topd.New(ctx, cfg, tel.Logger.Zerolog())
	if err != nil {
		s.Close()
		return nil, err
	}
	s.assembler = a

	if history && cfg.HistoryDB != "" {
		store, err := openStore(ctx, cfg.HistoryDB)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.store = store
		a.Recorder = store
		tel.Events.Subscribe(stores.EventRecorder(ctx, store, logger),
			telemetry.FilterByType(telemetry.EventTypeTopFailed, telemetry.EventTypePolicyViolation, telemetry.EventTypeWatchReloaded))
	}
	return s, nil
}

func openStore(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func (s *session) Close() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.tel.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Telemetry shutdown failed")
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close history store")
		}
	}
}

// printOutput writes v as JSON with --json, YAML otherwise.
func printOutput(w io.Writer, v any) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
