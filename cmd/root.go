package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/joescharf/opsassist/internal/output"
	"github.com/joescharf/opsassist/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	logger    *zap.Logger
	dataStore store.Store

	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "opsassist",
	Short: "Operations assistant - diagnose a host and run approved fixes",
	Long: `opsassist turns free-text questions about a managed host into
diagnostic pipelines: it collects node metrics, asks an LLM to analyze them,
proposes fix plans and runs the ones you approve over SSH.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	err := rootCmd.Execute()
	if dataStore != nil {
		_ = dataStore.Close()
	}
	if logger != nil {
		_ = logger.Sync()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/opsassist/config.yaml)")
}

func initConfig() {
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := configDirFunc()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(dir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("OPSASSIST")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	dir, _ := configDirFunc()
	setDefaults(dir)

	_ = viper.ReadInConfig()
}

// setDefaults registers every config key with its default. dir is the
// state directory holding the database and the server record.
func setDefaults(dir string) {
	viper.SetDefault("state_dir", dir)
	viper.SetDefault("db_path", filepath.Join(dir, "opsassist.db"))
	viper.SetDefault("port", 8080)

	viper.SetDefault("prometheus.url", "http://localhost:9100/metrics")

	viper.SetDefault("ssh.host", "")
	viper.SetDefault("ssh.port", 22)
	viper.SetDefault("ssh.user", "root")
	viper.SetDefault("ssh.password", "")
	viper.SetDefault("ssh.key_file", "")
	viper.SetDefault("ssh.known_hosts", "")
	viper.SetDefault("ssh.dial_timeout", "10s")

	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")

	viper.SetDefault("executor.poll_interval", "1s")
	viper.SetDefault("executor.max_wait", "10m")
	viper.SetDefault("policy.file", "")

	viper.SetDefault("nats.url", "")
	viper.SetDefault("history.enabled", true)
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose

	l, err := newLogger(verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: build logger: %v\n", err)
		l = zap.NewNop()
	}
	logger = l

	// The store opens lazily so config and version run without a database.
}

// newLogger logs JSON to stderr at info, or debug with -v.
func newLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}
