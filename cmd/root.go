package cmd

import (
	"fmt"
	"os"
	"strings"

	"auto-backup/internal/backup"
	"auto-backup/internal/display"
	"auto-backup/internal/logging"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// Global flag variables
var (
	sourceDir string
	backupDir string
	verbose   bool
	quiet     bool
	logFormat string
	logFile   string
	noColor   bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "auto-backup",
	Short: "Encrypted, compressed snapshots of a directory tree",
	Long: `auto-backup captures a source directory into integrity-checked snapshot
artifacts in a local backup store. Each artifact is compressed (gzip, LZ4 or
zstd) and sealed with AES-256-GCM; a manifest tracks every snapshot and a
retention policy keeps only the most recent ones.

Examples:
  # Create a snapshot of ./data, skipping log files
  auto-backup create --source ./data --exclude .log

  # List snapshots as JSON
  auto-backup list --format json

  # Restore a snapshot
  auto-backup restore snapshot-20260501-120000.000000 --target ./restored

  # Run the scheduler with Prometheus metrics
  auto-backup schedule run --interval 6h --metrics-addr :9090`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose && quiet {
			return fmt.Errorf("--verbose and --quiet flags are mutually exclusive")
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./auto-backup.yaml or $HOME/.auto-backup.yaml)")
	flags.StringVar(&sourceDir, "source", "", "directory to back up (overrides source_dir)")
	flags.StringVar(&backupDir, "backup-dir", "", "backup store directory (overrides storage.base_path)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	flags.BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	flags.StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	flags.StringVar(&logFile, "log-file", "", "also append logs to this file")
	flags.BoolVar(&noColor, "no-color", false, "disable color output")

	viper.BindPFlag("source_dir", flags.Lookup("source"))
	viper.BindPFlag("storage.base_path", flags.Lookup("backup-dir"))
	viper.BindPFlag("log.format", flags.Lookup("log-format"))
	viper.BindPFlag("log.file", flags.Lookup("log-file"))
	viper.BindPFlag("no_color", flags.Lookup("no-color"))

	// these match the variables read by Config.LoadFromEnvironment
	viper.BindEnv("source_dir", "AUTOBACKUP_SOURCE_DIR")
	viper.BindEnv("storage.base_path", "AUTOBACKUP_BACKUP_DIR")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
		viper.SetConfigType("yaml")
		viper.SetConfigName("auto-backup")
	}

	viper.SetEnvPrefix("AUTOBACKUP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// loadConfig builds the engine configuration: defaults, then the config file
// viper located, then AUTOBACKUP_* variables, then command line flags
func loadConfig() (*backup.Config, error) {
	cfg, err := backup.NewConfigLoader(viper.ConfigFileUsed()).LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	if viper.IsSet("source_dir") {
		cfg.SourceDir = viper.GetString("source_dir")
	}
	if viper.IsSet("storage.base_path") {
		cfg.Storage.BasePath = viper.GetString("storage.base_path")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

// openLoggers are closed once the command finishes
var openLoggers []*logging.Logger

func closeLoggers() {
	for _, l := range openLoggers {
		_ = l.Close()
	}
	openLoggers = nil
}

// newLogger creates the application logger. Logs go to stderr so that
// structured command output on stdout stays machine readable.
func newLogger() (*logging.Logger, error) {
	level, err := logging.ParseLevel(viper.GetString("log.level"))
	if err != nil {
		return nil, err
	}
	switch {
	case quiet:
		level = logging.LogLevelQuiet
	case verbose:
		level = logging.LogLevelVerbose
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:   level,
		Output:  os.Stderr,
		Format:  viper.GetString("log.format"),
		LogFile: viper.GetString("log.file"),
	})
	if err != nil {
		return nil, err
	}
	openLoggers = append(openLoggers, logger)
	return logger, nil
}

func newPrinter() *display.Printer {
	p := display.NewPrinter(noColor || viper.GetBool("no_color"))
	p.SetQuiet(quiet)
	return p
}

// openArchiver wires configuration, logging and the archiver for one command
func openArchiver(opts ...backup.ArchiverOption) (*backup.Archiver, *logging.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	opts = append([]backup.ArchiverOption{backup.WithLogger(logger)}, opts...)
	archiver, err := backup.NewArchiver(cfg, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open backup store: %w", err)
	}
	return archiver, logger, nil
}

// Version information
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
	goVersion = "unknown"
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc, gv string) {
	version = v
	buildTime = bt
	gitCommit = gc
	goVersion = gv
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "auto-backup version %s\n", version)
			fmt.Fprintf(out, "Built: %s\n", buildTime)
			fmt.Fprintf(out, "Commit: %s\n", gitCommit)
			fmt.Fprintf(out, "Go version: %s\n", goVersion)
		},
	}
}

func init() {
	rootCmd.AddCommand(createVersionCommand())
	cobra.OnFinalize(closeLoggers)
}
