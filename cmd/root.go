package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/andresmejia3/facelens/internal/analysis"
	"github.com/andresmejia3/facelens/internal/config"
	"github.com/andresmejia3/facelens/internal/logging"
	"github.com/andresmejia3/facelens/internal/store"
	"github.com/andresmejia3/facelens/internal/worker"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Options holds flags shared by the capture and analyze commands
type Options struct {
	InputPath  string
	MaskPath   string
	OutputPath string
}

var (
	// DB is the analysis history, nil when no database is configured
	DB *store.Store
	// Cfg is the resolved configuration (.env, environment, then flags)
	Cfg *config.Config
	// Log is the application logger
	Log *logrus.Logger

	dbURL     string
	endpoint  string
	timeout   string
	logLevel  string
	logFile   string
	outputDir string
)

// requiresDB marks commands that cannot run without the history database.
const requiresDB = "requires-db"

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "facelens",
	Short:   "Capture a face from the camera and overlay its analysis",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := applyFlags(cmd, cfg); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		Cfg = cfg

		Log, err = logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
		if err != nil {
			return err
		}

		if cfg.DatabaseURL == "" {
			if cmd.Annotations[requiresDB] == "true" {
				return fmt.Errorf("%s needs a database: set DATABASE_URL, POSTGRES_HOST or --db", cmd.Name())
			}
			return nil
		}

		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			if cmd.Annotations[requiresDB] == "true" {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			// History is optional for capture and analyze.
			Log.WithError(err).Warn("analysis history disabled")
			DB = nil
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
		}
	},
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DatabaseURL = dbURL
	}
	if flags.Changed("endpoint") {
		cfg.Endpoint = endpoint
	}
	if flags.Changed("timeout") {
		d, err := parseDuration("timeout", timeout)
		if err != nil {
			return err
		}
		cfg.AnalyzeTimeout = d
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("log-file") {
		cfg.LogFile = logFile
	}
	if flags.Changed("output-dir") {
		cfg.OutputDir = outputDir
	}
	return nil
}

func parseDuration(flag, v string) (time.Duration, error) {
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid --%s %q: expected a duration like 30s", flag, v)
	}
	return d, nil
}

// newAnalyzer picks the transport from the endpoint scheme. The returned
// cleanup releases connections or child processes.
func newAnalyzer(cfg *config.Config, log *logrus.Logger) (analysis.Client, func(), error) {
	ep := cfg.Endpoint
	switch {
	case worker.IsEndpoint(ep):
		c, err := worker.NewPipeClient(ep, log)
		if err != nil {
			return nil, nil, err
		}
		return c, func() { c.Close() }, nil
	case strings.HasPrefix(ep, "ws://"), strings.HasPrefix(ep, "wss://"):
		c := analysis.NewWSClient(ep, cfg.AnalyzeTimeout, log)
		return c, func() { c.Close() }, nil
	case strings.HasPrefix(ep, "http://"), strings.HasPrefix(ep, "https://"):
		return analysis.NewHTTPClient(ep, cfg.AnalyzeTimeout, log), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported analysis endpoint %q (expected http(s)://, ws(s):// or %s)", ep, worker.Scheme)
	}
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&dbURL, "db", "", "PostgreSQL connection string for the analysis history (default: DATABASE_URL or POSTGRES_*)")
	pf.StringVar(&endpoint, "endpoint", "", "Face analysis endpoint: http(s)://, ws(s):// or exec:<command> (default: FACEAPI_URL or "+config.DefaultEndpoint+")")
	pf.StringVar(&timeout, "timeout", "", "Timeout for one analysis request, e.g. 30s (default: FACEAPI_TIMEOUT)")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: LOG_LEVEL or info)")
	pf.StringVar(&logFile, "log-file", "", "Also write logs to this rotating file (default: LOG_FILE)")
	pf.StringVar(&outputDir, "output-dir", "", "Directory for saved captures (default: OUTPUT_DIR or ./captures)")
}
