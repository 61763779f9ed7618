package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/sheetload/internal/app"
	"github.com/dshills/sheetload/internal/config"
	"github.com/dshills/sheetload/internal/pipeline"
	"github.com/dshills/sheetload/internal/storage"
)

// Build information, set from main
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// ExitUnhandled is returned for configuration errors and panics
const ExitUnhandled = 3

var (
	cfgFile string
	envFile string
)

// exitError carries a process exit code through cobra
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sheetload",
		Short: "Incremental spreadsheet ingestion into the warehouse",
		Long: `sheetload discovers spreadsheets in a directory, skips files whose content
was already loaded, and loads the rest into a warehouse table through the
object store.`,
		Version:       fmt.Sprintf("%s (built %s, sqlite %s/%s)", Version, BuildTime, storage.DriverName, storage.BuildMode),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to YAML configuration file")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before reading the environment")
	root.PersistentFlags().String("log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	root.PersistentFlags().String("log-format", "json", "Log format (json, text)")

	root.AddCommand(
		newRunCmd(),
		newScheduleCmd(),
		newServeCmd(),
		newHistoryCmd(),
		newConfigCmd(),
	)
	return root
}

// addPipelineFlags registers flags that override pipeline configuration
func addPipelineFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Bool("dry-run", false, "Report what would be processed without loading or recording")
	f.String("input-dir", "", "Directory scanned for spreadsheets")
	f.String("pattern", "**/*.xlsx", "Glob matched against paths relative to the input directory")
	f.String("sheet", "0", "Sheet name or zero-based index")
	f.String("format", "parquet", "Artifact format (parquet, csv)")
	f.String("checksum", "sha256", "Fingerprint algorithm (sha256, md5, xxhash)")
	f.String("temp-dir", "", "Directory for local artifacts")
	f.Bool("keep", false, "Keep local artifacts after a successful load")
}

// Execute runs the CLI and returns the process exit code
func Execute() (code int) {
	return execute(newRootCmd(), os.Args[1:], os.Stderr)
}

func execute(root *cobra.Command, args []string, stderr io.Writer) (code int) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(stderr, "panic: %v\n%s", r, debug.Stack())
			code = ExitUnhandled
		}
	}()

	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	if err == nil {
		return pipeline.ExitOK
	}

	var exitErr *exitError
	if errors.As(err, &exitErr) {
		if exitErr.err != nil {
			fmt.Fprintln(stderr, "Error:", exitErr.err)
		}
		return exitErr.code
	}
	fmt.Fprintln(stderr, "Error:", err)
	return ExitUnhandled
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(config.Options{
		ConfigFile: cfgFile,
		EnvFile:    envFile,
		Flags:      cmd.Flags(),
	})
	if err != nil {
		return nil, &exitError{code: ExitUnhandled, err: err}
	}
	return cfg, nil
}

// bootstrap builds the application; failures to reach a backend are fatal run errors
func bootstrap(ctx context.Context, cmd *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, app.Options{Version: Version, LogWriter: cmd.ErrOrStderr()})
	if err != nil {
		code := pipeline.ExitFatal
		if errors.Is(err, config.ErrInvalidConfig) {
			code = ExitUnhandled
		}
		return nil, &exitError{code: code, err: err}
	}
	return a, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
