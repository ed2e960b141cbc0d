// Package cli implements the poserank command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/PoseRank/internal/config"
	"github.com/turtacn/PoseRank/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/PoseRank/internal/intelligence/common"
	"github.com/turtacn/PoseRank/pkg/errors"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// cliContextKey is the context key for CLIContext.
type cliContextKey struct{}

// RootOptions holds global CLI flags.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
}

// CLIContext carries initialized dependencies through the command tree.
type CLIContext struct {
	Config   *config.Config
	Logger   logging.Logger
	Executor common.Executor
}

// NewRootCommand creates the root command with all global flags and
// subcommands. Engines run as child processes of the host.
func NewRootCommand() *cobra.Command {
	return newRootCommand(common.NewOSExecutor())
}

func newRootCommand(exec common.Executor) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "poserank",
		Short: "Rank protein-ligand poses by physics-based interaction energy",
		Long: "poserank evaluates candidate protein-ligand poses with a semi-empirical\n" +
			"(GFN2-xTB) or machine-learned (SO3LR) force field and reports interaction\n" +
			"energy, ligand strain and a combined score for every pose.",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return persistentPreRun(cmd, opts, exec)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "config file path (default: environment and built-in defaults)")
	pf.StringVar(&opts.LogLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config file")
	pf.StringVar(&opts.LogFormat, "log-format", "", "log format (json, console); overrides the config file")

	cmd.AddCommand(
		newRankCmd(),
		newCheckCmd(),
		newVersionCmd(),
	)
	return cmd
}

// persistentPreRun loads the configuration, builds the logger and stores the
// CLIContext on the command.
func persistentPreRun(cmd *cobra.Command, opts *RootOptions, exec common.Executor) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	logger, err := initLogger(cfg, opts)
	if err != nil {
		return fmt.Errorf("logger initialization failed: %w", err)
	}

	cliCtx := &CLIContext{
		Config:   cfg,
		Logger:   logger,
		Executor: exec,
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cliCtx))
	return nil
}

// initLogger builds the process logger. Output always goes to stderr so
// stdout carries only command results.
func initLogger(cfg *config.Config, opts *RootOptions) (logging.Logger, error) {
	if opts.LogLevel != "" {
		cfg.Log.Level = strings.ToLower(opts.LogLevel)
	}
	if opts.LogFormat != "" {
		cfg.Log.Format = strings.ToLower(opts.LogFormat)
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return nil, errors.Newf(errors.ErrCodeValidation, "invalid log level %q", cfg.Log.Level)
	}
	cfg.Log.OutputPaths = []string{"stderr"}
	cfg.Log.ErrorOutputPaths = []string{"stderr"}

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	logging.SetDefault(logger)
	return logger, nil
}

// GetCLIContext extracts CLIContext from a cobra command's context.
func GetCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	ctx := cmd.Context()
	if ctx == nil {
		return nil, errors.New(errors.ErrCodeValidation, "command context is nil")
	}

	cliCtx, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok || cliCtx == nil {
		return nil, errors.New(errors.ErrCodeValidation, "CLIContext not found in command context")
	}
	return cliCtx, nil
}

// Execute is the main entry point for the CLI application.
func Execute() error {
	rootCmd := NewRootCommand()

	if err := rootCmd.Execute(); err != nil {
		PrintError(rootCmd, err)
		return err
	}
	return nil
}

// printJSON outputs data as indented JSON to stdout.
func printJSON(cmd *cobra.Command, data interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// writeJSONFile writes data as indented JSON to path; "-" is stdout.
func writeJSONFile(cmd *cobra.Command, path string, data interface{}) error {
	if path == "" || path == "-" {
		return printJSON(cmd, data)
	}
	buf, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "encode output")
	}
	if err := os.WriteFile(path, append(buf, '\n'), 0o644); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageError, "write output").WithDetail(path)
	}
	return nil
}

// PrintError writes a formatted error message to stderr.
func PrintError(cmd *cobra.Command, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", err.Error())
}

// FormatTable renders headers and rows as an aligned ASCII table.
func FormatTable(headers []string, rows [][]string) string {
	if len(headers) == 0 {
		return ""
	}

	colWidths := make([]int, len(headers))
	for i, h := range headers {
		colWidths[i] = len(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(colWidths); i++ {
			if len(row[i]) > colWidths[i] {
				colWidths[i] = len(row[i])
			}
		}
	}

	var sb strings.Builder
	for i, h := range headers {
		if i > 0 {
			sb.WriteString("  ")
		}
		sb.WriteString(padRight(h, colWidths[i]))
	}
	sb.WriteString("\n")

	for i, w := range colWidths {
		if i > 0 {
			sb.WriteString("  ")
		}
		sb.WriteString(strings.Repeat("-", w))
	}
	sb.WriteString("\n")

	for _, row := range rows {
		for i := 0; i < len(headers); i++ {
			if i > 0 {
				sb.WriteString("  ")
			}
			val := ""
			if i < len(row) {
				val = row[i]
			}
			sb.WriteString(padRight(val, colWidths[i]))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// padRight pads s with spaces to the given width.
func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}
