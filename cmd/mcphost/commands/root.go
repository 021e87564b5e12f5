// Package commands implements the mcphost command tree.
package commands

import (
	"context"
	"log/slog"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcphost-go/pkg/mcpmgr"
)

const version = "0.1.0"

// envConfig names the config file when --config is not given.
const envConfig = "MCPHOST_CONFIG"

// globalOptions holds the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	verbosity  int
	quiet      bool
	logFormat  string
}

// NewRootCommand builds the mcphost command tree.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "mcphost",
		Short: "Run and query MCP servers over stdio",
		Long: `mcphost launches the MCP servers listed in a config file, performs the
protocol handshake with each, and lets you inspect their tools, prompts and
resources or call a tool by its qualified name (<server>_<tool>).

The config file uses the common mcpServers layout, in JSON (comments and
trailing commas allowed) or YAML.`,
		Example: `  # List every tool of every configured server
  mcphost tools --config mcp.json

  # Call a tool
  mcphost call calc_add --args '{"a": 1, "b": 2}'

  # Re-expose all servers over Streamable HTTP
  mcphost gateway --addr :8700`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setupLogging(cmd, opts)
		},
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetVersionTemplate("mcphost version {{.Version}}\n")

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "",
		"path to the MCP server config file (default $"+envConfig+" or mcp.json)")
	flags.CountVarP(&opts.verbosity, "verbose", "v", "increase verbosity level (e.g., -v, -vv)")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "suppress non-error output")
	flags.StringVar(&opts.logFormat, "log-format", "text", "log format: text, json")

	root.AddCommand(
		newServersCommand(opts),
		newToolsCommand(opts),
		newPromptsCommand(opts),
		newResourcesCommand(opts),
		newCallCommand(opts),
		newGatewayCommand(opts),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return errors.Wrap(NewRootCommand().Execute(), "executing root command")
}

// setupLogging installs the default logger for the chosen verbosity.
func setupLogging(cmd *cobra.Command, opts *globalOptions) error {
	if opts.quiet && opts.verbosity > 0 {
		return errors.WithHint(errors.New("cannot use --quiet and --verbose together"), "pick one of -q or -v")
	}
	level := levelFromVerbosity(opts.verbosity)
	if opts.quiet {
		level = slog.LevelError
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch opts.logFormat {
	case "json":
		handler = slog.NewJSONHandler(cmd.ErrOrStderr(), handlerOpts)
	case "text", "":
		handler = slog.NewTextHandler(cmd.ErrOrStderr(), handlerOpts)
	default:
		return errors.WithHintf(errors.Newf("invalid log format %q", opts.logFormat), "valid formats: text, json")
	}
	slog.SetDefault(slog.New(handler))

	if cmd.Context() == nil {
		cmd.SetContext(context.Background())
	}
	return nil
}

// levelFromVerbosity maps the -v count to a level. Without -v only
// warnings and errors are shown.
func levelFromVerbosity(v int) slog.Level {
	switch {
	case v <= 0:
		return slog.LevelWarn
	case v == 1:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

func (o *globalOptions) resolveConfigPath() string {
	if o.configPath != "" {
		return o.configPath
	}
	if p := os.Getenv(envConfig); p != "" {
		return p
	}
	return "mcp.json"
}

// connect starts every configured server. Servers that fail are logged and
// skipped; connect fails only when none could be started.
func connect(ctx context.Context, opts *globalOptions) (*mcpmgr.Manager, error) {
	path := opts.resolveConfigPath()
	configs, err := mcpmgr.LoadConfigFile(path)
	if err != nil {
		return nil, errors.WithHintf(err, "create %s or pass --config", path)
	}
	if len(configs) == 0 {
		return nil, errors.WithHint(errors.Newf("no servers configured in %s", path), "add entries under mcpServers")
	}

	logger := slog.Default()
	manager := mcpmgr.NewManager(&mcpmgr.ManagerOptions{
		ClientName:    "mcphost",
		ClientVersion: version,
		Logger:        logger,
	})
	summaries, err := manager.AddServers(ctx, configs)
	if err != nil {
		if len(summaries) == 0 {
			_ = manager.CloseAll()
			return nil, errors.Wrap(err, "no server could be started")
		}
		logger.Warn("some servers failed to start", "error", err)
	}
	return manager, nil
}

// withManager runs fn against a connected manager and closes it afterwards.
func withManager(cmd *cobra.Command, opts *globalOptions, fn func(*mcpmgr.Manager) error) error {
	manager, err := connect(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := manager.CloseAll(); closeErr != nil {
			slog.Default().Warn("closing servers", "error", closeErr)
		}
	}()
	return fn(manager)
}
