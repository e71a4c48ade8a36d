// Package cli implements the sbl command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"slices"

	"github.com/spf13/cobra"

	"github.com/sblgo/sbl/pkg/connection"
	"github.com/sblgo/sbl/pkg/constants"
	"github.com/sblgo/sbl/pkg/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Host       string
	Port       int
	User       string
	Password   string
	Namespace  string
	Database   string
	Secure     bool
	Engine     string
	ConfigFile string

	Format    string // "text" | "json"
	LogFormat string // "text" | "json" | "console"
	Verbose   bool

	logger logger.Logger
}

var (
	ValidFormats    = []string{"text", "json"}
	ValidLogFormats = []string{"text", "json", "console"}
)

// NewRootCommand creates the root command for the sbl CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

// Execute runs the CLI with args and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts := &RootOptions{}
	cmd := newRootCommand(opts)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}

	f := &OutputFormatter{Format: opts.Format, Writer: stdout, ErrWriter: stderr}
	if !slices.Contains(ValidFormats, opts.Format) {
		f.Format = "text"
	}
	_ = f.Error(err)
	return GetExitCode(err)
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sbl",
		Short: "sbl - SurrealDB migrations and pooled queries",
		Long: `Run versioned SurrealQL migrations against a SurrealDB server and
send queries through a pool of authenticated websocket connections.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if !slices.Contains(ValidLogFormats, opts.LogFormat) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid log format %q: must be one of %v", opts.LogFormat, ValidLogFormats))
			}
			opts.logger = newLogger(cmd.ErrOrStderr(), opts.LogFormat, opts.Verbose)
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.Host, "host", "H", "localhost", "database host")
	flags.IntVarP(&opts.Port, "port", "p", 8000, "database port")
	flags.StringVarP(&opts.User, "user", "u", constants.DefaultUser, "database user")
	flags.StringVar(&opts.Password, "password", constants.DefaultPassword, "database password")
	flags.StringVarP(&opts.Namespace, "namespace", "n", constants.DefaultNamespace, "namespace to use")
	flags.StringVarP(&opts.Database, "database", "d", constants.DefaultDatabase, "database to use")
	flags.BoolVar(&opts.Secure, "secure", false, "connect with wss")
	flags.StringVar(&opts.Engine, "engine", constants.EngineGorilla, "websocket engine (gorilla|gws)")
	flags.StringVarP(&opts.ConfigFile, "config", "c", "", "YAML config file")
	flags.StringVar(&opts.Format, "format", "text", "output format (text|json)")
	flags.StringVar(&opts.LogFormat, "log-format", "text", "log format (text|json|console)")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewMigrationsCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewPoolCommand(opts))

	return cmd
}

// Config builds the connection config. A config file, when given, replaces
// the defaults; SBL_* variables override it and flags set on the command
// line override both.
func (o *RootOptions) Config(cmd *cobra.Command) (*connection.Config, error) {
	var cfg *connection.Config
	if o.ConfigFile != "" {
		loaded, err := connection.LoadConfigFile(o.ConfigFile)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load config", err)
		}
		cfg = loaded
	} else {
		u, err := url.Parse(connection.Endpoint(o.Host, o.Port, o.Secure))
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid endpoint", err)
		}
		cfg = connection.NewConfig(u)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid environment", err)
	}

	flags := cmd.Flags()
	if flags.Changed("host") || flags.Changed("port") || flags.Changed("secure") {
		cfg.URL = connection.Endpoint(o.Host, o.Port, o.Secure)
	}
	for name, apply := range map[string]func(){
		"user":      func() { cfg.User = o.User },
		"password":  func() { cfg.Password = o.Password },
		"namespace": func() { cfg.Namespace = o.Namespace },
		"database":  func() { cfg.Database = o.Database },
		"engine":    func() { cfg.Engine = o.Engine },
	} {
		if flags.Changed(name) {
			apply()
		}
	}

	cfg.Logger = o.Log()
	if err := cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid connection config", err)
	}
	return cfg, nil
}

// Log returns the logger set up from --log-format and --verbose.
func (o *RootOptions) Log() logger.Logger {
	if o.logger == nil {
		return logger.Discard
	}
	return o.logger
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
