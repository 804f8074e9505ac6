// Package cli implements the voxquery command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/lukasbauer/voxquery/internal/app"
	"github.com/lukasbauer/voxquery/internal/audio"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const version = "v0.3.0"

var (
	okLabel    = color.New(color.FgGreen)
	errorLabel = color.New(color.FgRed)
	eventLabel = color.New(color.FgCyan)
)

// runtime is the state shared by all commands of one invocation.
type runtime struct {
	jsonOutput bool
	envFile    string

	cfg    app.Config
	logger zerolog.Logger
	source audio.SourceFunc
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	rt := &runtime{}
	root := &cobra.Command{
		Use:   "voxquery [command] [flags]",
		Short: "voxquery - run voice and text queries against a query service",
		Long: `voxquery sends voice and text queries to a remote query service and
prints the result. Connection settings are read from VOX_* environment
variables, optionally loaded from an env file.

Examples:
  # Stream raw 16 bit PCM from a file until the server detects the end of speech
  voxquery audio --file question.pcm

  # Send a text query with extra context
  voxquery text --context '{"page":"home"}' where is my order

  # Rate a completed query
  voxquery feedback 7f1c --rating 5`,
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: rt.load,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().BoolVarP(&rt.jsonOutput, "json", "j", false, "Output in JSON format")
	root.PersistentFlags().StringVar(&rt.envFile, "env-file", ".env", "Env file loaded before reading configuration")

	root.AddCommand(newAudioCmd(rt))
	root.AddCommand(newTextCmd(rt))
	root.AddCommand(newTokenCmd(rt))
	root.AddCommand(newFeedbackCmd(rt))
	root.AddCommand(newProfileCmd(rt))
	root.AddCommand(newVersionCmd())
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer sentry.Flush(2 * time.Second)

	root := NewRootCmd()
	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	asJSON, _ := root.PersistentFlags().GetBool("json")
	reportError(os.Stderr, asJSON, err)
	return 1
}

func reportError(w io.Writer, asJSON bool, err error) {
	if asJSON {
		printJSON(w, map[string]string{"error": err.Error()})
		return
	}
	errorLabel.Fprintf(w, "Error: %v\n", err)
}

// load reads configuration before any command runs.
func (rt *runtime) load(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(rt.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", rt.envFile, err)
	}
	rt.cfg = app.LoadConfigFromEnv()
	rt.logger = app.NewLogger(rt.cfg.LogLevel)

	if rt.cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         rt.cfg.SentryDSN,
			Environment: rt.cfg.Environment,
			Release:     "voxquery@" + version,
		})
		if err != nil {
			rt.logger.Warn().Err(err).Msg("sentry init failed")
		}
	}
	return nil
}

func (rt *runtime) openApp() (*app.App, error) {
	return app.New(rt.cfg, rt.logger, rt.source)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the voxquery version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "voxquery %s\n", version)
			return nil
		},
	}
}
