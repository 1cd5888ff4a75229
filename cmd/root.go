// Package cmd defines and implements the CLI commands for the feedroll executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/feedroll/internal/aggregator"
	"github.com/JakeFAU/feedroll/internal/app"
	"github.com/JakeFAU/feedroll/internal/config"
	"github.com/JakeFAU/feedroll/internal/logging"
	"github.com/JakeFAU/feedroll/internal/store"
)

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	dir        string
	configFile string
	verbose    bool
	noLocking  bool
	noLockWait bool
}

// session is the opened application and aggregator for one command.
type session struct {
	app *app.App
	agg *aggregator.Aggregator
}

// sessionHolder carries the session from the pre-run hook back to run.
type sessionHolder struct {
	s *session
}

// sessionKeyType is the key for storing the session holder in the context.
type sessionKeyType string

const sessionKey sessionKeyType = "session"

// stateAnnotation marks commands that operate on the state directory.
const stateAnnotation = "feedroll/state"

// newRootCmd creates and configures the root command. Output from commands
// goes to stdout and stderr.
func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "feedroll",
		Short: "An RSS and Atom aggregator that writes a static page.",
		Long: `feedroll periodically fetches a list of syndication feeds, keeps the
articles it has seen in a state directory, and renders the newest of them
into a single static HTML page.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Load the configuration and open the locked state before the
		// subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[stateAnnotation] == "" {
				return nil
			}
			holder, ok := cmd.Context().Value(sessionKey).(*sessionHolder)
			if !ok {
				return errors.New("session holder missing from context")
			}
			s, err := openSession(cmd.Context(), opts, stdout, stderr)
			if err != nil {
				return err
			}
			holder.s = s
			return nil
		},

		// Save the state and shut services down once the subcommand succeeded.
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[stateAnnotation] == "" {
				return nil
			}
			holder, _ := cmd.Context().Value(sessionKey).(*sessionHolder)
			s, err := resolveSession(cmd.Context())
			if err != nil {
				return err
			}
			holder.s = nil
			return s.close()
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.dir, "dir", "d", defaultDir(), "state directory")
	flags.StringVarP(&opts.configFile, "config", "c", "", "config file (default is config.yaml in the state directory)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "print more detailed progress")
	flags.BoolVarP(&opts.noLocking, "no-locking", "N", false, "do not lock the state file")
	flags.BoolVarP(&opts.noLockWait, "no-lock-wait", "W", false, "exit silently if the state file is locked")

	cmd.AddCommand(
		newUpdateCmd(),
		newWriteCmd(),
		newListCmd(),
		newShowTemplateCmd(),
		newShowItemTemplateCmd(),
		newAddCmd(),
		newRemoveCmd(),
	)
	return cmd
}

func defaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".feedroll"
	}
	return filepath.Join(home, ".feedroll")
}

func openSession(ctx context.Context, opts *rootOptions, stdout, stderr io.Writer) (*session, error) {
	info, err := os.Stat(opts.dir)
	if err != nil || !info.IsDir() {
		return nil, &config.Error{Err: fmt.Errorf("state directory %s does not exist", opts.dir)}
	}
	cfg, err := config.Load(opts.dir, opts.configFile)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging.Development, opts.verbose)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	appInstance, err := app.NewApp(ctx, cfg, logger, stdout)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application services: %w", err)
	}
	agg, err := aggregator.Open(appInstance.AggregatorOptions(
		store.Options{Locking: !opts.noLocking, NoWait: opts.noLockWait},
		stdout, stderr,
	))
	if err != nil {
		appInstance.Close()
		return nil, err
	}
	s := &session{app: appInstance, agg: agg}
	if err := agg.SyncFromConfig(); err != nil {
		s.abort()
		return nil, err
	}
	return s, nil
}

func resolveSession(ctx context.Context) (*session, error) {
	holder, ok := ctx.Value(sessionKey).(*sessionHolder)
	if !ok || holder.s == nil {
		return nil, errors.New("application services not initialized")
	}
	return holder.s, nil
}

// close saves the state, releases the lock and shuts down services.
func (s *session) close() error {
	err := s.agg.Close()
	s.app.Close()
	return err
}

// abort releases the state without saving it and shuts down services after a
// failed command.
func (s *session) abort() {
	if err := s.agg.Release(); err != nil {
		s.app.Logger().Warn("Failed to release state", zap.Error(err))
	}
	s.app.Close()
}

// run executes the CLI with args and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	holder := &sessionHolder{}
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.WithValue(ctx, sessionKey, holder))
	if holder.s != nil {
		holder.s.abort()
	}
	switch {
	case err == nil:
		return 0
	case errors.Is(err, store.ErrLocked):
		return 0
	default:
		fmt.Fprintln(stderr, "feedroll:", err)
		return 1
	}
}

// Execute is the main entry point. It returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return run(ctx, os.Args[1:], os.Stdout, os.Stderr)
}
