// Package cmd defines the gather-vision command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/gather-vision/internal/app"
	"github.com/JakeFAU/gather-vision/internal/config"
	"github.com/JakeFAU/gather-vision/internal/crawler"
	"github.com/JakeFAU/gather-vision/internal/logging"
	"github.com/JakeFAU/gather-vision/internal/registry"
	"github.com/JakeFAU/gather-vision/internal/sources"
)

// Exit codes.
const (
	ExitOK     = 0
	ExitDomain = 1
	ExitOther  = 2
)

// App is what the commands need from the application. Tests swap in a fake
// through newApp.
type App interface {
	Update(ctx context.Context, args app.UpdateArgs) (app.UpdateResult, error)
	List(args app.ListArgs) (app.ListResult, error)
	Logger() *zap.Logger
	Config() config.Config
	Close(ctx context.Context) error
}

type rootOptions struct {
	configPath string
	logLevel   string
}

// newApp is the application factory; a variable so tests can replace it.
var newApp = func(ctx context.Context, opts rootOptions) (App, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	reg, err := newRegistry()
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, reg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}

// newRegistry builds the source registry. list only needs this, not the full App.
var newRegistry func() (*registry.Registry, error) = sources.Builtin

// exitError carries the process exit code for an error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var ee *exitError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &ee):
		return ee.code
	case errors.Is(err, crawler.ErrUnknownSource):
		return ExitDomain
	default:
		return ExitOther
	}
}

type cli struct {
	opts rootOptions
	app  App
}

// initApp builds the App once for commands that run sources.
func (c *cli) initApp(cmd *cobra.Command) (App, error) {
	if c.app != nil {
		return c.app, nil
	}
	a, err := newApp(cmd.Context(), c.opts)
	if err != nil {
		return nil, &exitError{code: ExitOther, err: fmt.Errorf("initialize application services: %w", err)}
	}
	c.app = a
	return a, nil
}

func (c *cli) close() {
	if c.app == nil {
		return
	}
	logger := c.app.Logger()
	if err := c.app.Close(context.Background()); err != nil {
		logger.Warn("close application services", zap.Error(err))
	}
	_ = logger.Sync()
	c.app = nil
}

func newRootCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gather-vision",
		Short: "Collect public web data from pluggable sources.",
		Long: `gather-vision runs data-source plugins that crawl public web pages and
feeds, extract structured items, and store them in the configured sinks.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&c.opts.configPath, "config", "", "config file (YAML)")
	cmd.PersistentFlags().StringVar(&c.opts.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	cmd.AddCommand(newUpdateCmd(c), newListCmd(), newServeCmd(c))
	return cmd
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	c := &cli{}
	defer c.close()

	root := newRootCmd(c)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
	}
	return exitCode(err)
}
