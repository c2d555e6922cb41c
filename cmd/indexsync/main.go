package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lpernett/godotenv"
	"github.com/spf13/cobra"

	"github.com/syntrixbase/indexsync/internal/config"
	"github.com/syntrixbase/indexsync/internal/logging"
	"github.com/syntrixbase/indexsync/internal/services"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

const initTimeout = 30 * time.Second

// exitError carries a specific process exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

type cli struct {
	configDir  string
	envFile    string
	jsonOutput bool

	cfg    *config.Config
	out    io.Writer
	errOut io.Writer
}

func main() {
	root := newRootCmd(os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	c := &cli{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "indexsync",
		Short: "Keep CRM search indices in sync with the primary stores",
		Long: `indexsync moves index jobs through a durable queue into the search
backend. It runs the worker pool, bulk reindexes entities from MongoDB and
PostgreSQL, and manages dead-lettered jobs.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.load,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logging.Shutdown()
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().StringVarP(&c.configDir, "config", "c", "config", "Configuration directory")
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "Environment file loaded before env overrides")
	root.PersistentFlags().BoolVarP(&c.jsonOutput, "json", "j", false, "Output as JSON")

	root.AddCommand(
		c.versionCmd(),
		c.workerCmd(),
		c.reindexCmd(),
		c.dlqCmd(),
		c.enqueueCmd(),
		c.tokenCmd(),
	)
	return root
}

// load runs before every command: .env, then config, then logging.
func (c *cli) load(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "version" {
		return nil
	}
	if c.envFile != "" {
		if err := godotenv.Load(c.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", c.envFile, err)
		}
	}

	cfg, err := config.LoadConfig(c.configDir)
	if err != nil {
		return err
	}
	c.cfg = cfg

	if err := logging.InitializeWithConsole(cfg.Logging, c.errOut); err != nil {
		return err
	}
	return nil
}

// start builds the pipeline. The caller must call stop.
func (c *cli) start(ctx context.Context, opts services.Options) (*services.Manager, error) {
	opts.Logger = slog.Default()
	m := services.NewManager(c.cfg, opts)

	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()
	if err := m.Init(initCtx); err != nil {
		c.stop(m)
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}
	return m, nil
}

func (c *cli) stop(m *services.Manager) {
	timeout := c.cfg.Worker.DrainTimeout + c.cfg.Worker.ShutdownTimeout + c.cfg.Admin.ShutdownTimeout
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	m.Shutdown(ctx)
}

// startEnqueuer builds the pipeline for a command that only enqueues. A
// memory queue dies with the process, so on that backend the worker runs
// here too and finish waits until every job is indexed or dead-lettered.
// finish stops the pipeline either way and must be called once.
func (c *cli) startEnqueuer(ctx context.Context) (m *services.Manager, finish func() error, err error) {
	if c.cfg.Queue.Backend != config.QueueMemory {
		m, err = c.start(ctx, services.Options{})
		if err != nil {
			return nil, nil, err
		}
		return m, func() error { c.stop(m); return nil }, nil
	}

	m, err = c.start(ctx, services.Options{RunWorker: true})
	if err != nil {
		return nil, nil, err
	}
	bgCtx, bgCancel := context.WithCancel(context.Background())
	m.Start(bgCtx)
	return m, func() error {
		slog.Info("Memory queue: processing enqueued jobs before exit")
		drainErr := m.WaitDrained(ctx)
		bgCancel()
		c.stop(m)
		if drainErr != nil {
			return &exitError{code: 3, err: fmt.Errorf("exited before the memory queue drained: %w", drainErr)}
		}
		if err := m.PoolErr(); err != nil {
			return err
		}
		return nil
	}, nil
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.jsonOutput {
				return c.printJSON(map[string]string{
					"version": version,
					"commit":  commit,
					"date":    buildDate,
				})
			}
			fmt.Fprintf(c.out, "indexsync %s (%s, %s)\n", version, commit, buildDate)
			return nil
		},
	}
}
