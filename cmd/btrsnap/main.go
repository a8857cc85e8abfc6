package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/elee1766/btrsnap/pkg/btrfs"
	"github.com/elee1766/btrsnap/pkg/config"
	"github.com/elee1766/btrsnap/pkg/db"
	"github.com/elee1766/btrsnap/pkg/snapper"
	"github.com/lmittmann/tint"
	"github.com/posener/complete"
	"github.com/willabides/kongplete"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

// CLI is the root command structure
type CLI struct {
	// Global flags
	LogLevel  string `short:"l" default:"${log_level}" enum:"debug,info,warn,error" help:"Log level (debug, info, warn, error)"`
	LogFormat string `default:"${log_format}" enum:"json,pretty" help:"Log format (json, pretty)"`
	Verbose   bool   `short:"v" help:"Shorthand for --log-level=debug"`
	NoHistory bool   `help:"Do not record this run in the history database"`

	// Subcommands
	Snapshot   SnapshotCmd   `cmd:"" help:"Create a snapshot and optionally clean old ones"`
	Clean      CleanCmd      `cmd:"" help:"Delete snapshots outside the retention policy"`
	List       ListCmd       `cmd:"" help:"List snapshots of a subvolume"`
	History    HistoryCmd    `cmd:"" help:"Show recent runs"`
	Subvolumes  SubvolumesCmd                `cmd:"" name:"subvol" help:"Subvolume operations"`
	Completions kongplete.InstallCompletions `cmd:"" help:"Install shell completions for bash, zsh or fish"`
}

func (cli *CLI) config() *config.Config {
	cfg := config.New()
	cfg.LogLevel = cli.LogLevel
	if cli.Verbose {
		cfg.LogLevel = "debug"
	}
	cfg.LogFormat = cli.LogFormat
	if cli.NoHistory {
		cfg.History = false
	}
	return cfg
}

// SnapshotCmd creates a snapshot
type SnapshotCmd struct {
	TargetFlags `embed:""`
	PolicyFlags `embed:""`

	Readonly bool `short:"r" help:"Create a read-only snapshot"`
	DryRun   bool `help:"Show what would be done without changing anything"`
}

func (c *SnapshotCmd) Validate() error {
	return c.PolicyFlags.validate(false)
}

func (c *SnapshotCmd) Run(cli *CLI) error {
	target, err := c.target()
	if err != nil {
		return err
	}

	return runWith(cli, func(ctx context.Context, runner *snapper.Runner, logger *slog.Logger) error {
		if err := checkFilesystem(logger, c.MountPoint); err != nil {
			return err
		}

		res, err := runner.Snapshot(ctx, snapper.SnapshotRequest{
			Target:   target,
			Readonly: c.Readonly,
			Policy:   c.policy(),
			DryRun:   c.DryRun,
		})
		if res != nil {
			printSnapshotResult(res)
		}
		return err
	})
}

// CleanCmd deletes old snapshots
type CleanCmd struct {
	TargetFlags `embed:""`
	PolicyFlags `embed:""`

	DryRun bool `help:"Show what would be deleted without deleting anything"`
}

func (c *CleanCmd) Validate() error {
	return c.PolicyFlags.validate(true)
}

func (c *CleanCmd) Run(cli *CLI) error {
	target, err := c.target()
	if err != nil {
		return err
	}

	return runWith(cli, func(ctx context.Context, runner *snapper.Runner, logger *slog.Logger) error {
		if err := checkFilesystem(logger, c.MountPoint); err != nil {
			return err
		}

		res, err := runner.Clean(ctx, snapper.CleanRequest{
			Target: target,
			Policy: c.policy(),
			DryRun: c.DryRun,
		})
		if res != nil {
			printCleanResult(res)
		}
		return err
	})
}

// ListCmd lists the snapshot directory of a subvolume
type ListCmd struct {
	TargetFlags `embed:""`
	PolicyFlags `embed:""`
}

func (c *ListCmd) Validate() error {
	return c.PolicyFlags.validate(false)
}

func (c *ListCmd) Run(cli *CLI) error {
	target, err := c.target()
	if err != nil {
		return err
	}

	// Listing never records history.
	cli.NoHistory = true

	var mgr *btrfs.Manager
	return runWith(cli, func(ctx context.Context, runner *snapper.Runner, logger *slog.Logger) error {
		listed, err := runner.Inspect(target, c.policy())
		if err != nil {
			return err
		}

		children := make([]string, 0, len(listed))
		for _, l := range listed {
			children = append(children, l.Path)
		}

		var index map[string]*btrfs.SubvolumeInfo
		subvols, err := mgr.ListSubvolumes(c.MountPoint)
		if err != nil {
			logger.Warn("subvolume details unavailable", "error", err)
		} else {
			index = btrfs.IndexByMountPath(c.MountPoint, subvols, children)
		}

		printListing(listed, index, c.policy().IsSet(), time.Now())
		return nil
	}, fx.Populate(&mgr))
}

// HistoryCmd shows recorded runs
type HistoryCmd struct {
	Limit int    `short:"n" default:"20" help:"Number of runs to show"`
	RunID string `name:"run" placeholder:"ID" help:"Show what one run did to each snapshot (id or unique id prefix)"`
}

func (c *HistoryCmd) Run(cli *CLI) error {
	var database *db.DB
	app := newApp(cli, db.Module, fx.Populate(&database))

	return runApp(app, func(ctx context.Context) error {
		if c.RunID != "" {
			return printRun(database, c.RunID)
		}
		return printHistory(database, c.Limit)
	})
}

// SubvolumesCmd contains subvolume subcommands
type SubvolumesCmd struct {
	List SubvolListCmd `cmd:"" help:"List subvolumes"`
}

// SubvolListCmd lists subvolumes
type SubvolListCmd struct {
	Path string `arg:"" predictor:"dir" help:"Path to btrfs filesystem mount point"`
}

func (c *SubvolListCmd) Run(cli *CLI) error {
	mgr := btrfs.New(makeLogger(cli.config()))
	subvols, err := mgr.ListSubvolumes(c.Path)
	if err != nil {
		return fmt.Errorf("failed to list subvolumes: %w", err)
	}
	printSubvolumes(subvols)
	return nil
}

// checkFilesystem fails early when mountPoint is not on btrfs.
func checkFilesystem(logger *slog.Logger, mountPoint string) error {
	info, err := btrfs.GetFilesystemInfo(mountPoint)
	if err != nil {
		return fmt.Errorf("%s: %w", mountPoint, err)
	}
	logger.Debug("btrfs filesystem", "mount_point", mountPoint, "uuid", info.UUID, "devices", info.NumDevices)
	return nil
}

// newApp builds the fx application shared by all commands.
func newApp(cli *CLI, opts ...fx.Option) *fx.App {
	return fx.New(
		fx.Provide(
			cli.config,
			provideLogger,
		),
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			l := &fxevent.SlogLogger{Logger: log}
			l.UseLogLevel(slog.LevelDebug)
			return l
		}),
		fx.Options(opts...),
	)
}

// runWith starts an application with the btrfs binding and the runner and
// calls fn with them.
func runWith(cli *CLI, fn func(ctx context.Context, runner *snapper.Runner, logger *slog.Logger) error, opts ...fx.Option) error {
	var (
		runner *snapper.Runner
		logger *slog.Logger
	)
	app := newApp(cli, append([]fx.Option{
		btrfs.Module,
		snapper.Module,
		fx.Populate(&runner, &logger),
	}, opts...)...)

	return runApp(app, func(ctx context.Context) error {
		return fn(ctx, runner, logger)
	})
}

// runApp runs fn between the start and stop of app. The context passed to
// fn is cancelled on SIGINT or SIGTERM.
func runApp(app *fx.App, fn func(ctx context.Context) error) error {
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(context.Background(), app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := fn(ctx)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), app.StopTimeout())
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil && runErr == nil {
		return err
	}
	return runErr
}

// newParser builds the kong parser with defaults taken from cfg.
func newParser(cli *CLI, cfg *config.Config) (*kong.Kong, error) {
	return kong.New(cli,
		kong.Name("btrsnap"),
		kong.Description("Create and clean timestamped btrfs snapshots"),
		kong.UsageOnError(),
		kong.Vars{
			"log_level":  cfg.LogLevel,
			"log_format": cfg.LogFormat,
		},
	)
}

func main() {
	cli := &CLI{}
	parser, err := newParser(cli, config.New())
	if err != nil {
		panic(err)
	}

	// Answers shell completion requests and exits; a no-op otherwise.
	kongplete.Complete(parser,
		kongplete.WithPredictor("dir", complete.PredictDirs("*")),
	)

	ctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)
	err = ctx.Run(cli)
	ctx.FatalIfErrorf(err)
}

func provideLogger(cfg *config.Config) *slog.Logger {
	return makeLogger(cfg)
}

func makeLogger(cfg *config.Config) *slog.Logger {
	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	// Logs go to stderr so tables on stdout stay readable.
	var handler slog.Handler
	switch cfg.LogFormat {
	case "pretty":
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      lvl,
			TimeFormat: time.Kitchen,
		})
	default:
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: lvl,
		})
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
