package main

import (
	"fmt"
	"os"
	"time"

	"feedpulse/internal/config"
	"feedpulse/internal/item"
	"feedpulse/internal/rss"
	"feedpulse/internal/service"
	"feedpulse/internal/storage"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "feedpulse",
		Usage: "Aggregate topic feeds into a single JSON snapshot",
		Description: `Reads topic definitions, fetches every configured feed, keeps the
entries matching each topic's keywords, merges duplicate links across
topics and writes the items of the last 48 hours to a JSON snapshot.

A snapshot is written on every run. When the run itself fails the
snapshot carries a single "script" failure and the exit code is non-zero.

Settings default to FEEDPULSE_* environment variables (a .env file in the
working directory is loaded first); flags take precedence.`,
		Flags: runFlags(),
		Commands: []*cli.Command{
			runCmd(),
			validateCmd(),
		},
		Action: runAction,
	}
}

func runFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "topics",
			Aliases: []string{"t"},
			Usage:   "Path to the YAML or TOML topics file",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Snapshot file to write, - for stdout",
		},
		&cli.IntFlag{
			Name:  "window-hours",
			Usage: "Drop items older than this many hours",
		},
		&cli.IntFlag{
			Name:  "timeout",
			Usage: "Per feed fetch timeout in seconds",
		},
		&cli.IntFlag{
			Name:    "workers",
			Aliases: []string{"w"},
			Usage:   "Maximum number of concurrent feed fetches",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level (debug, info, warn, error)",
		},
		&cli.StringFlag{
			Name:  "db-driver",
			Usage: "Database driver for the snapshot mirror (mysql or postgres)",
		},
		&cli.StringFlag{
			Name:  "db-dsn",
			Usage: "Database DSN; enables the snapshot mirror when set",
		},
	}
}

func runCmd() *cli.Command {
	return &cli.Command{
		Name:   "run",
		Usage:  "Fetch all feeds once and write the snapshot",
		Flags:  runFlags(),
		Action: runAction,
	}
}

func validateCmd() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Check the topics file without fetching anything",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "topics",
				Aliases: []string{"t"},
				Usage:   "Path to the YAML or TOML topics file",
			},
		},
		Action: func(ctx *cli.Context) error {
			cfg := configFromContext(ctx)
			topics, err := config.LoadTopics(cfg.TopicsPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(ctx.App.Writer, "%s: %d topics, %d feeds\n", cfg.TopicsPath, len(topics), config.FeedCount(topics))
			return nil
		},
	}
}

func runAction(ctx *cli.Context) error {
	cfg := configFromContext(ctx)
	logger := newLogger(cfg.LogLevel)

	fileStore := storage.NewFileStore(cfg.OutputPath, logger)
	var store service.SnapshotWriter = fileStore
	if cfg.MirrorEnabled() {
		mirror, err := storage.NewSQLStore(ctx.Context, cfg.DBDriver, cfg.DBDSN, logger)
		if err != nil {
			err = fmt.Errorf("init snapshot mirror: %w", err)
			if werr := fileStore.Write(ctx.Context, item.FallbackSnapshot(time.Now(), err)); werr != nil {
				logger.WithError(werr).Error("failed to write fallback snapshot")
			}
			return err
		}
		defer mirror.Close()
		store = storage.NewMultiWriter(fileStore, mirror)
	}

	fetcher := rss.NewFetcher(cfg.FetchTimeout, cfg.UserAgent, logger)
	loader := func() ([]config.Topic, error) {
		return config.LoadTopics(cfg.TopicsPath)
	}
	svc := service.NewService(fetcher, store, loader, logger, cfg)

	summary, err := svc.Run(ctx.Context)
	if err != nil {
		return err
	}
	out := ctx.App.Writer
	if cfg.OutputPath == storage.StdoutPath {
		out = ctx.App.ErrWriter
	}
	fmt.Fprintf(out, "feedpulse done: %s\n", summary)
	return nil
}

// configFromContext starts from the environment and applies explicitly set flags.
func configFromContext(ctx *cli.Context) config.Config {
	cfg := config.Load()
	if ctx.IsSet("topics") {
		cfg.TopicsPath = ctx.String("topics")
	}
	if ctx.IsSet("output") {
		cfg.OutputPath = ctx.String("output")
	}
	if ctx.IsSet("window-hours") && ctx.Int("window-hours") > 0 {
		cfg.Window = time.Duration(ctx.Int("window-hours")) * time.Hour
	}
	if ctx.IsSet("timeout") && ctx.Int("timeout") > 0 {
		cfg.FetchTimeout = time.Duration(ctx.Int("timeout")) * time.Second
	}
	if ctx.IsSet("workers") && ctx.Int("workers") > 0 {
		cfg.Workers = ctx.Int("workers")
	}
	if ctx.IsSet("log-level") {
		cfg.LogLevel = ctx.String("log-level")
	}
	if ctx.IsSet("db-driver") {
		cfg.DBDriver = ctx.String("db-driver")
	}
	if ctx.IsSet("db-dsn") {
		cfg.DBDSN = ctx.String("db-dsn")
	}
	return cfg
}

func newLogger(level string) *log.Logger {
	logger := log.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	lvl, err := log.ParseLevel(level)
	if err != nil {
		logger.Warnf("invalid log level %q, using info", level)
		lvl = log.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}
