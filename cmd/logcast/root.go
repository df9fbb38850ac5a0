package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kxrxh/logcast/internal/broadcast"
	"github.com/kxrxh/logcast/internal/config"
	"github.com/kxrxh/logcast/internal/database"
	"github.com/kxrxh/logcast/internal/logger"
	"github.com/kxrxh/logcast/internal/reader"
	"github.com/kxrxh/logcast/internal/registry"
	"github.com/kxrxh/logcast/internal/server"
	"github.com/kxrxh/logcast/internal/telegram"
	"github.com/kxrxh/logcast/internal/watcher"
)

// maxFileWait caps the backoff while waiting for the log file to appear.
const maxFileWait = 5 * time.Second

var flagKeys = map[string]string{
	"file":       "file.path",
	"lines":      "file.lines",
	"addr":       "server.addr",
	"watch-mode": "watch.mode",
	"log-level":  "log.level",
	"log-format": "log.format",
}

func newRootCmd() *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:           "logcast",
		Short:         "Stream a growing log file to WebSocket and Telegram viewers",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configDir, bindFlags(cmd))
			if err != nil {
				return err
			}

			level, err := logger.ParseLevel(cfg.Log.Level)
			if err != nil {
				return err
			}
			log := logger.New(
				logger.WithLevel(level),
				logger.WithFormat(logger.Format(cfg.Log.Format)),
				logger.WithAttr(slog.String("service", "logcast")),
			)
			return run(cmd.Context(), cfg, log)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&configDir, "config", "c", "", "directory containing config.yaml")
	f.StringP("file", "f", "", "log file to stream")
	f.IntP("lines", "n", broadcast.DefaultLines, "lines of history sent to new viewers")
	f.String("addr", ":8080", "WebSocket listen address")
	f.String("watch-mode", string(watcher.ModeAuto), "change detection: auto, fsnotify or poll")
	f.String("log-level", "info", "log level")
	f.String("log-format", "text", "log format: text or json")
	return cmd
}

// bindFlags lets explicitly set flags override file and environment values.
func bindFlags(cmd *cobra.Command) config.LoadOption {
	return func(v *viper.Viper) error {
		for name, key := range flagKeys {
			fl := cmd.Flags().Lookup(name)
			if fl == nil || !fl.Changed {
				continue
			}
			if err := v.BindPFlag(key, fl); err != nil {
				return fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
		return nil
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if _, err := reader.Size(cfg.File.Path); err != nil {
		log.Info("waiting for log file", "path", cfg.File.Path)
		if err := watcher.WaitForFile(ctx, cfg.File.Path, cfg.Watch.PollInterval, maxFileWait); err != nil {
			return fmt.Errorf("wait for %s: %w", cfg.File.Path, err)
		}
	}

	engine, err := broadcast.New(cfg.File.Path, registry.New(),
		broadcast.WithLines(cfg.File.Lines),
		broadcast.WithChunkSize(cfg.File.ChunkSize),
		broadcast.WithLogger(log),
	)
	if err != nil {
		return err
	}
	defer engine.Close()

	var (
		wg   sync.WaitGroup
		errs = make(chan error, 3)
	)

	if cfg.Bot.Token != "" {
		db, err := database.New(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		if err := startBot(ctx, &wg, errs, cfg, db, engine, log); err != nil {
			return err
		}
	}

	srv := server.New(engine,
		server.WithLogger(log),
		server.WithOutboxSize(cfg.Server.OutboxSize),
		server.WithWriteTimeout(cfg.Server.WriteTimeout),
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.ListenAndServe(ctx, cfg.Server.Addr); err != nil {
			errs <- fmt.Errorf("http server: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := supervise(ctx, engine, cfg, log); err != nil {
			errs <- fmt.Errorf("watch %s: %w", cfg.File.Path, err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errs:
		log.Error("shutting down", "err", runErr)
	}
	cancel()
	wg.Wait()
	return runErr
}

func startBot(ctx context.Context, wg *sync.WaitGroup, errs chan<- error, cfg *config.Config,
	db *database.DB, engine *broadcast.Engine, log *slog.Logger,
) error {
	api, err := telego.NewBot(cfg.Bot.Token, telego.WithDiscardLogger())
	if err != nil {
		return fmt.Errorf("telegram bot: %w", err)
	}

	bot := telegram.New(api, db, engine,
		telegram.WithLogger(log),
		telegram.WithOutboxSize(cfg.Server.OutboxSize),
	)
	if err := bot.Restore(ctx); err != nil {
		return err
	}

	updates, err := api.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("telegram updates: %w", err)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := bot.Run(ctx, updates); err != nil {
			errs <- fmt.Errorf("telegram: %w", err)
		}
	}()
	return nil
}

// supervise keeps a detector attached to the engine. A lost watch is
// re-established once the file exists again, with the cursor rewound since
// the recreated file holds new content.
func supervise(ctx context.Context, engine *broadcast.Engine, cfg *config.Config, log *slog.Logger) error {
	for {
		det, err := watcher.New(watcher.Mode(cfg.Watch.Mode), cfg.File.Path,
			watcher.WithLogger(log),
			watcher.WithDebounce(cfg.Watch.Debounce),
			watcher.WithPollInterval(cfg.Watch.PollInterval),
		)
		if err != nil {
			return err
		}

		err = engine.Run(ctx, det)
		if ctx.Err() != nil {
			return nil
		}
		if !errors.Is(err, watcher.ErrWatchLost) || !cfg.Watch.Restart {
			return err
		}

		log.Warn("waiting for log file to reappear", "path", cfg.File.Path)
		if err := watcher.WaitForFile(ctx, cfg.File.Path, cfg.Watch.PollInterval, maxFileWait); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		engine.Rewind()
		log.Info("watch re-established", "path", cfg.File.Path)
	}
}
