package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/grabbot/grabbot/pkg/bus"
	"github.com/grabbot/grabbot/pkg/channels"
	"github.com/grabbot/grabbot/pkg/config"
	"github.com/grabbot/grabbot/pkg/delivery"
	"github.com/grabbot/grabbot/pkg/fetch"
	"github.com/grabbot/grabbot/pkg/history"
	"github.com/grabbot/grabbot/pkg/janitor"
	"github.com/grabbot/grabbot/pkg/logger"
	"github.com/grabbot/grabbot/pkg/notify"
	"github.com/grabbot/grabbot/pkg/progress"
	"github.com/grabbot/grabbot/pkg/session"
)

// channel is a chat transport: a pump that feeds the event queue plus the
// notify.Sink for outbound traffic.
type channel interface {
	notify.Sink
	Name() string
	Start(ctx context.Context) error
}

func main() {
	configPath := flag.String("config", "", "path to config file (default <workspace>/config.json)")
	flag.Parse()

	if err := godotenv.Load(); err == nil {
		logger.InfoC("main", "Loaded environment from .env")
	}

	path := *configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	if cfg.Logging.FileEnabled {
		if err := logger.EnableFileLogging(cfg.Logging.FilePath, cfg.Logging.MaxSizeMB); err != nil {
			logger.WarnCF("main", "File logging unavailable", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	if err := os.MkdirAll(cfg.ScratchPath(), 0755); err != nil {
		logger.FatalC("main", "Cannot create workspace: "+err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queue := bus.NewQueue()
	router := notify.NewRouter()
	store := progress.NewStore(cfg.StaleAfter())
	fetcher := fetch.NewYTDLP(cfg.Fetch)
	deliverer := delivery.NewCoordinator(router, cfg.MaxVideoBytes())

	var recorder session.Recorder
	var hist *history.Store
	if cfg.History.Enabled {
		hist, err = history.Open(cfg.HistoryPath())
		if err != nil {
			logger.FatalC("main", "Cannot open history store: "+err.Error())
		}
		defer hist.Close()
		recorder = hist
	}

	manager := session.NewManager(cfg, queue, router, store, fetcher, deliverer, recorder)
	reporter := progress.NewReporter(store, router, manager, cfg.ReporterInterval(), cfg.ReporterInitialDelay())

	active := startChannels(ctx, cfg, queue, router)
	if active == 0 {
		logger.FatalC("main", "No channels enabled, nothing to do")
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		manager.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		reporter.Run(ctx)
	}()

	if cfg.Cleanup.Enabled {
		j, err := janitor.New(cfg.ScratchPath(), cfg.Cleanup.Schedule, cfg.MaxScratchAge(), manager, pruner(hist))
		if err != nil {
			logger.WarnCF("main", "Janitor disabled", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				j.Run(ctx)
			}()
		}
	}

	logger.InfoCF("main", "grabbot running", map[string]interface{}{
		"channels":  active,
		"workspace": cfg.WorkspacePath(),
	})

	<-ctx.Done()
	logger.InfoC("main", "Shutting down...")
	wg.Wait()
	logger.InfoC("main", "Bye")
}

func startChannels(ctx context.Context, cfg *config.Config, queue *bus.Queue, router *notify.Router) int {
	var chans []channel

	if cfg.Channels.Telegram.Enabled {
		tg, err := channels.NewTelegramChannel(cfg.Channels.Telegram, queue)
		if err != nil {
			logger.ErrorCF("main", "Telegram channel init failed", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			chans = append(chans, tg)
		}
	}

	if cfg.Channels.Discord.Enabled {
		dc, err := channels.NewDiscordChannel(cfg.Channels.Discord, queue)
		if err != nil {
			logger.ErrorCF("main", "Discord channel init failed", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			chans = append(chans, dc)
		}
	}

	active := 0
	for _, ch := range chans {
		if err := ch.Start(ctx); err != nil {
			logger.ErrorCF("main", "Channel start failed", map[string]interface{}{
				"channel": ch.Name(),
				"error":   err.Error(),
			})
			continue
		}
		router.Register(ch.Name(), ch)
		active++
	}
	return active
}

// pruner avoids handing the janitor a typed-nil interface when history is
// disabled.
func pruner(hist *history.Store) janitor.Pruner {
	if hist == nil {
		return nil
	}
	return hist
}
