package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/api"
	"github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/config"
	"github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/download"
	"github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/engine"
	apperrors "github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/errors"
	"github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/history"
	"github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/metrics"
	"github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/middleware"
	"github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/pubsub"
	"github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/queue"
	"github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/websocket"
	"github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/ytdlp"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML configuration")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	store := queue.NewStore(cfg.MaxQueueItems, cfg.StaleClaimTimeout.Std())

	extractor, err := ytdlp.New(&ytdlp.Config{
		BinaryPath: cfg.YtdlpPath,
		OutputDir:  cfg.OutputDir,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("yt-dlp not available")
	}

	eng := engine.New(&engine.Config{
		MaxAttempts: cfg.Download.MaxAttempts,
		Backoff: &apperrors.BackoffConfig{
			Initial: cfg.Download.BackoffInitial.Std(),
			Max:     cfg.Download.BackoffMax.Std(),
			Factor:  2.0,
			Jitter:  true,
		},
	})

	var recorder history.Recorder = history.Noop{}
	var historyHandlers *api.HistoryHandlers
	if cfg.DB.Enabled {
		pg, err := history.NewPostgresStore(cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pg.Close()
		if err := pg.Migrate(); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
		recorder = pg
		historyHandlers = api.NewHistoryHandlers(pg)
	}

	dispatcher := download.NewDispatcher(store, extractor, eng, recorder, &download.DispatcherConfig{
		MaxConcurrent: cfg.MaxConcurrent,
		PauseTimeout:  cfg.PauseTimeout.Std(),
		Options: func() download.Options {
			return download.Options{
				OutputDir:   cfg.OutputDir,
				Proxy:       cfg.Download.Proxy,
				RateLimit:   cfg.Download.RateLimit,
				CookiesFile: cfg.Download.CookiesFile,
			}
		},
	})
	svc := download.NewService(store, dispatcher)

	hub := websocket.NewHub()
	go hub.Run()
	defer hub.Close()
	store.AddListener(hub.Listener())

	m := metrics.New()
	store.AddListener(m.Listener())
	go trackGauges(m, store, dispatcher, hub)

	if cfg.Redis.Enabled {
		pub, err := pubsub.NewPublisher(context.Background(), cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer pub.Close()
		store.AddListener(pub.Listener())
	}

	wsHandler := websocket.NewHandler(hub, store, cfg.AllowedOrigins)
	router := api.NewRouter(svc, historyHandlers, wsHandler, m.Handler())

	svc.Start()

	handler := middleware.CORS(cfg.AllowedOrigins)(metrics.Middleware(m)(router))
	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: handler,
	}

	go func() {
		log.Info().Str("addr", cfg.ServerAddr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	if err := svc.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("pipeline shutdown incomplete")
	}
}

// trackGauges refreshes the point-in-time gauges on a short interval.
func trackGauges(m *metrics.Metrics, store *queue.Store, d *download.Dispatcher, hub *websocket.Hub) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		m.SetQueueLength(int64(store.Len()))
		m.SetActiveJobs(int64(d.ActiveJobs()))
		m.SetWSConnections(int64(hub.ClientCount()))
	}
}
