// Command titlecardmaker runs the card-production pipeline: it syncs
// series from configured connections, refreshes episode metadata, builds
// title cards and loads them onto media servers on cron schedules.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/titlecardmaker/titlecardmaker/internal/assets"
	"github.com/titlecardmaker/titlecardmaker/internal/backup"
	"github.com/titlecardmaker/titlecardmaker/internal/cards"
	"github.com/titlecardmaker/titlecardmaker/internal/cardtype"
	"github.com/titlecardmaker/titlecardmaker/internal/config"
	"github.com/titlecardmaker/titlecardmaker/internal/connection"
	"github.com/titlecardmaker/titlecardmaker/internal/connection/mediabrowser"
	"github.com/titlecardmaker/titlecardmaker/internal/connection/plex"
	"github.com/titlecardmaker/titlecardmaker/internal/connection/sonarr"
	"github.com/titlecardmaker/titlecardmaker/internal/connection/tautulli"
	"github.com/titlecardmaker/titlecardmaker/internal/connection/tmdb"
	"github.com/titlecardmaker/titlecardmaker/internal/connection/tvdb"
	"github.com/titlecardmaker/titlecardmaker/internal/database"
	"github.com/titlecardmaker/titlecardmaker/internal/library"
	"github.com/titlecardmaker/titlecardmaker/internal/logger"
	"github.com/titlecardmaker/titlecardmaker/internal/metrics"
	"github.com/titlecardmaker/titlecardmaker/internal/resolver"
	"github.com/titlecardmaker/titlecardmaker/internal/scheduler"
	"github.com/titlecardmaker/titlecardmaker/internal/scheduler/tasks"
	"github.com/titlecardmaker/titlecardmaker/internal/uploader"
)

func main() {
	// .env is optional; environment variables override the config file.
	_ = godotenv.Load()

	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Path:   cfg.Logging.Path,
	})
	defer log.Close()

	log.Info().Str("logLevel", cfg.Logging.Level).Msg("Starting TitleCardMaker")

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	log.Info().Msg("Running database migrations")
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	svc := library.NewService(db.Conn(), log.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := connection.NewRegistry(log.Logger)
	registry.RegisterFactory(library.KindEmby, mediabrowser.NewEmby)
	registry.RegisterFactory(library.KindJellyfin, mediabrowser.NewJellyfin)
	registry.RegisterFactory(library.KindPlex, plex.New)
	registry.RegisterFactory(library.KindSonarr, sonarr.New)
	registry.RegisterFactory(library.KindTMDb, tmdb.New)
	registry.RegisterFactory(library.KindTVDb, tvdb.New)
	registry.RegisterFactory(library.KindTautulli, tautulli.New)

	conns, err := svc.ListConnections(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list connections")
	}
	registry.Refresh(ctx, conns)

	store := assets.NewStore(cfg.Dirs.Source, cfg.Dirs.Assets, log.Logger)
	fetcher := assets.NewFetcher(store, registry, 0, 0, log.Logger)

	remoteLoader := cardtype.NewRemoteLoader(cfg.CardTypes.RepositoryURL, cfg.CardTypes.CacheDir, log.Logger)
	types := cardtype.NewRegistry(remoteLoader, log.Logger)
	types.Register(&cardtype.Standard{})

	res := resolver.New(svc, resolver.Layer{}, log.Logger)
	translator := resolver.NewTranslator(svc, registry,
		time.Duration(cfg.Episodes.TranslationBackoffHours)*time.Hour, log.Logger)

	coordinator := cards.NewCoordinator(svc, types, cfg.Dirs.Cards,
		cfg.Episodes.CardFilenameFormat, log.Logger)
	up := uploader.New(svc, registry, log.Logger)

	bk := backup.New(cfg.Dirs.Config, cfg.BackupDir(), db.Path(),
		time.Duration(cfg.Backup.RetentionDays)*24*time.Hour, log.Logger)
	bk.Sweep()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(promReg)

	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(cfg.Metrics.Listen, mux); err != nil {
				log.Warn().Err(err).Str("listen", cfg.Metrics.Listen).
					Msg("Metrics endpoint stopped")
			}
		}()
	}

	sched, err := scheduler.New(ctx, svc, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create scheduler")
	}

	t := tasks.New(svc, registry, res, translator, store, fetcher, coordinator,
		up, bk, m, cfg, log.Logger)
	if err := t.RegisterAll(sched); err != nil {
		log.Fatal().Err(err).Msg("Failed to register jobs")
	}
	sched.Start()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	if err := sched.Shutdown(); err != nil {
		log.Error().Err(err).Msg("Scheduler shutdown failed")
	}
}
