// Command server runs the case-sync engine: the webhook ingest API, the
// reconciliation poller, and the lifecycle janitor, all sharing one SQLite
// case store.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-case-sync/internal/cache"
	"github.com/tbourn/go-case-sync/internal/chat"
	"github.com/tbourn/go-case-sync/internal/config"
	httpapi "github.com/tbourn/go-case-sync/internal/http"
	"github.com/tbourn/go-case-sync/internal/observability"
	"github.com/tbourn/go-case-sync/internal/repo"
	"github.com/tbourn/go-case-sync/internal/services"
	"github.com/tbourn/go-case-sync/internal/support"
	"github.com/tbourn/go-case-sync/internal/sysutil"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// .env is optional; real deployments configure through the environment.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database failed")
	}

	// External clients.
	creds := support.NewCachedCredentialSource(
		&support.TokenExchangeSource{URL: cfg.TicketAuthURL, SessionName: cfg.OTEL.ServiceName},
		cfg.TokenTTL,
	)
	tickets := &support.HTTPClient{
		BaseURL: cfg.TicketAPIBase,
		Creds:   creds,
		Log:     log.With().Str("component", "tickets").Logger(),
	}
	chatClient := &chat.APIClient{
		BaseURL: cfg.ChatAPIBase,
		Tokens:  chat.NewAppTokenProvider(cfg.ChatAuthURL, cfg.ChatAppID, cfg.ChatAppSecret, cfg.TokenTTL),
		Log:     log.With().Str("component", "chat").Logger(),
	}

	// Engine.
	dispatcher := &services.Dispatcher{
		Chat:              chatClient,
		ConsoleURLBase:    cfg.ConsoleURLBase,
		SecondaryTZOffset: cfg.SecondaryTZOffset,
		GraceHours:        cfg.GraceHours(),
		Log:               log.With().Str("component", "dispatcher").Logger(),
	}
	gateway := &services.Gateway{
		DB:           db,
		Store:        services.GormCaseStore{},
		Events:       services.GormEventLog{},
		Tickets:      tickets,
		Notify:       dispatcher,
		Dedup:        cache.NewTTL[time.Time](cfg.DedupWindow, 100),
		DedupWindow:  cfg.DedupWindow,
		Lookback:     cfg.Lookback,
		MaxBodyRunes: cfg.MaxBodyRunes,
		Log:          log.With().Str("component", "gateway").Logger(),
	}
	poller := &services.Poller{
		DB:           db,
		Store:        services.GormCaseStore{},
		Tickets:      tickets,
		Notify:       dispatcher,
		Lookback:     cfg.Lookback,
		MaxBodyRunes: cfg.PollerMaxBodyRunes,
		Log:          log.With().Str("component", "poller").Logger(),
	}
	janitor := &services.Janitor{
		DB:            db,
		Store:         services.GormCaseStore{},
		Chat:          chatClient,
		Notify:        dispatcher,
		DissolveAfter: cfg.DissolveAfter,
		Log:           log.With().Str("component", "janitor").Logger(),
	}

	// HTTP transport.
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	httpapi.RegisterRoutes(router, db, httpapi.Engine{
		Gateway: gateway,
		Poller:  poller,
		Janitor: janitor,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go runPoller(ctx, poller, cfg.PollInterval)
	go runJanitor(ctx, janitor, cfg.JanitorInterval)

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
}

// runPoller drives reconciliation cycles until ctx is canceled. Each cycle
// gets its own timeout so a hung remote call cannot wedge the schedule.
func runPoller(ctx context.Context, p *services.Poller, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			cctx, cancel := context.WithTimeout(ctx, interval)
			if _, err := p.RunOnce(cctx); err != nil {
				log.Error().Err(err).Msg("poll cycle failed")
			}
			cancel()
		}
	}
}

// runJanitor drives dissolution scans until ctx is canceled.
func runJanitor(ctx context.Context, j *services.Janitor, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			cctx, cancel := context.WithTimeout(ctx, interval)
			if _, err := j.RunOnce(cctx); err != nil {
				log.Error().Err(err).Msg("janitor cycle failed")
			}
			cancel()
		}
	}
}
