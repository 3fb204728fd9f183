package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	apihttp "github.com/parleyhq/parley/internal/api/http"
	"github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/bus"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/factory"
	"github.com/parleyhq/parley/internal/platform/logger"
	"github.com/parleyhq/parley/internal/services"
	"github.com/parleyhq/parley/internal/subscription"
)

func main() {
	dbDriver := flag.String("db-driver", "", "Override PARLEY_DB_DRIVER (postgres, sqlite, memory)")
	flag.Parse()

	log := logger.New("chat-service")

	cfg, err := config.New()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *dbDriver != "" {
		cfg.DBDriver = *dbDriver
		if err := cfg.ResolveDefaults(); err != nil {
			log.Fatal().Err(err).Msg("Invalid db-driver override")
		}
	}

	log.Info().
		Str("environment", string(cfg.Environment)).
		Str("db_driver", cfg.DBDriver).
		Int("http_port", cfg.HTTPPort).
		Msg("Chat service starting")

	st, err := factory.NewStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Storage unavailable")
	}

	tokens := auth.NewTokenAuthenticator(cfg.TokenSecret, cfg.TokenIssuer, cfg.TokenValidity)
	eventBus := bus.New(cfg.BusQueueSize, log)

	deps := apihttp.Deps{
		Users:         services.NewUserService(st, tokens),
		Chat:          services.NewChatService(st, eventBus, log),
		Filter:        subscription.NewFilter(eventBus, st.Conversations(), log),
		Resolver:      auth.NewResolver(tokens, st.Users()),
		TokenValidity: cfg.TokenValidity,
		SecureCookies: cfg.IsProduction(),
		Log:           log,
	}
	if pinger, ok := st.(apihttp.HealthPinger); ok {
		deps.Store = pinger
	}

	server := &http.Server{
		Addr:    cfg.GetHTTPAddr(),
		Handler: apihttp.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited")
}
