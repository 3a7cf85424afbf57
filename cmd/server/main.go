package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	router "github.com/fundmentor/signaling/internal/adapters/http"
	"github.com/fundmentor/signaling/internal/app"
	"github.com/fundmentor/signaling/internal/config"
	"github.com/fundmentor/signaling/internal/core"
	"github.com/fundmentor/signaling/internal/projects"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	dir, disconnect, err := newDirectory(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect project directory")
	}
	defer disconnect()

	neg := app.NewNegotiator(dir)
	go neg.Run(ctx)

	r := router.SetupRouter(ctx, cfg, neg)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("signaling server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}

// newDirectory picks the project-owner collaborator: Mongo when configured,
// otherwise the in-process directory (dev mode).
func newDirectory(ctx context.Context, cfg *config.Config) (core.ProjectDirectory, func(), error) {
	if cfg.MongoURI == "" {
		log.Warn().Str("module", "main").Msg("no mongo_uri configured, using in-memory project directory")
		return projects.NewMemoryDirectory(), func() {}, nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, nil, err
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, nil, err
	}
	log.Info().Str("module", "main").Str("db", cfg.MongoDB).Msg("connected to mongo")
	disconnect := func() {
		dctx, dcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer dcancel()
		_ = client.Disconnect(dctx)
	}
	return projects.NewMongoDirectory(client.Database(cfg.MongoDB)), disconnect, nil
}
