package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"notehub/internal/cache"
	"notehub/internal/config"
	"notehub/internal/database"
	"notehub/internal/database/repositories"
	"notehub/internal/logging"
	"notehub/internal/queue"
	"notehub/internal/server"
	"notehub/internal/service"

	"github.com/rs/zerolog"
)

func gracefulShutdown(fiberServer *server.FiberServer, producer *queue.Producer, done chan bool, log zerolog.Logger) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Info().Msg("shutting down gracefully, press Ctrl+C again to force")
	stop()

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	if err := fiberServer.ShutdownWithTimeout(5 * time.Second); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	producer.Wait()

	log.Info().Msg("server exiting")
	done <- true
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})

	db, err := database.New(cfg.DatabaseURL(), log)
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.MigrateOnStart {
		if err := db.Migrate(); err != nil {
			return err
		}
	}

	var c cache.Cache = cache.Noop{}
	if cfg.RedisURL != "" {
		rc, err := cache.NewRedis(cfg.RedisURL, log)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		defer rc.Close()
		if err := rc.Ping(context.Background()); err != nil {
			log.Warn().Err(err).Msg("redis unreachable, continuing without cache hits")
		}
		c = rc
	} else {
		log.Warn().Msg("REDIS_URL not set, collaboration cache disabled")
	}

	notesRepo := repositories.NewNoteRepository(db.DB())
	usersRepo := repositories.NewUserRepository(db.DB())
	collabs := service.NewCollaborationService(
		repositories.NewCollaborationRepository(db.DB()), notesRepo, usersRepo, c, cfg.CacheTTL, log)
	producer := queue.NewProducer(cfg.RabbitMQ, cfg.CloseDelay, log)

	srv := server.New(server.Options{
		DB:            db,
		Notes:         service.NewNoteService(notesRepo, repositories.NewSearchRepository(db.DB()), collabs, log),
		Collaborators: collabs,
		Users:         service.NewUserService(usersRepo, log),
		Exports:       producer,
		TokenKey:      []byte(cfg.AccessTokenKey),
		TokenAge:      cfg.AccessTokenAge,
		CORSOrigins:   cfg.CORSOrigins,
		Log:           log,
	})
	srv.RegisterFiberRoutes()

	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	go func() {
		if err := srv.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(srv, producer, done, log)

	// Wait for the graceful shutdown to complete
	<-done
	log.Info().Msg("graceful shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
