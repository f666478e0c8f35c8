package server

import (
	"context"
	"errors"
	"time"

	"notehub/internal/errs"
	"notehub/internal/queue"
	"notehub/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/favicon"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/pprof"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"
)

type HealthChecker interface {
	Health() map[string]string
}

type Exporter interface {
	DispatchExport(ctx context.Context, req queue.ExportRequest) error
}

type Options struct {
	DB            HealthChecker
	Notes         *service.NoteService
	Collaborators *service.CollaborationService
	Users         *service.UserService
	Exports       Exporter

	TokenKey    []byte
	TokenAge    time.Duration
	CORSOrigins string
	Log         zerolog.Logger
}

type FiberServer struct {
	*fiber.App

	db      HealthChecker
	notes   *service.NoteService
	collabs *service.CollaborationService
	users   *service.UserService
	exports Exporter

	tokenKey []byte
	tokenAge time.Duration
	log      zerolog.Logger
}

func New(opts Options) *FiberServer {
	server := &FiberServer{
		db:       opts.DB,
		notes:    opts.Notes,
		collabs:  opts.Collaborators,
		users:    opts.Users,
		exports:  opts.Exports,
		tokenKey: opts.TokenKey,
		tokenAge: opts.TokenAge,
		log:      opts.Log.With().Str("component", "http").Logger(),
	}
	server.App = fiber.New(fiber.Config{
		ServerHeader: "notehub",
		AppName:      "notehub",
		ErrorHandler: server.errorHandler,
	})
	server.App.Use(recover.New())
	server.App.Use(favicon.New())
	server.App.Use(cors.New(cors.Config{
		AllowOrigins: opts.CORSOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization,X-Requested-With",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		MaxAge:       3600,
	}))
	server.App.Use(logger.New())
	server.App.Use(pprof.New())
	return server
}

// statusOf maps an error kind to its HTTP status.
func statusOf(kind errs.Kind) int {
	switch kind {
	case errs.NotFound:
		return fiber.StatusNotFound
	case errs.Authorization:
		return fiber.StatusForbidden
	case errs.Authentication:
		return fiber.StatusUnauthorized
	case errs.Invariant:
		return fiber.StatusBadRequest
	}
	return fiber.StatusInternalServerError
}

func (s *FiberServer) errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{"status": "fail", "message": fe.Message})
	}

	code := statusOf(errs.KindOf(err))
	if code >= fiber.StatusInternalServerError {
		s.log.Error().Err(err).Str("method", c.Method()).Str("path", c.Path()).Msg("request failed")
		message := "internal server error"
		if errors.Is(err, errs.Dispatch) {
			message = "export could not be queued, try again later"
		}
		return c.Status(code).JSON(fiber.Map{"status": "error", "message": message})
	}
	return c.Status(code).JSON(fiber.Map{"status": "fail", "message": errs.Message(err)})
}
