package server

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"notehub/internal/database/dto"
	"notehub/internal/errs"
	"notehub/internal/queue"
	"notehub/internal/service"

	jwtware "github.com/gofiber/contrib/jwt"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}

func (s *FiberServer) RegisterFiberRoutes() {
	s.App.Post("/users", s.registerUser)
	s.App.Get("/users", s.findUsers)
	s.App.Get("/users/:id", s.getUser)
	s.App.Post("/authentications", s.login)
	s.App.Get("/health", s.healthHandler)
	// endpoint to monitor memory
	s.App.Get("/memory", func(c *fiber.Ctx) error {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		memoryInfo := fmt.Sprintf("Alloc = %v MiB, TotalAlloc = %v MiB, Sys = %v MiB, NumGC = %v",
			bToMb(m.Alloc), bToMb(m.TotalAlloc), bToMb(m.Sys), m.NumGC)
		return c.SendString(memoryInfo)
	})

	s.App.Use(jwtware.New(jwtware.Config{
		SigningKey: jwtware.SigningKey{Key: s.tokenKey},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"status":  "fail",
				"message": "missing or invalid access token",
			})
		},
	}))

	s.App.Post("/notes", s.createNote)
	s.App.Get("/notes", s.getAllNotes)
	s.App.Get("/notes/:id", s.getSingleNote)
	s.App.Put("/notes/:id", s.updateNote)
	s.App.Delete("/notes/:id", s.deleteNote)

	s.App.Post("/collaborations", s.addCollaborator)
	s.App.Delete("/collaborations", s.removeCollaborator)

	s.App.Post("/export/notes", s.exportNotes)
}

// currentUser returns the verified subject of the request's access token.
func currentUser(c *fiber.Ctx) (string, error) {
	token, ok := c.Locals("user").(*jwt.Token)
	if !ok {
		return "", errs.New(errs.Authentication, "missing access token")
	}
	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", errs.New(errs.Authentication, "access token has no subject")
	}
	return sub, nil
}

func (s *FiberServer) issueToken(userID string) (string, error) {
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(s.tokenAge).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.tokenKey)
}

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	return c.JSON(s.db.Health())
}

func (s *FiberServer) registerUser(c *fiber.Ctx) error {
	payload := dto.RegisterUser{}
	if err := c.BodyParser(&payload); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	id, err := s.users.Register(c.UserContext(), payload.Username, payload.Password, payload.Fullname)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"status":  "success",
		"message": "user added",
		"data":    fiber.Map{"userId": id},
	})
}

func (s *FiberServer) getUser(c *fiber.Ctx) error {
	user, err := s.users.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "success", "data": fiber.Map{"user": user}})
}

func (s *FiberServer) findUsers(c *fiber.Ctx) error {
	users, err := s.users.FindByUsername(c.UserContext(), c.Query("username"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "success", "data": fiber.Map{"users": users}})
}

func (s *FiberServer) login(c *fiber.Ctx) error {
	credentials := dto.LoginCredentials{}
	if err := c.BodyParser(&credentials); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	id, err := s.users.Authenticate(c.UserContext(), credentials.Username, credentials.Password)
	if err != nil {
		return err
	}
	t, err := s.issueToken(id)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"status":  "success",
		"message": "authentication added",
		"data":    fiber.Map{"accessToken": t},
	})
}

func (s *FiberServer) createNote(c *fiber.Ctx) error {
	owner, err := currentUser(c)
	if err != nil {
		return err
	}
	note := dto.NotePayload{}
	if err := c.BodyParser(&note); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(note.Title) == "" {
		return errs.Invariantf("title is required")
	}
	id, err := s.notes.Create(c.UserContext(), owner, service.NoteInput{Title: note.Title, Body: note.Body, Tags: note.Tags})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"status":  "success",
		"message": "note added",
		"data":    fiber.Map{"noteId": id},
	})
}

func (s *FiberServer) getAllNotes(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	var notes any
	if q := c.Query("q"); q != "" {
		notes, err = s.notes.Search(c.UserContext(), userID, q)
	} else {
		notes, err = s.notes.VisibleTo(c.UserContext(), userID)
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "success", "data": fiber.Map{"notes": notes}})
}

func (s *FiberServer) getSingleNote(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	note, err := s.notes.GetFor(c.UserContext(), c.Params("id"), userID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "success", "data": fiber.Map{"note": note}})
}

func (s *FiberServer) updateNote(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	patch := dto.NotePatch{}
	if err := c.BodyParser(&patch); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if _, err := s.notes.Update(c.UserContext(), c.Params("id"), userID, service.NotePatch(patch)); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "success", "message": "note updated"})
}

func (s *FiberServer) deleteNote(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	if err := s.notes.Delete(c.UserContext(), c.Params("id"), userID); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "success", "message": "note deleted"})
}

func (s *FiberServer) addCollaborator(c *fiber.Ctx) error {
	owner, err := currentUser(c)
	if err != nil {
		return err
	}
	payload := dto.CollaborationPayload{}
	if err := c.BodyParser(&payload); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := s.notes.VerifyOwner(c.UserContext(), payload.NoteID, owner); err != nil {
		return err
	}
	id, err := s.collabs.Add(c.UserContext(), payload.NoteID, payload.UserID)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"status":  "success",
		"message": "collaborator added",
		"data":    fiber.Map{"collaborationId": id},
	})
}

func (s *FiberServer) removeCollaborator(c *fiber.Ctx) error {
	owner, err := currentUser(c)
	if err != nil {
		return err
	}
	payload := dto.CollaborationPayload{}
	if err := c.BodyParser(&payload); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := s.notes.VerifyOwner(c.UserContext(), payload.NoteID, owner); err != nil {
		return err
	}
	if err := s.collabs.Remove(c.UserContext(), payload.NoteID, payload.UserID); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "success", "message": "collaborator removed"})
}

func (s *FiberServer) exportNotes(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	payload := dto.ExportPayload{}
	if err := c.BodyParser(&payload); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if !strings.Contains(payload.TargetEmail, "@") {
		return errs.Invariantf("targetEmail must be an email address")
	}
	err = s.exports.DispatchExport(c.UserContext(), queue.ExportRequest{UserID: userID, TargetEmail: payload.TargetEmail})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"status":  "success",
		"message": "your request is queued",
	})
}
