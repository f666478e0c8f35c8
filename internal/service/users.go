package service

import (
	"context"
	"errors"

	"notehub/internal/database/models"
	"notehub/internal/database/repositories"
	"notehub/internal/errs"
	"notehub/internal/utils"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

type UserService struct {
	users repositories.UserRepository
	log   zerolog.Logger
}

func NewUserService(users repositories.UserRepository, log zerolog.Logger) *UserService {
	return &UserService{users: users, log: log.With().Str("component", "users").Logger()}
}

func (s *UserService) Register(ctx context.Context, username, password, fullname string) (string, error) {
	if username == "" || password == "" {
		return "", errs.Invariantf("username and password are required")
	}
	hash, err := utils.HashPassword(password)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", errs.Invariantf("password must be at most 72 bytes")
	}
	if err != nil {
		return "", errs.Wrap(errs.Persistence, err, "failed to hash password")
	}
	user := &models.User{ID: utils.NewID("user"), Username: username, Password: hash, Fullname: fullname}
	err = s.users.Create(ctx, user)
	if errors.Is(err, repositories.ErrUsernameTaken) {
		return "", errs.Invariantf("username %s is already taken", username)
	}
	if err != nil {
		return "", errs.Wrap(errs.Persistence, err, "failed to add user")
	}
	s.log.Info().Str("user", user.ID).Msg("user registered")
	return user.ID, nil
}

func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if errors.Is(err, repositories.ErrUserNotFound) {
		return nil, errs.NotFoundf("user %s not found", id)
	}
	if err != nil {
		return nil, errs.Wrap(errs.Persistence, err, "failed to get user")
	}
	return user, nil
}

func (s *UserService) FindByUsername(ctx context.Context, prefix string) ([]models.User, error) {
	users, err := s.users.FindByUsername(ctx, prefix)
	if err != nil {
		return nil, errs.Wrap(errs.Persistence, err, "failed to search users")
	}
	return users, nil
}

// Authenticate returns the user id for valid credentials.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (string, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if errors.Is(err, repositories.ErrUserNotFound) {
		return "", errs.New(errs.Authentication, "invalid credentials")
	}
	if err != nil {
		return "", errs.Wrap(errs.Persistence, err, "failed to get user")
	}
	if !utils.CheckPasswordHash(password, user.Password) {
		return "", errs.New(errs.Authentication, "invalid credentials")
	}
	return user.ID, nil
}
