package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"notehub/internal/database/models"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrUsernameTaken = errors.New("username already taken")
)

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	FindByUsername(ctx context.Context, prefix string) ([]models.User, error)
}

type userRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, username, password, fullname, created_at)
		VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)
		ON CONFLICT (username) DO NOTHING
		RETURNING created_at`
	err := r.db.QueryRowContext(ctx, query, user.ID, user.Username, user.Password, user.Fullname).Scan(&user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrUsernameTaken
	}
	if err != nil {
		return fmt.Errorf("error creating user: %w", err)
	}
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	user := models.User{}
	query := `SELECT id, username, fullname, created_at FROM users WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&user.ID, &user.Username, &user.Fullname, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error getting user: %w", err)
	}
	return &user, nil
}

// GetByUsername includes the password hash; it backs authentication.
func (r *userRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	user := models.User{}
	query := `SELECT id, username, password, fullname, created_at FROM users WHERE username = $1`
	err := r.db.QueryRowContext(ctx, query, username).Scan(&user.ID, &user.Username, &user.Password, &user.Fullname, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error getting user: %w", err)
	}
	return &user, nil
}

func (r *userRepository) FindByUsername(ctx context.Context, prefix string) ([]models.User, error) {
	query := `SELECT id, username, fullname, created_at FROM users WHERE username ILIKE $1 ORDER BY username`
	result, err := r.db.QueryContext(ctx, query, escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("error querying users: %w", err)
	}
	defer result.Close()
	users := []models.User{}
	for result.Next() {
		var user models.User
		if err := result.Scan(&user.ID, &user.Username, &user.Fullname, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning user: %w", err)
		}
		users = append(users, user)
	}
	if err = result.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return users, nil
}
