package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"notehub/internal/database/models"

	"github.com/jackc/pgx/v5/pgtype"
)

var ErrNoteNotFound = errors.New("note not found")

type NoteRepository interface {
	Create(ctx context.Context, note *models.Note) error
	GetByID(ctx context.Context, id string) (*models.Note, error)
	GetByOwner(ctx context.Context, owner string) ([]models.Note, error)
	GetByIDs(ctx context.Context, ids []string) ([]models.Note, error)
	Update(ctx context.Context, note *models.Note) error
	Delete(ctx context.Context, id string) error
}

type noteRepository struct {
	db    *sql.DB
	types *pgtype.Map
}

func NewNoteRepository(db *sql.DB) NoteRepository {
	return &noteRepository{db: db, types: pgtype.NewMap()}
}

const noteColumns = `id, title, body, tags, owner, created_at, updated_at`

func (r *noteRepository) scan(row interface{ Scan(...any) error }) (models.Note, error) {
	var note models.Note
	err := row.Scan(
		&note.ID,
		&note.Title,
		&note.Body,
		r.types.SQLScanner(&note.Tags),
		&note.Owner,
		&note.CreatedAt,
		&note.UpdatedAt,
	)
	return note, err
}

func (r *noteRepository) Create(ctx context.Context, note *models.Note) error {
	if note.Tags == nil {
		note.Tags = []string{}
	}
	query := `
		INSERT INTO notes (id, title, body, tags, owner, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query, note.ID, note.Title, note.Body, note.Tags, note.Owner).Scan(&note.CreatedAt, &note.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error creating note: %w", err)
	}
	return nil
}

func (r *noteRepository) GetByID(ctx context.Context, id string) (*models.Note, error) {
	query := `SELECT ` + noteColumns + ` FROM notes WHERE id = $1`
	note, err := r.scan(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error getting note: %w", err)
	}
	return &note, nil
}

func (r *noteRepository) GetByOwner(ctx context.Context, owner string) ([]models.Note, error) {
	query := `SELECT ` + noteColumns + ` FROM notes WHERE owner = $1 ORDER BY updated_at DESC`
	return r.list(ctx, query, owner)
}

func (r *noteRepository) GetByIDs(ctx context.Context, ids []string) ([]models.Note, error) {
	if len(ids) == 0 {
		return []models.Note{}, nil
	}
	query := `SELECT ` + noteColumns + ` FROM notes WHERE id = ANY($1) ORDER BY updated_at DESC`
	return r.list(ctx, query, ids)
}

func (r *noteRepository) list(ctx context.Context, query string, args ...any) ([]models.Note, error) {
	result, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying notes: %w", err)
	}
	defer result.Close()
	notes := []models.Note{}
	for result.Next() {
		note, err := r.scan(result)
		if err != nil {
			return nil, fmt.Errorf("error scanning note: %w", err)
		}
		notes = append(notes, note)
	}
	if err = result.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notes: %w", err)
	}
	return notes, nil
}

func (r *noteRepository) Update(ctx context.Context, note *models.Note) error {
	if note.Tags == nil {
		note.Tags = []string{}
	}
	query := `
		UPDATE notes
		SET title = $1, body = $2, tags = $3, updated_at = CURRENT_TIMESTAMP
		WHERE id = $4
		RETURNING updated_at`
	err := r.db.QueryRowContext(ctx, query, note.Title, note.Body, note.Tags, note.ID).Scan(&note.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNoteNotFound
	}
	if err != nil {
		return fmt.Errorf("error updating note: %w", err)
	}
	return nil
}

func (r *noteRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM notes WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("error deleting note: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNoteNotFound
	}
	return nil
}
