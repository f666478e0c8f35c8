package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"notehub/internal/database/models"
)

var (
	ErrCollaborationExists   = errors.New("collaboration already exists")
	ErrCollaborationNotFound = errors.New("collaboration not found")
)

type CollaborationRepository interface {
	Create(ctx context.Context, collab *models.Collaboration) error
	Delete(ctx context.Context, noteID, userID string) error
	Exists(ctx context.Context, noteID, userID string) (bool, error)
	GetNoteIDsByUser(ctx context.Context, userID string) ([]string, error)
}

type collaborationRepository struct {
	db *sql.DB
}

func NewCollaborationRepository(db *sql.DB) CollaborationRepository {
	return &collaborationRepository{db: db}
}

// Create inserts the grant unless it already exists, in which case
// ErrCollaborationExists is returned and the stored row is left untouched.
func (r *collaborationRepository) Create(ctx context.Context, collab *models.Collaboration) error {
	query := `
		INSERT INTO collaborations (id, note_id, user_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (note_id, user_id) DO NOTHING`
	result, err := r.db.ExecContext(ctx, query, collab.ID, collab.NoteID, collab.UserID)
	if err != nil {
		return fmt.Errorf("error creating collaboration: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrCollaborationExists
	}
	return nil
}

func (r *collaborationRepository) Delete(ctx context.Context, noteID, userID string) error {
	query := `DELETE FROM collaborations WHERE note_id = $1 AND user_id = $2`
	result, err := r.db.ExecContext(ctx, query, noteID, userID)
	if err != nil {
		return fmt.Errorf("error deleting collaboration: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrCollaborationNotFound
	}
	return nil
}

func (r *collaborationRepository) Exists(ctx context.Context, noteID, userID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM collaborations WHERE note_id = $1 AND user_id = $2)`
	if err := r.db.QueryRowContext(ctx, query, noteID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("error checking collaboration: %w", err)
	}
	return exists, nil
}

func (r *collaborationRepository) GetNoteIDsByUser(ctx context.Context, userID string) ([]string, error) {
	query := `SELECT note_id FROM collaborations WHERE user_id = $1`
	result, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("error querying collaborations: %w", err)
	}
	defer result.Close()
	ids := []string{}
	for result.Next() {
		var id string
		if err := result.Scan(&id); err != nil {
			return nil, fmt.Errorf("error scanning collaboration: %w", err)
		}
		ids = append(ids, id)
	}
	if err = result.Err(); err != nil {
		return nil, fmt.Errorf("error iterating collaborations: %w", err)
	}
	return ids, nil
}
