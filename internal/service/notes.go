package service

import (
	"context"
	"errors"
	"slices"

	"notehub/internal/database/models"
	"notehub/internal/database/repositories"
	"notehub/internal/errs"
	"notehub/internal/utils"

	"github.com/rs/zerolog"
)

// Collaborators is the part of CollaborationService the note service
// delegates to.
type Collaborators interface {
	IsCollaborator(ctx context.Context, noteID, userID string) (bool, error)
	NotesSharedWith(ctx context.Context, userID string) ([]string, error)
}

type Reason int

const (
	ReasonOwner Reason = iota + 1
	ReasonCollaborator
	ReasonNoGrant
)

func (r Reason) String() string {
	switch r {
	case ReasonOwner:
		return "owner"
	case ReasonCollaborator:
		return "collaborator"
	case ReasonNoGrant:
		return "no grant"
	}
	return "unknown"
}

// Decision is the outcome of an access check on an existing note.
type Decision struct {
	Allowed bool
	Reason  Reason
}

type NoteInput struct {
	Title string
	Body  string
	Tags  []string
}

// NotePatch changes only its non-nil fields.
type NotePatch struct {
	Title *string
	Body  *string
	Tags  *[]string
}

type NoteService struct {
	notes   repositories.NoteRepository
	search  repositories.SearchRepository
	collabs Collaborators
	log     zerolog.Logger
}

func NewNoteService(
	notes repositories.NoteRepository,
	search repositories.SearchRepository,
	collabs Collaborators,
	log zerolog.Logger,
) *NoteService {
	return &NoteService{
		notes:   notes,
		search:  search,
		collabs: collabs,
		log:     log.With().Str("component", "notes").Logger(),
	}
}

func (s *NoteService) Create(ctx context.Context, owner string, in NoteInput) (string, error) {
	note := &models.Note{
		ID:    utils.NewID("note"),
		Title: in.Title,
		Body:  in.Body,
		Tags:  in.Tags,
		Owner: owner,
	}
	if err := s.notes.Create(ctx, note); err != nil {
		return "", errs.Wrap(errs.Persistence, err, "failed to add note")
	}
	s.log.Debug().Str("note", note.ID).Str("owner", owner).Msg("note created")
	return note.ID, nil
}

func (s *NoteService) Get(ctx context.Context, noteID string) (*models.Note, error) {
	note, err := s.notes.GetByID(ctx, noteID)
	if err != nil {
		return nil, noteErr(err, noteID)
	}
	return note, nil
}

// GetFor returns the note if userID may read it.
func (s *NoteService) GetFor(ctx context.Context, noteID, userID string) (*models.Note, error) {
	note, decision, err := s.decide(ctx, noteID, userID)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, denied(noteID)
	}
	return note, nil
}

// VisibleTo returns the notes userID owns or collaborates on, most recently
// updated first.
func (s *NoteService) VisibleTo(ctx context.Context, userID string) ([]models.Note, error) {
	owned, err := s.notes.GetByOwner(ctx, userID)
	if err != nil {
		return nil, errs.Wrap(errs.Persistence, err, "failed to list notes")
	}
	sharedIDs, err := s.collabs.NotesSharedWith(ctx, userID)
	if err != nil {
		return nil, err
	}
	shared, err := s.notes.GetByIDs(ctx, sharedIDs)
	if err != nil {
		return nil, errs.Wrap(errs.Persistence, err, "failed to list shared notes")
	}

	seen := make(map[string]struct{}, len(owned)+len(shared))
	notes := make([]models.Note, 0, len(owned)+len(shared))
	for _, n := range append(append([]models.Note{}, owned...), shared...) {
		if _, ok := seen[n.ID]; ok {
			continue
		}
		seen[n.ID] = struct{}{}
		notes = append(notes, n)
	}
	slices.SortStableFunc(notes, func(a, b models.Note) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return notes, nil
}

func (s *NoteService) Search(ctx context.Context, userID, query string) ([]models.Note, error) {
	result, err := s.search.SearchQuery(ctx, query, userID)
	if err != nil {
		return nil, errs.Wrap(errs.Persistence, err, "failed to search notes")
	}
	return result.Notes, nil
}

func (s *NoteService) Update(ctx context.Context, noteID, userID string, patch NotePatch) (*models.Note, error) {
	note, decision, err := s.decide(ctx, noteID, userID)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, denied(noteID)
	}

	if patch.Title != nil {
		note.Title = *patch.Title
	}
	if patch.Body != nil {
		note.Body = *patch.Body
	}
	if patch.Tags != nil {
		note.Tags = *patch.Tags
	}
	if err := s.notes.Update(ctx, note); err != nil {
		return nil, noteErr(err, noteID)
	}
	return note, nil
}

// Delete removes the note and, through the schema, its grants. Only the
// owner may delete.
func (s *NoteService) Delete(ctx context.Context, noteID, userID string) error {
	if err := s.VerifyOwner(ctx, noteID, userID); err != nil {
		return err
	}
	if err := s.notes.Delete(ctx, noteID); err != nil {
		return noteErr(err, noteID)
	}
	s.log.Debug().Str("note", noteID).Msg("note deleted")
	return nil
}

// Decide resolves whether userID may access noteID. The error is non-nil
// only when the note is missing or a lookup failed; a refusal is reported
// through the Decision.
func (s *NoteService) Decide(ctx context.Context, noteID, userID string) (Decision, error) {
	_, d, err := s.decide(ctx, noteID, userID)
	return d, err
}

// Authorize is Decide with a refusal turned into an errs.Authorization.
func (s *NoteService) Authorize(ctx context.Context, noteID, userID string) error {
	d, err := s.Decide(ctx, noteID, userID)
	if err != nil {
		return err
	}
	if !d.Allowed {
		return denied(noteID)
	}
	return nil
}

// VerifyOwner fails with errs.NotFound for a missing note and
// errs.Authorization when userID is not its owner.
func (s *NoteService) VerifyOwner(ctx context.Context, noteID, userID string) error {
	note, err := s.Get(ctx, noteID)
	if err != nil {
		return err
	}
	if note.Owner != userID {
		return denied(noteID)
	}
	return nil
}

func (s *NoteService) decide(ctx context.Context, noteID, userID string) (*models.Note, Decision, error) {
	note, err := s.Get(ctx, noteID)
	if err != nil {
		return nil, Decision{}, err
	}
	// Owners never depend on the collaboration lookup or its cache.
	if note.Owner == userID {
		return note, Decision{Allowed: true, Reason: ReasonOwner}, nil
	}

	ok, err := s.collabs.IsCollaborator(ctx, noteID, userID)
	if err != nil {
		return nil, Decision{}, err
	}
	if ok {
		return note, Decision{Allowed: true, Reason: ReasonCollaborator}, nil
	}
	s.log.Debug().Str("note", noteID).Str("user", userID).Msg("access denied")
	return note, Decision{Allowed: false, Reason: ReasonNoGrant}, nil
}

func denied(noteID string) error {
	return errs.Forbiddenf("you are not entitled to access note %s", noteID)
}

func noteErr(err error, noteID string) error {
	if errors.Is(err, repositories.ErrNoteNotFound) {
		return errs.NotFoundf("note %s not found", noteID)
	}
	return errs.Wrap(errs.Persistence, err, "failed to access note")
}
