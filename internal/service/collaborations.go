package service

import (
	"context"
	"errors"
	"time"

	"notehub/internal/cache"
	"notehub/internal/database/models"
	"notehub/internal/database/repositories"
	"notehub/internal/errs"
	"notehub/internal/utils"

	"github.com/rs/zerolog"
)

// CollaborationService owns collaborator grants and answers membership
// queries through a cache-aside lookup. Both positive and negative answers
// are cached; every grant mutation invalidates the pair's entry after the
// store write returns, which also discards fills still in flight.
type CollaborationService struct {
	collabs repositories.CollaborationRepository
	notes   repositories.NoteRepository
	users   repositories.UserRepository
	cache   cache.Cache
	ttl     time.Duration
	log     zerolog.Logger
}

func NewCollaborationService(
	collabs repositories.CollaborationRepository,
	notes repositories.NoteRepository,
	users repositories.UserRepository,
	c cache.Cache,
	ttl time.Duration,
	log zerolog.Logger,
) *CollaborationService {
	return &CollaborationService{
		collabs: collabs,
		notes:   notes,
		users:   users,
		cache:   c,
		ttl:     ttl,
		log:     log.With().Str("component", "collaborations").Logger(),
	}
}

// CacheKey is the cache entry holding whether userID collaborates on noteID.
func CacheKey(noteID, userID string) string {
	return "collaboration:" + noteID + ":" + userID
}

// Add grants userID access to noteID. The caller must already have checked
// that the requester owns the note.
func (s *CollaborationService) Add(ctx context.Context, noteID, userID string) (string, error) {
	note, err := s.notes.GetByID(ctx, noteID)
	if err != nil {
		return "", noteErr(err, noteID)
	}
	if note.Owner == userID {
		return "", errs.Invariantf("the owner of a note cannot be added as its collaborator")
	}
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return "", errs.Invariantf("user %s does not exist", userID)
		}
		return "", errs.Wrap(errs.Persistence, err, "failed to look up user")
	}

	collab := &models.Collaboration{ID: utils.NewID("collab"), NoteID: noteID, UserID: userID}
	err = s.collabs.Create(ctx, collab)
	if errors.Is(err, repositories.ErrCollaborationExists) {
		s.invalidate(ctx, noteID, userID)
		return "", errs.Invariantf("user %s is already a collaborator", userID)
	}
	if err != nil {
		return "", errs.Wrap(errs.Persistence, err, "failed to add collaborator")
	}
	s.invalidate(ctx, noteID, userID)

	s.log.Info().Str("note", noteID).Str("user", userID).Msg("collaborator added")
	return collab.ID, nil
}

func (s *CollaborationService) Remove(ctx context.Context, noteID, userID string) error {
	err := s.collabs.Delete(ctx, noteID, userID)
	if errors.Is(err, repositories.ErrCollaborationNotFound) {
		return errs.NotFoundf("collaboration not found")
	}
	if err != nil {
		return errs.Wrap(errs.Persistence, err, "failed to remove collaborator")
	}
	s.invalidate(ctx, noteID, userID)

	s.log.Info().Str("note", noteID).Str("user", userID).Msg("collaborator removed")
	return nil
}

// IsCollaborator reports whether a grant exists for the pair. A cache hit
// never reaches the store; a miss is answered by the store and then cached
// unless the pair was invalidated while the store was being read.
func (s *CollaborationService) IsCollaborator(ctx context.Context, noteID, userID string) (bool, error) {
	key := CacheKey(noteID, userID)
	if v, ok := s.cache.Get(ctx, key); ok {
		return v == "1", nil
	}
	gen, genErr := s.cache.Generation(ctx, key)

	exists, err := s.collabs.Exists(ctx, noteID, userID)
	if err != nil {
		return false, errs.Wrap(errs.Persistence, err, "failed to verify collaborator")
	}
	if genErr != nil {
		s.log.Warn().Err(genErr).Str("key", key).Msg("cache generation unavailable, not caching lookup")
		return exists, nil
	}

	value := "0"
	if exists {
		value = "1"
	}
	stored, err := s.cache.Fill(ctx, key, value, gen, s.ttl)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("failed to cache collaboration lookup")
	} else if !stored {
		s.log.Debug().Str("key", key).Msg("collaboration changed during lookup, result not cached")
	}
	return exists, nil
}

// NotesSharedWith lists the ids of notes userID collaborates on. It always
// reads the store.
func (s *CollaborationService) NotesSharedWith(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.collabs.GetNoteIDsByUser(ctx, userID)
	if err != nil {
		return nil, errs.Wrap(errs.Persistence, err, "failed to list shared notes")
	}
	return ids, nil
}

// invalidate drops the cached answer for the pair. A failure leaves a stale
// entry that expires with its TTL.
func (s *CollaborationService) invalidate(ctx context.Context, noteID, userID string) {
	key := CacheKey(noteID, userID)
	if err := s.cache.Invalidate(ctx, key); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("failed to invalidate collaboration cache")
	}
}
