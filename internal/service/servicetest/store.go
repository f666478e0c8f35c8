// Package servicetest provides in-memory stand-ins for the postgres
// repositories and the cache, for exercising the services without a database.
package servicetest

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"notehub/internal/database/models"
	"notehub/internal/database/repositories"
)

// Store keeps notes, users and grants in memory with the same cascade and
// uniqueness rules as the SQL schema. Setting Err makes every repository
// call fail with it.
type Store struct {
	mu     sync.Mutex
	notes  map[string]models.Note
	users  map[string]models.User
	grants map[[2]string]models.Collaboration

	// ExistsCalls counts collaboration lookups that reached the store.
	ExistsCalls int
	Err         error
}

func NewStore() *Store {
	return &Store{
		notes:  map[string]models.Note{},
		users:  map[string]models.User{},
		grants: map[[2]string]models.Collaboration{},
	}
}

func (s *Store) Notes() repositories.NoteRepository                   { return noteRepo{s} }
func (s *Store) Users() repositories.UserRepository                   { return userRepo{s} }
func (s *Store) Collaborations() repositories.CollaborationRepository { return collabRepo{s} }
func (s *Store) Search() repositories.SearchRepository                { return searchRepo{s} }

// AddUser seeds a user directly.
func (s *Store) AddUser(id, username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = models.User{ID: id, Username: username, Fullname: username, CreatedAt: time.Now()}
}

// HasGrant reports whether the double holds a grant for the pair.
func (s *Store) HasGrant(noteID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.grants[[2]string{noteID, userID}]
	return ok
}

func (s *Store) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Err = err
}

type noteRepo struct{ s *Store }

func (r noteRepo) Create(_ context.Context, note *models.Note) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return r.s.Err
	}
	now := time.Now()
	note.CreatedAt, note.UpdatedAt = now, now
	if note.Tags == nil {
		note.Tags = []string{}
	}
	r.s.notes[note.ID] = *note
	return nil
}

func (r noteRepo) GetByID(_ context.Context, id string) (*models.Note, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return nil, r.s.Err
	}
	note, ok := r.s.notes[id]
	if !ok {
		return nil, repositories.ErrNoteNotFound
	}
	return &note, nil
}

func (r noteRepo) GetByOwner(_ context.Context, owner string) ([]models.Note, error) {
	return r.filter(func(n models.Note) bool { return n.Owner == owner })
}

func (r noteRepo) GetByIDs(_ context.Context, ids []string) ([]models.Note, error) {
	return r.filter(func(n models.Note) bool { return slices.Contains(ids, n.ID) })
}

func (r noteRepo) filter(keep func(models.Note) bool) ([]models.Note, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return nil, r.s.Err
	}
	notes := []models.Note{}
	for _, n := range r.s.notes {
		if keep(n) {
			notes = append(notes, n)
		}
	}
	slices.SortFunc(notes, func(a, b models.Note) int { return b.UpdatedAt.Compare(a.UpdatedAt) })
	return notes, nil
}

func (r noteRepo) Update(_ context.Context, note *models.Note) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return r.s.Err
	}
	stored, ok := r.s.notes[note.ID]
	if !ok {
		return repositories.ErrNoteNotFound
	}
	stored.Title, stored.Body, stored.Tags = note.Title, note.Body, note.Tags
	stored.UpdatedAt = time.Now()
	note.UpdatedAt = stored.UpdatedAt
	r.s.notes[note.ID] = stored
	return nil
}

func (r noteRepo) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return r.s.Err
	}
	if _, ok := r.s.notes[id]; !ok {
		return repositories.ErrNoteNotFound
	}
	delete(r.s.notes, id)
	for k := range r.s.grants {
		if k[0] == id {
			delete(r.s.grants, k)
		}
	}
	return nil
}

type userRepo struct{ s *Store }

func (r userRepo) Create(_ context.Context, user *models.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return r.s.Err
	}
	for _, u := range r.s.users {
		if u.Username == user.Username {
			return repositories.ErrUsernameTaken
		}
	}
	user.CreatedAt = time.Now()
	r.s.users[user.ID] = *user
	return nil
}

func (r userRepo) GetByID(_ context.Context, id string) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return nil, r.s.Err
	}
	u, ok := r.s.users[id]
	if !ok {
		return nil, repositories.ErrUserNotFound
	}
	u.Password = ""
	return &u, nil
}

func (r userRepo) GetByUsername(_ context.Context, username string) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return nil, r.s.Err
	}
	for _, u := range r.s.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, repositories.ErrUserNotFound
}

func (r userRepo) FindByUsername(_ context.Context, prefix string) ([]models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return nil, r.s.Err
	}
	users := []models.User{}
	for _, u := range r.s.users {
		if strings.HasPrefix(strings.ToLower(u.Username), strings.ToLower(prefix)) {
			u.Password = ""
			users = append(users, u)
		}
	}
	slices.SortFunc(users, func(a, b models.User) int { return strings.Compare(a.Username, b.Username) })
	return users, nil
}

type collabRepo struct{ s *Store }

func (r collabRepo) Create(_ context.Context, collab *models.Collaboration) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return r.s.Err
	}
	key := [2]string{collab.NoteID, collab.UserID}
	if _, ok := r.s.grants[key]; ok {
		return repositories.ErrCollaborationExists
	}
	r.s.grants[key] = *collab
	return nil
}

func (r collabRepo) Delete(_ context.Context, noteID, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return r.s.Err
	}
	key := [2]string{noteID, userID}
	if _, ok := r.s.grants[key]; !ok {
		return repositories.ErrCollaborationNotFound
	}
	delete(r.s.grants, key)
	return nil
}

func (r collabRepo) Exists(_ context.Context, noteID, userID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.ExistsCalls++
	if r.s.Err != nil {
		return false, r.s.Err
	}
	_, ok := r.s.grants[[2]string{noteID, userID}]
	return ok, nil
}

func (r collabRepo) GetNoteIDsByUser(_ context.Context, userID string) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return nil, r.s.Err
	}
	ids := []string{}
	for k := range r.s.grants {
		if k[1] == userID {
			ids = append(ids, k[0])
		}
	}
	return ids, nil
}

type searchRepo struct{ s *Store }

// SearchQuery does a case-insensitive substring match on title and body.
func (r searchRepo) SearchQuery(_ context.Context, query string, userID string) (*models.SearchResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return nil, r.s.Err
	}
	q := strings.ToLower(query)
	notes := []models.Note{}
	for _, n := range r.s.notes {
		_, shared := r.s.grants[[2]string{n.ID, userID}]
		if n.Owner != userID && !shared {
			continue
		}
		if strings.Contains(strings.ToLower(n.Title), q) || strings.Contains(strings.ToLower(n.Body), q) {
			notes = append(notes, n)
		}
	}
	return &models.SearchResult{Notes: notes}, nil
}
