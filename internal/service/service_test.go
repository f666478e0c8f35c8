package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"notehub/internal/database/models"
	"notehub/internal/database/repositories"
	"notehub/internal/errs"
	"notehub/internal/service"
	"notehub/internal/service/servicetest"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store   *servicetest.Store
	cache   *servicetest.Cache
	collabs *service.CollaborationService
	notes   *service.NoteService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := servicetest.NewStore()
	for _, u := range []string{"alice", "bob", "carol"} {
		store.AddUser(u, u)
	}
	c := servicetest.NewCache()
	collabs := service.NewCollaborationService(store.Collaborations(), store.Notes(), store.Users(), c, time.Minute, zerolog.Nop())
	notes := service.NewNoteService(store.Notes(), store.Search(), collabs, zerolog.Nop())
	return &fixture{store: store, cache: c, collabs: collabs, notes: notes}
}

func (f *fixture) note(t *testing.T, owner string) string {
	t.Helper()
	id, err := f.notes.Create(context.Background(), owner, service.NoteInput{Title: "groceries", Body: "milk", Tags: []string{"home"}})
	require.NoError(t, err)
	return id
}

// brokenCollaborators fails every lookup.
type brokenCollaborators struct{}

func (brokenCollaborators) IsCollaborator(context.Context, string, string) (bool, error) {
	return false, errs.New(errs.Persistence, "collaborations unavailable")
}

func (brokenCollaborators) NotesSharedWith(context.Context, string) ([]string, error) {
	return nil, errs.New(errs.Persistence, "collaborations unavailable")
}

func TestOwnerIsAlwaysAllowed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	noteID := f.note(t, "alice")
	f.cache.SetDown(true)

	d, err := f.notes.Decide(ctx, noteID, "alice")
	require.NoError(t, err)
	assert.Equal(t, service.Decision{Allowed: true, Reason: service.ReasonOwner}, d)
	assert.Zero(t, f.cache.Gets)
	assert.Zero(t, f.store.ExistsCalls)

	isolated := service.NewNoteService(f.store.Notes(), f.store.Search(), brokenCollaborators{}, zerolog.Nop())
	assert.NoError(t, isolated.Authorize(ctx, noteID, "alice"))
	assert.True(t, errors.Is(isolated.Authorize(ctx, noteID, "bob"), errs.Persistence))
}

func TestStrangerIsDenied(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	noteID := f.note(t, "alice")

	d, err := f.notes.Decide(ctx, noteID, "bob")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, service.ReasonNoGrant, d.Reason)

	err = f.notes.Authorize(ctx, noteID, "bob")
	assert.True(t, errors.Is(err, errs.Authorization))
	_, err = f.notes.GetFor(ctx, noteID, "bob")
	assert.True(t, errors.Is(err, errs.Authorization))
}

func TestMissingNoteIsNotFoundForEveryone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for _, user := range []string{"alice", "bob", "nobody"} {
		err := f.notes.Authorize(ctx, "note-missing", user)
		assert.True(t, errors.Is(err, errs.NotFound), user)
		assert.False(t, errors.Is(err, errs.Authorization), user)
	}
	assert.True(t, errors.Is(f.notes.VerifyOwner(ctx, "note-missing", "alice"), errs.NotFound))
}

func TestAddCollaboratorClearsNegativeEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	noteID := f.note(t, "alice")
	key := service.CacheKey(noteID, "bob")

	ok, err := f.collabs.IsCollaborator(ctx, noteID, "bob")
	require.NoError(t, err)
	require.False(t, ok)
	v, cached := f.cache.Peek(key)
	require.True(t, cached)
	require.Equal(t, "0", v)

	id, err := f.collabs.Add(ctx, noteID, "bob")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	_, cached = f.cache.Peek(key)
	assert.False(t, cached)

	ok, err = f.collabs.IsCollaborator(ctx, noteID, "bob")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, f.notes.Authorize(ctx, noteID, "bob"))

	d, err := f.notes.Decide(ctx, noteID, "bob")
	require.NoError(t, err)
	assert.Equal(t, service.ReasonCollaborator, d.Reason)
}

func TestRemoveCollaboratorClearsPositiveEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	noteID := f.note(t, "alice")

	_, err := f.collabs.Add(ctx, noteID, "bob")
	require.NoError(t, err)
	ok, err := f.collabs.IsCollaborator(ctx, noteID, "bob")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.collabs.Remove(ctx, noteID, "bob"))

	ok, err = f.collabs.IsCollaborator(ctx, noteID, "bob")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAddCollaboratorTwice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	noteID := f.note(t, "alice")

	_, err := f.collabs.Add(ctx, noteID, "bob")
	require.NoError(t, err)
	_, err = f.collabs.Add(ctx, noteID, "bob")
	assert.True(t, errors.Is(err, errs.Invariant))

	ok, err := f.collabs.IsCollaborator(ctx, noteID, "bob")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAddCollaboratorRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	noteID := f.note(t, "alice")

	_, err := f.collabs.Add(ctx, noteID, "alice")
	assert.True(t, errors.Is(err, errs.Invariant), "self grant")

	_, err = f.collabs.Add(ctx, noteID, "ghost")
	assert.True(t, errors.Is(err, errs.Invariant), "unknown user")

	_, err = f.collabs.Add(ctx, "note-missing", "bob")
	assert.True(t, errors.Is(err, errs.NotFound), "unknown note")

	assert.False(t, f.store.HasGrant(noteID, "alice"))
	assert.False(t, f.store.HasGrant(noteID, "ghost"))
}

func TestRemoveMissingGrant(t *testing.T) {
	f := newFixture(t)
	noteID := f.note(t, "alice")

	err := f.collabs.Remove(context.Background(), noteID, "bob")
	assert.True(t, errors.Is(err, errs.NotFound))
}

func TestCacheHitSkipsStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	noteID := f.note(t, "alice")
	_, err := f.collabs.Add(ctx, noteID, "bob")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		ok, err := f.collabs.IsCollaborator(ctx, noteID, "bob")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, 1, f.store.ExistsCalls)
}

// pausedExists holds Exists after it has read the store until released.
type pausedExists struct {
	repositories.CollaborationRepository
	read    chan struct{}
	release chan struct{}
}

func (p *pausedExists) Exists(ctx context.Context, noteID, userID string) (bool, error) {
	ok, err := p.CollaborationRepository.Exists(ctx, noteID, userID)
	p.read <- struct{}{}
	<-p.release
	return ok, err
}

func TestGrantChangeDuringLookupIsNotCachedStale(t *testing.T) {
	tests := []struct {
		name   string
		before bool
		change func(*service.CollaborationService, string) error
	}{
		{
			name: "add",
			change: func(s *service.CollaborationService, noteID string) error {
				_, err := s.Add(context.Background(), noteID, "bob")
				return err
			},
		},
		{
			name:   "remove",
			before: true,
			change: func(s *service.CollaborationService, noteID string) error {
				return s.Remove(context.Background(), noteID, "bob")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			noteID := f.note(t, "alice")
			if tt.before {
				_, err := f.collabs.Add(ctx, noteID, "bob")
				require.NoError(t, err)
			}

			paused := &pausedExists{
				CollaborationRepository: f.store.Collaborations(),
				read:                    make(chan struct{}),
				release:                 make(chan struct{}),
			}
			slow := service.NewCollaborationService(paused, f.store.Notes(), f.store.Users(), f.cache, time.Minute, zerolog.Nop())

			done := make(chan bool)
			go func() {
				ok, err := slow.IsCollaborator(ctx, noteID, "bob")
				assert.NoError(t, err)
				done <- ok
			}()
			<-paused.read
			require.NoError(t, tt.change(f.collabs, noteID))
			close(paused.release)
			assert.Equal(t, tt.before, <-done, "in-flight lookup answers from its own read")

			_, cached := f.cache.Peek(service.CacheKey(noteID, "bob"))
			assert.False(t, cached)
			ok, err := f.collabs.IsCollaborator(ctx, noteID, "bob")
			require.NoError(t, err)
			assert.Equal(t, !tt.before, ok)
		})
	}
}

func TestCacheUnavailable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	noteID := f.note(t, "alice")
	f.cache.SetDown(true)

	ok, err := f.collabs.IsCollaborator(ctx, noteID, "bob")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, errors.Is(f.notes.Authorize(ctx, noteID, "bob"), errs.Authorization))

	_, err = f.collabs.Add(ctx, noteID, "bob")
	require.NoError(t, err)

	ok, err = f.collabs.IsCollaborator(ctx, noteID, "bob")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, f.notes.Authorize(ctx, noteID, "bob"))

	require.NoError(t, f.collabs.Remove(ctx, noteID, "bob"))
	ok, err = f.collabs.IsCollaborator(ctx, noteID, "bob")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 5, f.store.ExistsCalls)
}

func TestStoreFailureIsPersistenceError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	noteID := f.note(t, "alice")
	f.store.SetErr(errors.New("connection reset"))

	_, err := f.collabs.IsCollaborator(ctx, noteID, "bob")
	assert.True(t, errors.Is(err, errs.Persistence))
	assert.True(t, errors.Is(f.notes.Authorize(ctx, noteID, "alice"), errs.Persistence))
	_, err = f.notes.Create(ctx, "alice", service.NoteInput{Title: "t"})
	assert.True(t, errors.Is(err, errs.Persistence))
	_, err = f.notes.VisibleTo(ctx, "alice")
	assert.True(t, errors.Is(err, errs.Persistence))
}

func TestSharingScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	n1 := f.note(t, "alice")

	_, err := f.collabs.Add(ctx, n1, "bob")
	require.NoError(t, err)

	visible, err := f.notes.VisibleTo(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{n1}, ids(visible))

	require.NoError(t, f.collabs.Remove(ctx, n1, "bob"))

	visible, err = f.notes.VisibleTo(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, visible)
	assert.True(t, errors.Is(f.notes.Authorize(ctx, n1, "bob"), errs.Authorization))
}

func TestVisibleToIsDeduplicated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owned := f.note(t, "alice")
	other := f.note(t, "bob")
	_, err := f.collabs.Add(ctx, other, "alice")
	require.NoError(t, err)
	// A legacy row granting the owner access to their own note.
	require.NoError(t, f.store.Collaborations().Create(ctx, &models.Collaboration{ID: "collab-legacy", NoteID: owned, UserID: "alice"}))

	visible, err := f.notes.VisibleTo(ctx, "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{owned, other}, ids(visible))
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	noteID := f.note(t, "alice")
	_, err := f.collabs.Add(ctx, noteID, "bob")
	require.NoError(t, err)

	title := "errands"
	note, err := f.notes.Update(ctx, noteID, "bob", service.NotePatch{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "errands", note.Title)
	assert.Equal(t, "milk", note.Body)
	assert.Equal(t, []string{"home"}, note.Tags)

	stored, err := f.notes.Get(ctx, noteID)
	require.NoError(t, err)
	assert.Equal(t, "errands", stored.Title)

	_, err = f.notes.Update(ctx, noteID, "carol", service.NotePatch{Title: &title})
	assert.True(t, errors.Is(err, errs.Authorization))
	_, err = f.notes.Update(ctx, "note-missing", "alice", service.NotePatch{})
	assert.True(t, errors.Is(err, errs.NotFound))
}

func TestDeleteIsOwnerOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	noteID := f.note(t, "alice")
	_, err := f.collabs.Add(ctx, noteID, "bob")
	require.NoError(t, err)

	assert.True(t, errors.Is(f.notes.Delete(ctx, noteID, "bob"), errs.Authorization))
	require.NoError(t, f.notes.Delete(ctx, noteID, "alice"))

	_, err = f.notes.Get(ctx, noteID)
	assert.True(t, errors.Is(err, errs.NotFound))
	shared, err := f.collabs.NotesSharedWith(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, shared)
	assert.True(t, errors.Is(f.notes.Delete(ctx, noteID, "alice"), errs.NotFound))
}

func TestSearchRespectsVisibility(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	mine := f.note(t, "alice")
	f.note(t, "carol")

	found, err := f.notes.Search(ctx, "alice", "milk")
	require.NoError(t, err)
	assert.Equal(t, []string{mine}, ids(found))
}

func TestConcurrentLookups(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	noteID := f.note(t, "alice")
	_, err := f.collabs.Add(ctx, noteID, "bob")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errCh := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- f.notes.Authorize(ctx, noteID, "bob")
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		assert.NoError(t, err)
	}
}

func ids(notes []models.Note) []string {
	out := make([]string, 0, len(notes))
	for _, n := range notes {
		out = append(out, n.ID)
	}
	return out
}
