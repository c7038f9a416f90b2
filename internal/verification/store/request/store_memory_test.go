package request

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustgate/internal/verification/models"
	id "trustgate/pkg/domain"
	"trustgate/pkg/platform/sentinel"
)

func newDraft(subjectID id.SubjectID, docType models.DocumentType) *models.VerificationRequest {
	return models.NewVerificationRequest(id.NewRequestID(), subjectID, docType, 30, time.Now())
}

func TestInMemoryStore_UniquenessInvariant(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	subjectID := id.SubjectID(uuid.New())

	first := newDraft(subjectID, models.DocumentNationalID)
	require.NoError(t, store.Create(ctx, first))

	t.Run("second active request for same pair is rejected", func(t *testing.T) {
		err := store.Create(ctx, newDraft(subjectID, models.DocumentNationalID))
		assert.ErrorIs(t, err, sentinel.ErrConflict)
	})

	t.Run("different document type is allowed", func(t *testing.T) {
		assert.NoError(t, store.Create(ctx, newDraft(subjectID, models.DocumentPassport)))
	})

	t.Run("terminal request frees the pair", func(t *testing.T) {
		got, err := store.Get(ctx, first.ID)
		require.NoError(t, err)
		got.ApplyRejection("document unreadable", time.Now())
		require.NoError(t, store.Update(ctx, got))

		assert.NoError(t, store.Create(ctx, newDraft(subjectID, models.DocumentNationalID)))
	})
}

func TestInMemoryStore_OptimisticVersioning(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	req := newDraft(id.SubjectID(uuid.New()), models.DocumentPassport)
	require.NoError(t, store.Create(ctx, req))

	t.Run("update against stale version fails", func(t *testing.T) {
		a, err := store.Get(ctx, req.ID)
		require.NoError(t, err)
		b, err := store.Get(ctx, req.ID)
		require.NoError(t, err)

		a.RaiseTrustScore(50)
		require.NoError(t, store.Update(ctx, a))

		b.RaiseTrustScore(60)
		assert.ErrorIs(t, store.Update(ctx, b), sentinel.ErrStaleWrite)
	})

	t.Run("retry after refetch succeeds", func(t *testing.T) {
		fresh, err := store.Get(ctx, req.ID)
		require.NoError(t, err)
		fresh.RaiseTrustScore(60)
		assert.NoError(t, store.Update(ctx, fresh))
	})

	t.Run("update of unknown request fails", func(t *testing.T) {
		ghost := newDraft(id.SubjectID(uuid.New()), models.DocumentTaxID)
		assert.ErrorIs(t, store.Update(ctx, ghost), sentinel.ErrNotFound)
	})
}

func TestInMemoryStore_CloneIsolation(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	req := newDraft(id.SubjectID(uuid.New()), models.DocumentPassport)
	require.NoError(t, store.Create(ctx, req))

	got, err := store.Get(ctx, req.ID)
	require.NoError(t, err)
	got.TrustScore = 99

	again, err := store.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, again.TrustScore, "mutating a returned copy must not touch stored state")
}

func TestInMemoryStore_LatestBySubject(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	subjectID := id.SubjectID(uuid.New())

	older := models.NewVerificationRequest(id.NewRequestID(), subjectID, models.DocumentNationalID, 30, time.Now().Add(-time.Hour))
	require.NoError(t, store.Create(ctx, older))

	// Terminate the older request so a second one may be created.
	got, err := store.Get(ctx, older.ID)
	require.NoError(t, err)
	got.ApplyRejection("blurry", time.Now())
	require.NoError(t, store.Update(ctx, got))

	newer := models.NewVerificationRequest(id.NewRequestID(), subjectID, models.DocumentNationalID, 30, time.Now())
	require.NoError(t, store.Create(ctx, newer))

	latest, err := store.LatestBySubject(ctx, subjectID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, newer.ID, latest.ID)

	none, err := store.LatestBySubject(ctx, id.SubjectID(uuid.New()))
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestInMemoryStore_ConcurrentUpdatesSerialized(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	req := newDraft(id.SubjectID(uuid.New()), models.DocumentPassport)
	require.NoError(t, store.Create(ctx, req))

	const goroutines = 50

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for range goroutines {
		go func() {
			defer wg.Done()
			// Read-modify-write with retry on stale version.
			for {
				current, err := store.Get(ctx, req.ID)
				assert.NoError(t, err)
				current.RaiseTrustScore(current.TrustScore + 1)
				err = store.Update(ctx, current)
				if err == nil {
					return
				}
				if !errors.Is(err, sentinel.ErrStaleWrite) {
					assert.NoError(t, err)
					return
				}
			}
		}()
	}
	wg.Wait()

	final, err := store.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(goroutines+1), final.Version, "every write should have bumped the version exactly once")
	assert.LessOrEqual(t, final.TrustScore, 100)
}
