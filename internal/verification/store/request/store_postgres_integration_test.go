//go:build integration

package request_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"trustgate/internal/verification/models"
	"trustgate/internal/verification/store/request"
	id "trustgate/pkg/domain"
	"trustgate/pkg/platform/sentinel"
	"trustgate/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *request.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = request.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	err := s.postgres.TruncateTables(ctx, "verification_requests")
	s.Require().NoError(err)
}

func makeDraft(subjectID id.SubjectID, docType models.DocumentType) *models.VerificationRequest {
	return models.NewVerificationRequest(id.NewRequestID(), subjectID, docType, 30, time.Now())
}

// TestPartialUniqueIndex verifies the one-active-request invariant is
// enforced by the database, not just by application checks.
func (s *PostgresStoreSuite) TestPartialUniqueIndex() {
	ctx := context.Background()
	subjectID := id.SubjectID(uuid.New())

	first := makeDraft(subjectID, models.DocumentNationalID)
	s.Require().NoError(s.store.Create(ctx, first))

	// Second active request for the same pair hits the partial index.
	err := s.store.Create(ctx, makeDraft(subjectID, models.DocumentNationalID))
	s.ErrorIs(err, sentinel.ErrConflict)

	// Different document type is outside the index scope.
	s.NoError(s.store.Create(ctx, makeDraft(subjectID, models.DocumentPassport)))

	// Terminating the first request frees the pair.
	got, err := s.store.Get(ctx, first.ID)
	s.Require().NoError(err)
	got.ApplyRejection("document unreadable", time.Now())
	s.Require().NoError(s.store.Update(ctx, got))

	s.NoError(s.store.Create(ctx, makeDraft(subjectID, models.DocumentNationalID)))
}

// TestConcurrentCreateSingleWinner races many creates for the same pair and
// expects the index to admit exactly one.
func (s *PostgresStoreSuite) TestConcurrentCreateSingleWinner() {
	ctx := context.Background()
	subjectID := id.SubjectID(uuid.New())

	const goroutines = 20
	var wg sync.WaitGroup
	var successCount, conflictCount atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			err := s.store.Create(ctx, makeDraft(subjectID, models.DocumentNationalID))
			if err == nil {
				successCount.Add(1)
			} else if errors.Is(err, sentinel.ErrConflict) {
				conflictCount.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), successCount.Load(), "exactly one create should win")
	s.Equal(int32(goroutines-1), conflictCount.Load(), "the rest should conflict")
}

// TestOptimisticConcurrency verifies the version CAS under racing updates.
func (s *PostgresStoreSuite) TestOptimisticConcurrency() {
	ctx := context.Background()

	req := makeDraft(id.SubjectID(uuid.New()), models.DocumentPassport)
	s.Require().NoError(s.store.Create(ctx, req))

	const goroutines = 20
	var wg sync.WaitGroup
	var successCount, staleCount atomic.Int32

	// Everyone reads the same version, so only one write can land.
	base, err := s.store.Get(ctx, req.ID)
	s.Require().NoError(err)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(score int) {
			defer wg.Done()

			copy := base.Clone()
			copy.RaiseTrustScore(30 + score)
			err := s.store.Update(ctx, copy)
			if err == nil {
				successCount.Add(1)
			} else if errors.Is(err, sentinel.ErrStaleWrite) {
				staleCount.Add(1)
			}
		}(i)
	}
	wg.Wait()

	s.Equal(int32(1), successCount.Load(), "exactly one CAS should land")
	s.Equal(int32(goroutines-1), staleCount.Load())

	final, err := s.store.Get(ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(base.Version+1, final.Version)
}

// TestRecordRoundTrip verifies assets, analysis and decision survive the
// JSONB document column.
func (s *PostgresStoreSuite) TestRecordRoundTrip() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	req := models.NewVerificationRequest(id.NewRequestID(), id.SubjectID(uuid.New()), models.DocumentPassport, 30, now)
	req.Assets = []models.DocumentAsset{
		{
			ID:         id.NewAssetID(),
			Kind:       models.AssetFront,
			BytesRef:   "blob://front-1",
			SizeBytes:  120_000,
			MimeType:   "image/jpeg",
			UploadedAt: now,
		},
		{
			ID:         id.NewAssetID(),
			Kind:       models.AssetSelfie,
			BytesRef:   "blob://selfie-1",
			SizeBytes:  95_000,
			MimeType:   "image/png",
			UploadedAt: now,
		},
	}
	req.Analysis.OCR = &models.OCRFields{
		Name:           "A. Subject",
		DocumentNumber: "PA-0042",
		DetailsMatch:   true,
		RiskScore:      12,
	}
	req.Analysis.Face = &models.FaceMatch{Score: 81}
	risk := 12
	req.RiskScore = &risk

	s.Require().NoError(s.store.Create(ctx, req))

	got, err := s.store.Get(ctx, req.ID)
	s.Require().NoError(err)

	s.Equal(req.ID, got.ID)
	s.Equal(req.SubjectID, got.SubjectID)
	s.Len(got.Assets, 2)
	s.Equal("blob://front-1", got.Assets[0].BytesRef)
	s.Equal(models.AssetSelfie, got.Assets[1].Kind)
	s.Require().NotNil(got.Analysis.OCR)
	s.Equal("PA-0042", got.Analysis.OCR.DocumentNumber)
	s.Require().NotNil(got.Analysis.Face)
	s.Equal(81, got.Analysis.Face.Score)
	s.Require().NotNil(got.RiskScore)
	s.Equal(12, *got.RiskScore)
	s.Nil(got.Decision)
}

// TestFindActiveAndLatest covers the queue and gate lookups.
func (s *PostgresStoreSuite) TestFindActiveAndLatest() {
	ctx := context.Background()
	subjectID := id.SubjectID(uuid.New())

	req := makeDraft(subjectID, models.DocumentNationalID)
	s.Require().NoError(s.store.Create(ctx, req))

	active, err := s.store.FindActive(ctx, subjectID, models.DocumentNationalID)
	s.Require().NoError(err)
	s.Require().NotNil(active)
	s.Equal(req.ID, active.ID)

	none, err := s.store.FindActive(ctx, subjectID, models.DocumentTaxID)
	s.Require().NoError(err)
	s.Nil(none)

	latest, err := s.store.LatestBySubject(ctx, subjectID)
	s.Require().NoError(err)
	s.Require().NotNil(latest)
	s.Equal(req.ID, latest.ID)
}

// TestListByStatus covers the review queue source query.
func (s *PostgresStoreSuite) TestListByStatus() {
	ctx := context.Background()

	submitted := makeDraft(id.SubjectID(uuid.New()), models.DocumentPassport)
	submitted.Status = models.StatusSubmitted
	s.Require().NoError(s.store.Create(ctx, submitted))

	draft := makeDraft(id.SubjectID(uuid.New()), models.DocumentPassport)
	s.Require().NoError(s.store.Create(ctx, draft))

	got, err := s.store.ListByStatus(ctx, models.StatusSubmitted, models.StatusUnderReview)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(submitted.ID, got[0].ID)
}
