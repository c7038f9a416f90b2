package request

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"trustgate/internal/verification/models"
	id "trustgate/pkg/domain"
	"trustgate/pkg/platform/sentinel"
	txcontext "trustgate/pkg/platform/tx"
)

// PostgresStore persists verification requests in PostgreSQL.
//
// Schema expectations:
//   - a partial unique index on (subject_id, document_type) filtered to
//     non-terminal statuses backs the one-active-request invariant;
//   - the version column backs optimistic concurrency.
//
// Assets and analysis are stored as JSONB documents; everything the queue
// and the gate filter on (status, risk, timestamps) is a plain column.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed request store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbRunner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) runner(ctx context.Context) dbRunner {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// requestRecord is the JSONB shape for the document part of the row.
type requestRecord struct {
	Assets   []assetRecord   `json:"assets"`
	OCR      *ocrRecord      `json:"ocr,omitempty"`
	Face     *faceRecord     `json:"face,omitempty"`
	Decision *decisionRecord `json:"decision,omitempty"`
}

type assetRecord struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	BytesRef   string    `json:"bytes_ref"`
	SizeBytes  int64     `json:"size_bytes"`
	MimeType   string    `json:"mime_type"`
	UploadedAt time.Time `json:"uploaded_at"`
}

type ocrRecord struct {
	Name           string `json:"name"`
	DocumentNumber string `json:"document_number"`
	DetailsMatch   bool   `json:"details_match"`
	TamperDetected bool   `json:"tamper_detected"`
	RiskScore      int    `json:"risk_score"`
}

type faceRecord struct {
	Score int `json:"score"`
}

type decisionRecord struct {
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	RejectedAt *time.Time `json:"rejected_at,omitempty"`
	Reason     string     `json:"reason,omitempty"`
}

const requestColumns = `
	id, subject_id, document_type, status, trust_score, risk_score,
	manual_review, face_match_failed, ocr_bonus_granted, face_bonus_granted,
	reupload_requested, reviewer_id, record, version, created_at, updated_at
`

func (s *PostgresStore) Create(ctx context.Context, req *models.VerificationRequest) error {
	record, err := marshalRecord(req)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO verification_requests (` + requestColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err = s.runner(ctx).ExecContext(ctx, query,
		uuid.UUID(req.ID),
		uuid.UUID(req.SubjectID),
		string(req.DocumentType),
		string(req.Status),
		req.TrustScore,
		nullableInt(req.RiskScore),
		req.ManualReview,
		req.FaceMatchFailed,
		req.OCRBonusGranted,
		req.FaceBonusGranted,
		req.ReuploadRequested,
		nullableReviewer(req.ReviewerID),
		record,
		req.Version,
		req.CreatedAt,
		req.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create verification request: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, requestID id.RequestID) (*models.VerificationRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM verification_requests WHERE id = $1`
	req, err := scanRequest(s.runner(ctx).QueryRowContext(ctx, query, uuid.UUID(requestID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get verification request: %w", err)
	}
	return req, nil
}

func (s *PostgresStore) Update(ctx context.Context, req *models.VerificationRequest) error {
	record, err := marshalRecord(req)
	if err != nil {
		return err
	}

	query := `
		UPDATE verification_requests SET
			status = $3, trust_score = $4, risk_score = $5, manual_review = $6,
			face_match_failed = $7, ocr_bonus_granted = $8, face_bonus_granted = $9,
			reupload_requested = $10, reviewer_id = $11, record = $12,
			version = version + 1, updated_at = $13
		WHERE id = $1 AND version = $2
	`
	result, err := s.runner(ctx).ExecContext(ctx, query,
		uuid.UUID(req.ID),
		req.Version,
		string(req.Status),
		req.TrustScore,
		nullableInt(req.RiskScore),
		req.ManualReview,
		req.FaceMatchFailed,
		req.OCRBonusGranted,
		req.FaceBonusGranted,
		req.ReuploadRequested,
		nullableReviewer(req.ReviewerID),
		record,
		req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update verification request: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update verification request: %w", err)
	}
	if affected == 0 {
		// Distinguish a stale version from a missing row.
		var exists bool
		checkQuery := `SELECT EXISTS (SELECT 1 FROM verification_requests WHERE id = $1)`
		if err := s.runner(ctx).QueryRowContext(ctx, checkQuery, uuid.UUID(req.ID)).Scan(&exists); err != nil {
			return fmt.Errorf("update verification request: %w", err)
		}
		if !exists {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrStaleWrite
	}

	req.Version++
	return nil
}

func (s *PostgresStore) FindActive(ctx context.Context, subjectID id.SubjectID, docType models.DocumentType) (*models.VerificationRequest, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM verification_requests
		WHERE subject_id = $1 AND document_type = $2 AND status NOT IN ('approved', 'rejected')
	`
	req, err := scanRequest(s.runner(ctx).QueryRowContext(ctx, query, uuid.UUID(subjectID), string(docType)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find active verification request: %w", err)
	}
	return req, nil
}

func (s *PostgresStore) LatestBySubject(ctx context.Context, subjectID id.SubjectID) (*models.VerificationRequest, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM verification_requests
		WHERE subject_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	req, err := scanRequest(s.runner(ctx).QueryRowContext(ctx, query, uuid.UUID(subjectID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest verification request by subject: %w", err)
	}
	return req, nil
}

func (s *PostgresStore) ListByStatus(ctx context.Context, statuses ...models.Status) ([]*models.VerificationRequest, error) {
	names := make([]string, len(statuses))
	for i, status := range statuses {
		names[i] = string(status)
	}

	query := `
		SELECT ` + requestColumns + `
		FROM verification_requests
		WHERE status = ANY($1)
		ORDER BY created_at ASC
	`
	rows, err := s.runner(ctx).QueryContext(ctx, query, pq.Array(names))
	if err != nil {
		return nil, fmt.Errorf("list verification requests by status: %w", err)
	}
	defer rows.Close()

	var out []*models.VerificationRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("list verification requests by status: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list verification requests by status: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.VerificationRequest, error) {
	var (
		req        models.VerificationRequest
		reqID      uuid.UUID
		subjectID  uuid.UUID
		docType    string
		status     string
		riskScore  sql.NullInt64
		reviewerID uuid.NullUUID
		record     []byte
	)
	if err := row.Scan(
		&reqID,
		&subjectID,
		&docType,
		&status,
		&req.TrustScore,
		&riskScore,
		&req.ManualReview,
		&req.FaceMatchFailed,
		&req.OCRBonusGranted,
		&req.FaceBonusGranted,
		&req.ReuploadRequested,
		&reviewerID,
		&record,
		&req.Version,
		&req.CreatedAt,
		&req.UpdatedAt,
	); err != nil {
		return nil, err
	}

	req.ID = id.RequestID(reqID)
	req.SubjectID = id.SubjectID(subjectID)
	req.DocumentType = models.DocumentType(docType)
	req.Status = models.Status(status)
	if riskScore.Valid {
		risk := int(riskScore.Int64)
		req.RiskScore = &risk
	}
	if reviewerID.Valid {
		reviewer := id.ReviewerID(reviewerID.UUID)
		req.ReviewerID = &reviewer
	}

	var doc requestRecord
	if err := json.Unmarshal(record, &doc); err != nil {
		return nil, fmt.Errorf("decode request record: %w", err)
	}
	for _, a := range doc.Assets {
		assetID, err := id.ParseAssetID(a.ID)
		if err != nil {
			return nil, fmt.Errorf("decode asset id: %w", err)
		}
		req.Assets = append(req.Assets, models.DocumentAsset{
			ID:         assetID,
			Kind:       models.AssetKind(a.Kind),
			BytesRef:   a.BytesRef,
			SizeBytes:  a.SizeBytes,
			MimeType:   a.MimeType,
			UploadedAt: a.UploadedAt,
		})
	}
	if doc.OCR != nil {
		req.Analysis.OCR = &models.OCRFields{
			Name:           doc.OCR.Name,
			DocumentNumber: doc.OCR.DocumentNumber,
			DetailsMatch:   doc.OCR.DetailsMatch,
			TamperDetected: doc.OCR.TamperDetected,
			RiskScore:      doc.OCR.RiskScore,
		}
	}
	if doc.Face != nil {
		req.Analysis.Face = &models.FaceMatch{Score: doc.Face.Score}
	}
	if doc.Decision != nil {
		req.Decision = &models.Decision{
			ApprovedAt: doc.Decision.ApprovedAt,
			RejectedAt: doc.Decision.RejectedAt,
			Reason:     doc.Decision.Reason,
		}
	}
	return &req, nil
}

func marshalRecord(req *models.VerificationRequest) ([]byte, error) {
	doc := requestRecord{}
	for _, a := range req.Assets {
		doc.Assets = append(doc.Assets, assetRecord{
			ID:         a.ID.String(),
			Kind:       string(a.Kind),
			BytesRef:   a.BytesRef,
			SizeBytes:  a.SizeBytes,
			MimeType:   a.MimeType,
			UploadedAt: a.UploadedAt,
		})
	}
	if req.Analysis.OCR != nil {
		doc.OCR = &ocrRecord{
			Name:           req.Analysis.OCR.Name,
			DocumentNumber: req.Analysis.OCR.DocumentNumber,
			DetailsMatch:   req.Analysis.OCR.DetailsMatch,
			TamperDetected: req.Analysis.OCR.TamperDetected,
			RiskScore:      req.Analysis.OCR.RiskScore,
		}
	}
	if req.Analysis.Face != nil {
		doc.Face = &faceRecord{Score: req.Analysis.Face.Score}
	}
	if req.Decision != nil {
		doc.Decision = &decisionRecord{
			ApprovedAt: req.Decision.ApprovedAt,
			RejectedAt: req.Decision.RejectedAt,
			Reason:     req.Decision.Reason,
		}
	}

	record, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode request record: %w", err)
	}
	return record, nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableReviewer(v *id.ReviewerID) any {
	if v == nil {
		return nil
	}
	return uuid.UUID(*v)
}
