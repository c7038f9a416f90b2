package handler_test

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustgate/internal/accessgate"
	"trustgate/internal/verification/analysis"
	"trustgate/internal/verification/handler"
	"trustgate/internal/verification/service/review"
	"trustgate/internal/verification/service/submission"
	claimstore "trustgate/internal/verification/store/claim"
	requeststore "trustgate/internal/verification/store/request"
	id "trustgate/pkg/domain"
	auditpub "trustgate/pkg/platform/audit/publisher"
	auditmem "trustgate/pkg/platform/audit/store/memory"
	"trustgate/pkg/testutil"
)

const testAdminToken = "test-admin-token"

// stubValidator authenticates any bearer token as the configured subject,
// standing in for the platform token service.
type stubValidator struct {
	subjectID id.SubjectID
}

func (v *stubValidator) ValidateToken(string) (id.SubjectID, error) {
	return v.subjectID, nil
}

// testStack wires the full HTTP surface over in-memory stores and the
// deterministic stub analyzer, mirroring the server wiring.
type testStack struct {
	router    chi.Router
	subjectID id.SubjectID
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	subjectID := id.SubjectID(uuid.New())

	requests := requeststore.NewInMemoryStore()
	claims := claimstore.NewInMemoryStore()
	auditTrail := auditpub.NewPublisher(auditmem.NewInMemoryStore(), auditpub.WithLogger(logger))

	submissionSvc, err := submission.New(requests, analysis.NewStub(),
		submission.WithLogger(logger),
		submission.WithAuditPublisher(auditTrail),
	)
	require.NoError(t, err)

	reviewSvc, err := review.New(requests, claims,
		review.WithLogger(logger),
		review.WithAuditPublisher(auditTrail),
	)
	require.NoError(t, err)

	gate, err := accessgate.New(requests, accessgate.WithLogger(logger))
	require.NoError(t, err)

	validator := &stubValidator{subjectID: subjectID}
	router := chi.NewRouter()
	handler.New(submissionSvc, validator, logger).Register(router)
	handler.NewReview(reviewSvc, auditTrail, testAdminToken, logger).Register(router)
	accessgate.NewHandler(gate, validator, logger).Register(router)

	return &testStack{router: router, subjectID: subjectID}
}

func (s *testStack) asSubject(req *http.Request) *http.Request {
	req.Header.Set("Authorization", "Bearer subject-token")
	return req
}

func (s *testStack) asReviewer(req *http.Request, reviewerID id.ReviewerID) *http.Request {
	req.Header.Set("X-Admin-Token", testAdminToken)
	req.Header.Set("X-Reviewer-ID", reviewerID.String())
	return req
}

type requestResponse struct {
	ID                string   `json:"id"`
	DocumentType      string   `json:"document_type"`
	Status            string   `json:"status"`
	TrustScore        int      `json:"trust_score"`
	ManualReview      bool     `json:"manual_review"`
	FaceMatchFailed   bool     `json:"face_match_failed"`
	ReuploadRequested bool     `json:"reupload_requested"`
	MissingAssets     []string `json:"missing_assets"`
}

type queueResponse struct {
	Queue []struct {
		ID         string `json:"id"`
		SubjectID  string `json:"subject_id"`
		Status     string `json:"status"`
		TrustScore int    `json:"trust_score"`
		RiskScore  *int   `json:"risk_score"`
	} `json:"queue"`
}

type verdictResponse struct {
	Allowed    bool   `json:"allowed"`
	Capability string `json:"capability"`
	Status     string `json:"status"`
	Reason     string `json:"reason"`
	TrustScore int    `json:"trust_score"`
}

func (s *testStack) createDraft(t *testing.T, docType string) requestResponse {
	t.Helper()
	req := s.asSubject(testutil.NewJSONRequest(t, http.MethodPost, "/verification/requests",
		map[string]string{"document_type": docType}))
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatus(t, rr, http.StatusCreated)
	return *testutil.UnmarshalResponse[requestResponse](t, rr)
}

func (s *testStack) attachAsset(t *testing.T, requestID, kind string) requestResponse {
	t.Helper()
	req := s.asSubject(testutil.NewJSONRequest(t, http.MethodPost,
		fmt.Sprintf("/verification/requests/%s/assets", requestID),
		map[string]any{
			"kind":       kind,
			"bytes_ref":  "blob://" + kind + "-" + uuid.NewString(),
			"size_bytes": 200_000,
			"mime_type":  "image/jpeg",
		}))
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatus(t, rr, http.StatusOK)
	return *testutil.UnmarshalResponse[requestResponse](t, rr)
}

func TestSubjectAuthRequired(t *testing.T) {
	stack := newTestStack(t)

	req := testutil.NewJSONRequest(t, http.MethodPost, "/verification/requests",
		map[string]string{"document_type": "passport"})
	rr := testutil.DoRequest(stack.router, req)
	testutil.AssertStatus(t, rr, http.StatusUnauthorized)
}

func TestAdminTokenRequired(t *testing.T) {
	stack := newTestStack(t)

	req := testutil.NewRequest(t, http.MethodGet, "/admin/verification/queue")
	req.Header.Set("X-Admin-Token", "wrong")
	req.Header.Set("X-Reviewer-ID", uuid.NewString())
	rr := testutil.DoRequest(stack.router, req)
	testutil.AssertStatus(t, rr, http.StatusForbidden)
}

func TestCreateRequestValidation(t *testing.T) {
	stack := newTestStack(t)

	t.Run("unknown document type", func(t *testing.T) {
		req := stack.asSubject(testutil.NewJSONRequest(t, http.MethodPost, "/verification/requests",
			map[string]string{"document_type": "library_card"}))
		rr := testutil.DoRequest(stack.router, req)
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "bad_request")
	})

	t.Run("duplicate active request", func(t *testing.T) {
		stack.createDraft(t, "passport")

		req := stack.asSubject(testutil.NewJSONRequest(t, http.MethodPost, "/verification/requests",
			map[string]string{"document_type": "passport"}))
		rr := testutil.DoRequest(stack.router, req)
		testutil.AssertStatusAndError(t, rr, http.StatusConflict, "active_request_exists")
	})
}

// TestFullPipelineOverHTTP drives a passport verification end to end through
// the HTTP surface: draft, uploads, submit, reviewer claim and approval, and
// finally an allowed capability check.
func TestFullPipelineOverHTTP(t *testing.T) {
	stack := newTestStack(t)
	reviewerID := id.ReviewerID(uuid.New())

	draft := stack.createDraft(t, "passport")
	assert.Equal(t, "draft", draft.Status)
	assert.Equal(t, 30, draft.TrustScore)
	assert.ElementsMatch(t, []string{"front", "selfie"}, draft.MissingAssets)

	// The gate denies while verification is in flight.
	req := stack.asSubject(testutil.NewRequest(t, http.MethodGet, "/access/authorize?capability=messaging"))
	rr := testutil.DoRequest(stack.router, req)
	testutil.AssertStatus(t, rr, http.StatusOK)
	verdict := testutil.UnmarshalResponse[verdictResponse](t, rr)
	assert.False(t, verdict.Allowed)
	assert.Equal(t, "not_verified", verdict.Reason)

	// Uploads trigger analysis; the stub analyzer passes both checks.
	state := stack.attachAsset(t, draft.ID, "front")
	assert.Equal(t, 50, state.TrustScore, "OCR bonus lands on front upload")
	state = stack.attachAsset(t, draft.ID, "selfie")
	assert.Equal(t, 80, state.TrustScore, "face bonus lands on selfie upload")
	assert.Empty(t, state.MissingAssets)

	subReq := stack.asSubject(testutil.NewRequest(t, http.MethodPost,
		fmt.Sprintf("/verification/requests/%s/submit", draft.ID)))
	rr = testutil.DoRequest(stack.router, subReq)
	testutil.AssertStatus(t, rr, http.StatusOK)
	submitted := testutil.UnmarshalResponse[requestResponse](t, rr)
	assert.Equal(t, "submitted", submitted.Status)

	// The reviewer sees it on the queue.
	queueReq := stack.asReviewer(testutil.NewRequest(t, http.MethodGet, "/admin/verification/queue"), reviewerID)
	rr = testutil.DoRequest(stack.router, queueReq)
	testutil.AssertStatus(t, rr, http.StatusOK)
	queue := testutil.UnmarshalResponse[queueResponse](t, rr)
	require.Len(t, queue.Queue, 1)
	assert.Equal(t, draft.ID, queue.Queue[0].ID)

	// Claim and approve.
	claimReq := stack.asReviewer(testutil.NewRequest(t, http.MethodPost,
		fmt.Sprintf("/admin/verification/requests/%s/claim", draft.ID)), reviewerID)
	rr = testutil.DoRequest(stack.router, claimReq)
	testutil.AssertStatus(t, rr, http.StatusOK)

	decideReq := stack.asReviewer(testutil.NewJSONRequest(t, http.MethodPost,
		fmt.Sprintf("/admin/verification/requests/%s/decision", draft.ID),
		map[string]any{"approve": true}), reviewerID)
	rr = testutil.DoRequest(stack.router, decideReq)
	testutil.AssertStatus(t, rr, http.StatusOK)

	// Approved: status flows to the subject view and the gate allows.
	statusReq := stack.asSubject(testutil.NewRequest(t, http.MethodGet,
		fmt.Sprintf("/verification/requests/%s", draft.ID)))
	rr = testutil.DoRequest(stack.router, statusReq)
	testutil.AssertStatus(t, rr, http.StatusOK)
	final := testutil.UnmarshalResponse[requestResponse](t, rr)
	assert.Equal(t, "approved", final.Status)
	assert.Equal(t, 100, final.TrustScore)

	req = stack.asSubject(testutil.NewRequest(t, http.MethodGet, "/access/authorize?capability=messaging"))
	rr = testutil.DoRequest(stack.router, req)
	testutil.AssertStatus(t, rr, http.StatusOK)
	verdict = testutil.UnmarshalResponse[verdictResponse](t, rr)
	assert.True(t, verdict.Allowed)
	assert.Equal(t, 100, verdict.TrustScore)

	// The slim progress projection tracks the same state.
	progReq := stack.asSubject(testutil.NewRequest(t, http.MethodGet,
		fmt.Sprintf("/verification/requests/%s/status", draft.ID)))
	rr = testutil.DoRequest(stack.router, progReq)
	testutil.AssertStatus(t, rr, http.StatusOK)
	progress := testutil.UnmarshalResponse[struct {
		Status     string `json:"status"`
		TrustScore int    `json:"trust_score"`
	}](t, rr)
	assert.Equal(t, "approved", progress.Status)
	assert.Equal(t, 100, progress.TrustScore)
}

func TestDecisionRequiresClaim(t *testing.T) {
	stack := newTestStack(t)
	reviewerID := id.ReviewerID(uuid.New())

	draft := stack.createDraft(t, "passport")
	stack.attachAsset(t, draft.ID, "front")
	stack.attachAsset(t, draft.ID, "selfie")

	subReq := stack.asSubject(testutil.NewRequest(t, http.MethodPost,
		fmt.Sprintf("/verification/requests/%s/submit", draft.ID)))
	testutil.AssertStatus(t, testutil.DoRequest(stack.router, subReq), http.StatusOK)

	decideReq := stack.asReviewer(testutil.NewJSONRequest(t, http.MethodPost,
		fmt.Sprintf("/admin/verification/requests/%s/decision", draft.ID),
		map[string]any{"approve": true}), reviewerID)
	rr := testutil.DoRequest(stack.router, decideReq)
	testutil.AssertStatusAndError(t, rr, http.StatusConflict, "conflict")
}

func TestRejectionFlowsToSubject(t *testing.T) {
	stack := newTestStack(t)
	reviewerID := id.ReviewerID(uuid.New())

	draft := stack.createDraft(t, "passport")
	stack.attachAsset(t, draft.ID, "front")
	stack.attachAsset(t, draft.ID, "selfie")

	subReq := stack.asSubject(testutil.NewRequest(t, http.MethodPost,
		fmt.Sprintf("/verification/requests/%s/submit", draft.ID)))
	testutil.AssertStatus(t, testutil.DoRequest(stack.router, subReq), http.StatusOK)

	claimReq := stack.asReviewer(testutil.NewRequest(t, http.MethodPost,
		fmt.Sprintf("/admin/verification/requests/%s/claim", draft.ID)), reviewerID)
	testutil.AssertStatus(t, testutil.DoRequest(stack.router, claimReq), http.StatusOK)

	t.Run("rejection without reason is a bad request", func(t *testing.T) {
		decideReq := stack.asReviewer(testutil.NewJSONRequest(t, http.MethodPost,
			fmt.Sprintf("/admin/verification/requests/%s/decision", draft.ID),
			map[string]any{"approve": false}), reviewerID)
		rr := testutil.DoRequest(stack.router, decideReq)
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "bad_request")
	})

	decideReq := stack.asReviewer(testutil.NewJSONRequest(t, http.MethodPost,
		fmt.Sprintf("/admin/verification/requests/%s/decision", draft.ID),
		map[string]any{"approve": false, "reason": "details do not match"}), reviewerID)
	testutil.AssertStatus(t, testutil.DoRequest(stack.router, decideReq), http.StatusOK)

	// The subject sees the rejection and the gate denies with the rejection
	// reason; a fresh draft for the same document type is allowed.
	req := stack.asSubject(testutil.NewRequest(t, http.MethodGet, "/access/authorize?capability=search"))
	rr := testutil.DoRequest(stack.router, req)
	verdict := testutil.UnmarshalResponse[verdictResponse](t, rr)
	assert.False(t, verdict.Allowed)
	assert.Equal(t, "verification_rejected", verdict.Reason)

	resub := stack.createDraft(t, "passport")
	assert.Equal(t, 30, resub.TrustScore, "resubmission restarts at the base score")
}

func TestAuditTrailEndpoint(t *testing.T) {
	stack := newTestStack(t)
	reviewerID := id.ReviewerID(uuid.New())

	draft := stack.createDraft(t, "passport")
	stack.attachAsset(t, draft.ID, "front")

	auditReq := stack.asReviewer(testutil.NewRequest(t, http.MethodGet,
		"/admin/verification/audit?request_id="+draft.ID), reviewerID)
	rr := testutil.DoRequest(stack.router, auditReq)
	testutil.AssertStatus(t, rr, http.StatusOK)

	type auditPage struct {
		Events []struct {
			Action   string `json:"action"`
			Category string `json:"category"`
		} `json:"events"`
	}
	payload := testutil.UnmarshalResponse[auditPage](t, rr)

	var actions []string
	for _, e := range payload.Events {
		actions = append(actions, e.Action)
	}
	assert.Contains(t, actions, "request_created")
	assert.Contains(t, actions, "asset_attached")
}
