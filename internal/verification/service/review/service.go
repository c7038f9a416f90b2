// Package review orchestrates the reviewer-facing half of the pipeline: the
// prioritized queue, claim leases, decisions, and reupload requests.
package review

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"trustgate/internal/verification/metrics"
	"trustgate/internal/verification/models"
	"trustgate/internal/verification/trustscore"
	id "trustgate/pkg/domain"
	dErrors "trustgate/pkg/domain-errors"
	audit "trustgate/pkg/platform/audit"
	"trustgate/pkg/platform/sentinel"
	"trustgate/pkg/requestcontext"
)

const (
	// DefaultClaimTTL is how long a reviewer holds a request before the
	// lease lapses and the request returns to the queue.
	DefaultClaimTTL = 10 * time.Minute

	// DefaultHighRiskThreshold is the risk score at or above which a request
	// is prioritized with the unknown-risk cohort.
	DefaultHighRiskThreshold = 70

	staleRetries = 3
)

// RequestStore is the subset of the request store the review flow needs.
type RequestStore interface {
	Get(ctx context.Context, requestID id.RequestID) (*models.VerificationRequest, error)
	Update(ctx context.Context, req *models.VerificationRequest) error
	ListByStatus(ctx context.Context, statuses ...models.Status) ([]*models.VerificationRequest, error)
}

// ClaimStore is the lease store backing reviewer exclusivity.
type ClaimStore interface {
	Acquire(ctx context.Context, requestID id.RequestID, reviewerID id.ReviewerID, ttl time.Duration) (*models.ReviewClaim, error)
	Get(ctx context.Context, requestID id.RequestID) (*models.ReviewClaim, error)
	Release(ctx context.Context, requestID id.RequestID, reviewerID id.ReviewerID) error
}

// AuditPublisher records domain events.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service drives the manual review workflow.
type Service struct {
	requests RequestStore
	claims   ClaimStore
	audit    AuditPublisher
	logger   *slog.Logger
	metrics  *metrics.Metrics

	claimTTL          time.Duration
	highRiskThreshold int
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithAuditPublisher attaches the audit emission path.
func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) { s.audit = publisher }
}

// WithMetrics attaches verification metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClaimTTL overrides the lease duration.
func WithClaimTTL(ttl time.Duration) Option {
	return func(s *Service) { s.claimTTL = ttl }
}

// WithHighRiskThreshold overrides the prioritization cutoff.
func WithHighRiskThreshold(threshold int) Option {
	return func(s *Service) { s.highRiskThreshold = threshold }
}

// New constructs the review service.
func New(requests RequestStore, claims ClaimStore, opts ...Option) (*Service, error) {
	if requests == nil {
		return nil, errors.New("request store is required")
	}
	if claims == nil {
		return nil, errors.New("claim store is required")
	}
	s := &Service{
		requests:          requests,
		claims:            claims,
		logger:            slog.Default(),
		claimTTL:          DefaultClaimTTL,
		highRiskThreshold: DefaultHighRiskThreshold,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// ListQueue returns the requests awaiting review, prioritized. Unknown risk
// (degraded analysis) and high risk sort first, oldest first within each
// band. Under-review requests whose lease has lapsed are reconciled back
// into the queue on the way through, so abandoned claims surface here
// without a background sweeper.
func (s *Service) ListQueue(ctx context.Context) ([]*models.VerificationRequest, error) {
	all, err := s.requests.ListByStatus(ctx, models.StatusSubmitted, models.StatusUnderReview)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list review queue")
	}

	queue := make([]*models.VerificationRequest, 0, len(all))
	for _, req := range all {
		if req.Status == models.StatusUnderReview {
			reconciled, err := s.reconcileLease(ctx, req)
			if err != nil {
				s.logger.Warn("lease reconciliation failed",
					"request_id", req.ID.String(),
					"error", err,
				)
				continue
			}
			if reconciled == nil {
				// Lease still live; the request stays off the queue.
				continue
			}
			req = reconciled
		}
		queue = append(queue, req)
	}

	sort.SliceStable(queue, func(i, j int) bool {
		pi, pj := s.priorityBand(queue[i]), s.priorityBand(queue[j])
		if pi != pj {
			return pi < pj
		}
		return queue[i].CreatedAt.Before(queue[j].CreatedAt)
	})
	return queue, nil
}

// priorityBand buckets a request for queue ordering. Band 0 is unknown or
// high risk; unknown sorts with high because a request nobody scored cannot
// be assumed safe.
func (s *Service) priorityBand(req *models.VerificationRequest) int {
	if req.RiskScore == nil || *req.RiskScore >= s.highRiskThreshold {
		return 0
	}
	return 1
}

// reconcileLease checks an under-review request's lease and returns it to
// the queue when the lease is gone. Returns the updated request, or nil when
// the lease is still live.
func (s *Service) reconcileLease(ctx context.Context, req *models.VerificationRequest) (*models.VerificationRequest, error) {
	lease, err := s.claims.Get(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if lease != nil {
		return nil, nil
	}

	updated, err := s.mutate(ctx, req.ID, func(r *models.VerificationRequest) error {
		if r.Status != models.StatusUnderReview {
			// Someone else already reconciled or decided it.
			return errAlreadyReconciled
		}
		r.ApplyReturnToQueue(requestcontext.Now(ctx))
		return nil
	})
	if errors.Is(err, errAlreadyReconciled) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	s.emit(ctx, audit.Event{
		RequestID: req.ID,
		SubjectID: req.SubjectID,
		ActorID:   "system",
		Action:    string(audit.EventClaimExpired),
		Reason:    "review lease lapsed",
	})
	s.metrics.IncClaim("expired")
	return updated, nil
}

var errAlreadyReconciled = errors.New("request no longer under review")

// Claim leases a submitted request to the reviewer. The lease is acquired
// first; if the status transition then fails the lease is dropped, so a
// failed claim never wedges the request. An under-review request whose lease
// has lapsed is reconciled and handed to the new reviewer in the same write.
func (s *Service) Claim(ctx context.Context, reviewerID id.ReviewerID, requestID id.RequestID) (*models.VerificationRequest, *models.ReviewClaim, error) {
	lease, err := s.claims.Acquire(ctx, requestID, reviewerID, s.claimTTL)
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			s.metrics.IncClaim("contended")
			return nil, nil, dErrors.New(dErrors.CodeAlreadyClaimed, "request is claimed by another reviewer")
		}
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to acquire review claim")
	}

	var tookOver bool
	req, err := s.mutate(ctx, requestID, func(r *models.VerificationRequest) error {
		tookOver = false
		if r.Status == models.StatusUnderReview {
			if r.ReviewerID != nil && *r.ReviewerID == reviewerID {
				// Re-claim by the holder after a refresh; nothing to change.
				return nil
			}
			// The previous holder's lease must have lapsed, or Acquire would
			// have conflicted. Reconcile and hand over in one write.
			tookOver = true
			r.ApplyReturnToQueue(requestcontext.Now(ctx))
		}
		if err := r.CanClaim(); err != nil {
			return err
		}
		r.ApplyClaim(reviewerID, requestcontext.Now(ctx))
		return nil
	})
	if err != nil {
		if releaseErr := s.claims.Release(ctx, requestID, reviewerID); releaseErr != nil {
			s.logger.Warn("failed to drop lease after claim failure",
				"request_id", requestID.String(),
				"error", releaseErr,
			)
		}
		return nil, nil, err
	}

	if tookOver {
		s.emit(ctx, audit.Event{
			RequestID: requestID,
			SubjectID: req.SubjectID,
			ActorID:   "system",
			Action:    string(audit.EventClaimExpired),
			Reason:    "review lease lapsed",
		})
		s.metrics.IncClaim("expired")
	}
	s.emit(ctx, audit.Event{
		RequestID: requestID,
		SubjectID: req.SubjectID,
		ActorID:   reviewerID.String(),
		Action:    string(audit.EventClaimAcquired),
		Outcome:   "success",
	})
	s.metrics.IncClaim("acquired")
	s.metrics.IncTransition(string(models.StatusUnderReview))
	return req, lease, nil
}

// Decide finalizes a claimed request. Approval raises the trust score once
// more; rejection records the mandatory reason and leaves the score as it
// stands. Either way the request becomes immutable.
func (s *Service) Decide(ctx context.Context, reviewerID id.ReviewerID, requestID id.RequestID, approve bool, reason string) (*models.VerificationRequest, error) {
	if !approve && reason == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "rejection requires a reason")
	}

	if err := s.requireLiveLease(ctx, requestID, reviewerID); err != nil {
		return nil, err
	}

	req, err := s.mutate(ctx, requestID, func(r *models.VerificationRequest) error {
		if err := r.CanDecide(reviewerID); err != nil {
			return err
		}
		now := requestcontext.Now(ctx)
		if approve {
			r.RaiseTrustScore(trustscore.OnApproval(r.TrustScore))
			r.ApplyApproval(now)
		} else {
			r.ApplyRejection(reason, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.claims.Release(ctx, requestID, reviewerID); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		s.logger.Warn("failed to release lease after decision",
			"request_id", requestID.String(),
			"error", err,
		)
	}

	outcome := "rejected"
	action := audit.EventRequestRejected
	if approve {
		outcome = "approved"
		action = audit.EventRequestApproved
	}
	s.emit(ctx, audit.Event{
		RequestID: requestID,
		SubjectID: req.SubjectID,
		ActorID:   reviewerID.String(),
		Action:    string(action),
		Outcome:   outcome,
		Reason:    reason,
	})
	s.metrics.IncDecision(outcome)
	s.metrics.IncTransition(string(req.Status))
	s.metrics.ObserveFinalScore(req.TrustScore)

	s.logger.Info("review decision recorded",
		"request_id", requestID.String(),
		"reviewer_id", reviewerID.String(),
		"outcome", outcome,
		"trust_score", req.TrustScore,
	)
	return req, nil
}

// Release voluntarily returns a claimed request to the queue.
func (s *Service) Release(ctx context.Context, reviewerID id.ReviewerID, requestID id.RequestID) (*models.VerificationRequest, error) {
	req, err := s.mutate(ctx, requestID, func(r *models.VerificationRequest) error {
		if err := r.CanDecide(reviewerID); err != nil {
			return err
		}
		r.ApplyReturnToQueue(requestcontext.Now(ctx))
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.claims.Release(ctx, requestID, reviewerID); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		s.logger.Warn("failed to release lease",
			"request_id", requestID.String(),
			"error", err,
		)
	}

	s.emit(ctx, audit.Event{
		RequestID: requestID,
		SubjectID: req.SubjectID,
		ActorID:   reviewerID.String(),
		Action:    string(audit.EventClaimReleased),
		Outcome:   "success",
	})
	s.metrics.IncClaim("released")
	return req, nil
}

// RequestReupload asks the subject to replace a capture. The request returns
// to the queue flagged for reupload; the subject replaces the asset on this
// same request rather than starting over.
func (s *Service) RequestReupload(ctx context.Context, reviewerID id.ReviewerID, requestID id.RequestID, reason string) (*models.VerificationRequest, error) {
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "reupload request requires a reason")
	}

	req, err := s.mutate(ctx, requestID, func(r *models.VerificationRequest) error {
		if err := r.CanDecide(reviewerID); err != nil {
			return err
		}
		r.ApplyReuploadRequest(requestcontext.Now(ctx))
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.claims.Release(ctx, requestID, reviewerID); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		s.logger.Warn("failed to release lease after reupload request",
			"request_id", requestID.String(),
			"error", err,
		)
	}

	s.emit(ctx, audit.Event{
		RequestID: requestID,
		SubjectID: req.SubjectID,
		ActorID:   reviewerID.String(),
		Action:    string(audit.EventReuploadRequested),
		Reason:    reason,
	})
	return req, nil
}

// requireLiveLease rejects decisions made on a lapsed lease. The request is
// reconciled back to the queue in passing so the next ListQueue shows it.
func (s *Service) requireLiveLease(ctx context.Context, requestID id.RequestID, reviewerID id.ReviewerID) error {
	lease, err := s.claims.Get(ctx, requestID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check review claim")
	}
	if lease == nil {
		req, err := s.requests.Get(ctx, requestID)
		if err == nil && req.Status == models.StatusUnderReview {
			if _, recErr := s.reconcileLease(ctx, req); recErr != nil {
				s.logger.Warn("lease reconciliation failed",
					"request_id", requestID.String(),
					"error", recErr,
				)
			}
		}
		return dErrors.New(dErrors.CodeConflict, "review claim expired; claim the request again")
	}
	if !lease.HeldBy(reviewerID) {
		return dErrors.New(dErrors.CodeNotClaimOwner, "request is claimed by another reviewer")
	}
	return nil
}

// mutate runs a read-validate-apply-write cycle under the store's optimistic
// lock, refetching on version conflicts.
func (s *Service) mutate(ctx context.Context, requestID id.RequestID, apply func(*models.VerificationRequest) error) (*models.VerificationRequest, error) {
	for attempt := 0; ; attempt++ {
		req, err := s.requests.Get(ctx, requestID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return nil, dErrors.New(dErrors.CodeNotFound, "verification request not found")
			}
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verification request")
		}

		if err := apply(req); err != nil {
			return nil, err
		}

		err = s.requests.Update(ctx, req)
		if err == nil {
			return req, nil
		}
		if errors.Is(err, sentinel.ErrStaleWrite) && attempt < staleRetries {
			continue
		}
		if errors.Is(err, sentinel.ErrStaleWrite) {
			return nil, dErrors.New(dErrors.CodeStaleWrite, "request was modified concurrently")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist verification request")
	}
}

// emit writes an audit event, logging failures.
func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.audit == nil {
		return
	}
	event.CorrelationID = requestcontext.RequestID(ctx)
	if err := s.audit.Emit(ctx, event); err != nil {
		s.logger.Error("audit emit failed", "action", event.Action, "error", err)
	}
}
