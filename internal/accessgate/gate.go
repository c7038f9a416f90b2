// Package accessgate answers capability checks for platform features that
// require a verified identity.
//
// The gate reads the subject's latest verification request on every check.
// Nothing is cached: a rejection or a new submission changes the verdict on
// the very next call, which is the property the rest of the platform relies
// on when it blocks messaging or full-profile views.
package accessgate

import (
	"context"
	"errors"
	"log/slog"

	"trustgate/internal/verification/metrics"
	"trustgate/internal/verification/models"
	id "trustgate/pkg/domain"
	dErrors "trustgate/pkg/domain-errors"
)

// RequestSource is the read path into the verification store.
type RequestSource interface {
	LatestBySubject(ctx context.Context, subjectID id.SubjectID) (*models.VerificationRequest, error)
}

// Verdict is the outcome of a capability check.
type Verdict struct {
	Allowed    bool
	Capability id.Capability
	// Status is the subject's latest request status, or "none" when the
	// subject never started verification.
	Status string
	// Reason is set on denial.
	Reason string
	// TrustScore is informational; it never drives the verdict.
	TrustScore int
}

// StatusNone is reported for subjects with no verification history.
const StatusNone = "none"

// Reasons returned on denial.
const (
	ReasonNotVerified = "not_verified"
	ReasonRejected    = "verification_rejected"
)

// Gate decides capability access from verification status.
type Gate struct {
	requests RequestSource
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the gate logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) { g.logger = logger }
}

// WithMetrics attaches verification metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// New constructs the access gate.
func New(requests RequestSource, opts ...Option) (*Gate, error) {
	if requests == nil {
		return nil, errors.New("request source is required")
	}
	g := &Gate{
		requests: requests,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

// Authorize checks whether the subject may use the capability. Access is a
// pure function of the latest request's status: approved allows, everything
// else denies. The trust score is reported but never consulted, so a high
// score can never mask an unresolved review.
func (g *Gate) Authorize(ctx context.Context, subjectID id.SubjectID, capability id.Capability) (Verdict, error) {
	latest, err := g.requests.LatestBySubject(ctx, subjectID)
	if err != nil {
		return Verdict{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verification state")
	}

	verdict := Verdict{Capability: capability, Status: StatusNone}
	if latest != nil {
		verdict.Status = string(latest.Status)
		verdict.TrustScore = latest.TrustScore
	}

	switch {
	case latest == nil:
		verdict.Reason = ReasonNotVerified
	case latest.Status == models.StatusApproved:
		verdict.Allowed = true
	case latest.Status == models.StatusRejected:
		verdict.Reason = ReasonRejected
	default:
		verdict.Reason = ReasonNotVerified
	}

	result := "deny"
	if verdict.Allowed {
		result = "allow"
	}
	g.metrics.IncGateVerdict(string(capability), result)
	g.logger.Debug("access gate verdict",
		"subject_id", subjectID.String(),
		"capability", string(capability),
		"result", result,
		"status", verdict.Status,
	)
	return verdict, nil
}
