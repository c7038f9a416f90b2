package audit

import (
	"time"

	id "trustgate/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with legal/regulatory significance.
	// These require tamper-proof storage and long retention.
	// Examples: reviewer decisions, resubmissions after rejection.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to security monitoring.
	// Examples: tamper detections, repeated face-match failures.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers events useful for debugging and operational
	// visibility. These can be sampled or aggregated with shorter retention.
	// Examples: asset uploads, analysis completions, claim churn.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	RequestID id.RequestID
	SubjectID id.SubjectID
	// ActorID identifies who performed the action: the reviewer ID for
	// decisions, the subject ID for submissions, or "system" for automated
	// transitions such as claim expiry.
	ActorID string
	Action  string
	Outcome string
	Reason  string
	// CorrelationID is the HTTP request ID when the event originated from an
	// API call.
	CorrelationID string
}

type AuditEvent string

const (
	// Submission events
	EventRequestCreated   AuditEvent = "request_created"
	EventAssetAttached    AuditEvent = "asset_attached"
	EventRequestSubmitted AuditEvent = "request_submitted"

	// Analysis events
	EventAnalysisCompleted AuditEvent = "analysis_completed"
	EventAnalysisDegraded  AuditEvent = "analysis_degraded"
	EventTamperDetected    AuditEvent = "tamper_detected"
	EventFaceMatchFailed   AuditEvent = "face_match_failed"

	// Review events
	EventClaimAcquired     AuditEvent = "claim_acquired"
	EventClaimReleased     AuditEvent = "claim_released"
	EventClaimExpired      AuditEvent = "claim_expired"
	EventReuploadRequested AuditEvent = "reupload_requested"
	EventRequestApproved   AuditEvent = "request_approved"
	EventRequestRejected   AuditEvent = "request_rejected"

	// Resubmission after a terminal rejection creates a brand-new request;
	// the link between the two is recorded here.
	EventResubmissionStarted AuditEvent = "resubmission_started"
)

// eventCategories maps each audit event to its category.
var eventCategories = map[AuditEvent]EventCategory{
	EventRequestCreated:      CategoryOperations,
	EventAssetAttached:       CategoryOperations,
	EventRequestSubmitted:    CategoryCompliance,
	EventAnalysisCompleted:   CategoryOperations,
	EventAnalysisDegraded:    CategoryOperations,
	EventTamperDetected:      CategorySecurity,
	EventFaceMatchFailed:     CategorySecurity,
	EventClaimAcquired:       CategoryOperations,
	EventClaimReleased:       CategoryOperations,
	EventClaimExpired:        CategoryOperations,
	EventReuploadRequested:   CategoryCompliance,
	EventRequestApproved:     CategoryCompliance,
	EventRequestRejected:     CategoryCompliance,
	EventResubmissionStarted: CategoryCompliance,
}

// Category returns the category for an event name, defaulting to
// operations for unknown actions.
func (a AuditEvent) Category() EventCategory {
	if c, ok := eventCategories[a]; ok {
		return c
	}
	return CategoryOperations
}
