package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"trustgate/internal/verification/models"
	"trustgate/pkg/platform/circuit"
	"trustgate/pkg/platform/sentinel"
)

var tracer = otel.Tracer("trustgate/internal/verification/analysis")

// Client calls the analysis service over HTTP. A circuit breaker short-cuts
// calls while the backend is down so uploads degrade fast instead of each
// waiting out the full timeout.
type Client struct {
	http    *resty.Client
	breaker *circuit.Breaker
	logger  *slog.Logger
}

// NewClient builds an analysis client with the given base URL and per-call
// timeout (the reference flow uses 10s).
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &Client{
		http:    httpClient,
		breaker: circuit.New("analysis", circuit.WithFailureThreshold(5), circuit.WithSuccessThreshold(2)),
		logger:  logger,
	}
}

type documentPayload struct {
	DocumentType string `json:"document_type"`
	AssetKind    string `json:"asset_kind"`
	AssetRef     string `json:"asset_bytes_ref"`
}

type documentResponse struct {
	OCRName           string `json:"ocr_name"`
	OCRDocumentNumber string `json:"ocr_document_number"`
	DetailsMatch      bool   `json:"details_match"`
	TamperDetected    bool   `json:"tamper_detected"`
	RiskScore         int    `json:"risk_score"`
	Error             string `json:"error,omitempty"`
}

type facePayload struct {
	DocumentType string `json:"document_type"`
	AssetRef     string `json:"asset_bytes_ref"`
	SelfieRef    string `json:"selfie_bytes_ref"`
}

type faceResponse struct {
	FaceMatchScore int    `json:"face_match_score"`
	Error          string `json:"error,omitempty"`
}

// AnalyzeDocument extracts structured fields from a document capture.
func (c *Client) AnalyzeDocument(ctx context.Context, req DocumentRequest) (*models.OCRFields, error) {
	ctx, span := tracer.Start(ctx, "analysis.AnalyzeDocument", trace.WithAttributes(
		attribute.String("document.type", string(req.DocumentType)),
		attribute.String("asset.kind", string(req.AssetKind)),
	))
	defer span.End()

	if c.breaker.IsOpen() {
		return nil, fmt.Errorf("analysis circuit open: %w", sentinel.ErrUnavailable)
	}

	var out documentResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(documentPayload{
			DocumentType: string(req.DocumentType),
			AssetKind:    string(req.AssetKind),
			AssetRef:     req.BytesRef,
		}).
		SetResult(&out).
		Post("/v1/analyze/document")
	if err = c.observe(resp, err, out.Error); err != nil {
		span.RecordError(err)
		return nil, err
	}

	return &models.OCRFields{
		Name:           out.OCRName,
		DocumentNumber: out.OCRDocumentNumber,
		DetailsMatch:   out.DetailsMatch,
		TamperDetected: out.TamperDetected,
		RiskScore:      out.RiskScore,
	}, nil
}

// MatchFace compares a selfie against the document photo.
func (c *Client) MatchFace(ctx context.Context, req FaceMatchRequest) (*models.FaceMatch, error) {
	ctx, span := tracer.Start(ctx, "analysis.MatchFace", trace.WithAttributes(
		attribute.String("document.type", string(req.DocumentType)),
	))
	defer span.End()

	if c.breaker.IsOpen() {
		return nil, fmt.Errorf("analysis circuit open: %w", sentinel.ErrUnavailable)
	}

	var out faceResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(facePayload{
			DocumentType: string(req.DocumentType),
			AssetRef:     req.FrontBytesRef,
			SelfieRef:    req.SelfieBytesRef,
		}).
		SetResult(&out).
		Post("/v1/analyze/face")
	if err = c.observe(resp, err, out.Error); err != nil {
		span.RecordError(err)
		return nil, err
	}

	return &models.FaceMatch{Score: out.FaceMatchScore}, nil
}

// observe folds transport errors, HTTP failures, and in-band errors into a
// single unavailable signal and feeds the circuit breaker.
func (c *Client) observe(resp *resty.Response, err error, inBandError string) error {
	switch {
	case err != nil:
		err = fmt.Errorf("analysis call failed: %w (%w)", err, sentinel.ErrUnavailable)
	case resp != nil && resp.IsError():
		err = fmt.Errorf("analysis returned %d: %w", resp.StatusCode(), sentinel.ErrUnavailable)
	case inBandError != "":
		err = fmt.Errorf("analysis error %q: %w", inBandError, sentinel.ErrUnavailable)
	}

	if err != nil {
		if _, change := c.breaker.RecordFailure(); change.Opened {
			c.logger.Error("analysis circuit opened", "breaker", c.breaker.Name())
		}
		return err
	}
	if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.logger.Info("analysis circuit closed", "breaker", c.breaker.Name())
	}
	return nil
}
