package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"streamcart/internal/core/domain"
	apperrors "streamcart/pkg/errors"
	"streamcart/pkg/tracing"
	"streamcart/pkg/validation"
)

// PredictionClient submits captured frames to the ML inference endpoint as
// multipart uploads.
type PredictionClient struct {
	endpoint string
	http     *http.Client
	logger   *zap.SugaredLogger
}

// NewPredictionClient validates the inference endpoint.
func NewPredictionClient(baseURL string, timeout time.Duration, logger *zap.SugaredLogger) (*PredictionClient, error) {
	if err := validation.ValidateHTTPURL(baseURL); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &PredictionClient{
		endpoint: baseURL + "/api/stream/process-frame",
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
	}, nil
}

// ProcessFrame uploads one JPEG frame and returns the detections matched
// against the seller's catalog.
func (p *PredictionClient) ProcessFrame(ctx context.Context, sellerID string, jpeg []byte) (*domain.FrameResult, error) {
	ctx, span := tracing.StartSpan(ctx, "prediction.process_frame",
		attribute.String("seller_id", sellerID),
		attribute.Int("frame_bytes", len(jpeg)),
	)
	defer span.End()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="frame"; filename="frame.jpg"`)
	header.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "build frame upload")
	}
	if _, err := part.Write(jpeg); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "write frame upload")
	}
	writer.Close()

	endpoint := p.endpoint + "?seller_id=" + url.QueryEscape(sellerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "build frame request")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.http.Do(req)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "submit frame")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := apperrors.NewUnavailable(fmt.Sprintf("inference returned %d", resp.StatusCode))
		tracing.RecordError(span, err)
		return nil, err
	}

	var result domain.FrameResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		tracing.RecordError(span, err)
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "decode inference response")
	}

	p.logger.Debugw("frame processed",
		"seller_id", sellerID,
		"detections", len(result.Detections),
		"predictions", len(result.Predictions),
	)
	return &result, nil
}
