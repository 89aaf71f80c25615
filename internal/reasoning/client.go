package reasoning

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-resty/resty/v2"

	"attune/internal/config"
	"attune/internal/model"
)

// Client calls the externally-hosted reasoning service. Every call carries
// the configured timeout; the classifier treats any error, including
// timeout, as a signal to fall back to rule-based fusion.
type Client struct {
	http   *resty.Client
	logger *slog.Logger
}

func NewClient(cfg config.ReasoningConfig, logger *slog.Logger) *Client {
	rc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetHeader("Content-Type", "application/json")
	return &Client{http: rc, logger: logger}
}

type assessResponse struct {
	Band       string  `json:"band"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale,omitempty"`
}

// Detect submits the full contextual request and returns the service's band
// and confidence.
func (c *Client) Detect(ctx context.Context, req model.ReasoningRequest) (model.Band, float64, error) {
	var out assessResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/v1/arousal/assess")
	if err != nil {
		return 0, 0, fmt.Errorf("reasoning request: %w", err)
	}
	if resp.IsError() {
		return 0, 0, fmt.Errorf("reasoning service returned %s", resp.Status())
	}
	band, err := model.ParseBand(out.Band)
	if err != nil {
		return 0, 0, fmt.Errorf("reasoning response: %w", err)
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return 0, 0, fmt.Errorf("reasoning confidence out of range: %v", out.Confidence)
	}
	if c.logger != nil {
		c.logger.Debug("external reasoning result",
			"band", band.String(),
			"confidence", out.Confidence,
		)
	}
	return band, out.Confidence, nil
}
