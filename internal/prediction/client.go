package prediction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yishak-cs/meal-metrics/internal/models"
	"github.com/yishak-cs/meal-metrics/pkg/logger"
)

const predictPath = "/api/predict"

// maxErrorBody caps how much of a failed response is quoted in the error
const maxErrorBody = 2048

// HTTPClient calls the external meal prediction service
type HTTPClient struct {
	BaseURL    string
	HttpClient *http.Client
	log        *logger.Logger
}

// NewHTTPClient creates a prediction client; timeout bounds each prediction call
func NewHTTPClient(baseURL string, timeout time.Duration, log *logger.Logger) *HTTPClient {
	if log == nil {
		log = logger.NewNop()
	}
	return &HTTPClient{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		HttpClient: &http.Client{Timeout: timeout},
		log:        log.With("service", "PredictionClient"),
	}
}

// RunPrediction posts the configuration payload and decodes the prediction result
func (c *HTTPClient) RunPrediction(ctx context.Context, payload models.ConfigurationPayload) (*models.PredictionResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode configuration payload: %w", err)
	}

	url := c.BaseURL + predictPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create prediction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HttpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call prediction service at %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("prediction service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	var result models.PredictionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode prediction result: %w", err)
	}

	c.log.Debug("prediction received",
		"session", payload.SessionKey,
		"total_passengers", result.TotalPassengers)
	return &result, nil
}
