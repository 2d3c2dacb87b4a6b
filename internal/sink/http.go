package sink

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/CESNET/Pandda-ADiCT/internal/datapoint"
	"github.com/CESNET/Pandda-ADiCT/internal/logger"
	"github.com/CESNET/Pandda-ADiCT/internal/metrics"
)

const (
	// HTTPRequestTimeout bounds every request to the ADiCT API.
	HTTPRequestTimeout = 10 * time.Second

	// DatapointsPerRequest is the maximum batch size per POST.
	DatapointsPerRequest = 500
)

// HTTPConfig holds the ADiCT API client configuration
type HTTPConfig struct {
	BaseURL string
	Logger  *logger.Logger
}

// HTTPSink posts data-point batches to the ADiCT server
type HTTPSink struct {
	baseURL    string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewHTTPSink creates an ADiCT API client and verifies connectivity by
// requesting the base URL, which must answer 200.
func NewHTTPSink(cfg HTTPConfig) (*HTTPSink, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	s := &HTTPSink{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: HTTPRequestTimeout,
		},
		logger: cfg.Logger,
	}

	resp, err := s.httpClient.Get(s.baseURL + "/")
	if err != nil {
		return nil, fmt.Errorf("test connection to ADiCT API failed: %w", err)
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("test connection to ADiCT API failed, unexpected reply (%d): %s",
			resp.StatusCode, string(body))
	}

	s.logger.Info("ADiCT API client initialized", "base_url", s.baseURL)
	return s, nil
}

// Send posts the data-points in batches. Failed batches are logged and
// dropped; the next tick brings fresh data, so there is no retry.
func (s *HTTPSink) Send(datapoints []datapoint.DataPoint) error {
	for start := 0; start < len(datapoints); start += DatapointsPerRequest {
		end := start + DatapointsPerRequest
		if end > len(datapoints) {
			end = len(datapoints)
		}
		batch := datapoints[start:end]

		if err := s.postBatch(batch); err != nil {
			s.logger.Error("Failed to send datapoints", "count", len(batch), "error", err)
			metrics.DatapointsFailed.Add(float64(len(batch)))
			continue
		}
		s.logger.Debug("Datapoints successfully sent", "count", len(batch))
		metrics.DatapointsSent.Add(float64(len(batch)))
	}
	return nil
}

func (s *HTTPSink) postBatch(batch []datapoint.DataPoint) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to encode datapoints: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, s.baseURL+"/datapoints", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1000))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// Close releases idle connections.
func (s *HTTPSink) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}
