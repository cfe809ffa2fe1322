// Package predict talks to the remote perovskite model services: /predict for
// PCE/FF/Voc/Jsc estimates, /upload_generate and /upload_dpo for formula
// generation. The models themselves are opaque; only the wire contracts live here.
package predict

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"witlab/internal/features"
	"witlab/internal/logging"
)

// Prediction holds the four metrics in the order the service returns them.
type Prediction struct {
	PCE float64 `json:"PCE"`
	FF  float64 `json:"FF"`
	Voc float64 `json:"Voc"`
	Jsc float64 `json:"Jsc"`
}

// Config configures a service client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client calls the prediction service.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient creates a prediction client.
func NewClient(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout:    cfg.Timeout,
		httpClient: hc,
	}
}

// withDeadline applies timeout when ctx carries no deadline of its own.
func withDeadline(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

type predictResponse struct {
	Prediction []float64 `json:"prediction"`
}

// Predict posts rec to {base}/predict and maps the four-element reply onto
// PCE, FF, Voc, Jsc. It never retries.
func (c *Client) Predict(ctx context.Context, rec *features.Record) (*Prediction, error) {
	ctx, cancel := withDeadline(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + "/predict"
	timer := logging.StartTimer(logging.CategoryPredict, "predict")
	pred, err := c.predict(ctx, endpoint, rec)
	elapsed := timer.Stop()
	logging.Audit().Prediction(endpoint, elapsed.Milliseconds(), err)

	if err != nil {
		logging.PredictError("predict failed: %v", err)
		return nil, err
	}
	logging.Predict("prediction: PCE=%.4g FF=%.4g Voc=%.4g Jsc=%.4g", pred.PCE, pred.FF, pred.Voc, pred.Jsc)
	return pred, nil
}

func (c *Client) predict(ctx context.Context, endpoint string, rec *features.Record) (*Prediction, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal feature record: %w", err)
	}
	logging.PredictDebug("POST %s (%d bytes)", endpoint, len(body))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("an error occurred during the request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ServiceError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: string(data)}
	}

	var pr predictResponse
	if err := json.Unmarshal(data, &pr); err != nil {
		return nil, fmt.Errorf("failed to decode prediction response: %w", err)
	}
	if len(pr.Prediction) != 4 {
		return nil, &ShapeError{Got: len(pr.Prediction)}
	}

	return &Prediction{
		PCE: pr.Prediction[0],
		FF:  pr.Prediction[1],
		Voc: pr.Prediction[2],
		Jsc: pr.Prediction[3],
	}, nil
}
