package predict

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"witlab/internal/logging"
)

// metricKeys are stripped from generated formulas before they reach the user.
var metricKeys = map[string]bool{"PCE": true, "FF": true, "Voc": true, "Jsc": true}

// DPOSuffix is appended to the DPO service reply.
const DPOSuffix = " (results are saved to results.txt)"

// ResultsFile is the DPO output file name under the storage base folder.
const ResultsFile = "results.txt"

// Field is one key of a generated formula.
type Field struct {
	Key   string
	Value interface{}
}

// Formula is a generated formula with its keys in service order.
type Formula []Field

// Get returns the value of key.
func (f Formula) Get(key string) (interface{}, bool) {
	for _, fld := range f {
		if fld.Key == key {
			return fld.Value, true
		}
	}
	return nil, false
}

// MarshalJSON writes the formula as an object in key order.
func (f Formula) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, fld := range f {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(fld.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(fld.Value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", fld.Key, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object keeping key order.
func (f *Formula) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("generated formula must be a JSON object")
	}
	out := Formula{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		var v interface{}
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		out = append(out, Field{Key: key, Value: v})
	}
	*f = out
	_, err = dec.Token()
	return err
}

// WithoutMetrics drops PCE, FF, Voc and Jsc.
func (f Formula) WithoutMetrics() Formula {
	out := make(Formula, 0, len(f))
	for _, fld := range f {
		if !metricKeys[fld.Key] {
			out = append(out, fld)
		}
	}
	return out
}

// Generator calls the formula generation and DPO recommendation endpoints.
type Generator struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

// NewGenerator creates a generation client.
func NewGenerator(cfg Config) *Generator {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Generator{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout:    cfg.Timeout,
		httpClient: hc,
	}
}

// checkTemplate rejects anything but an existing .json file.
func checkTemplate(path string) error {
	if !strings.EqualFold(filepath.Ext(path), ".json") {
		return fmt.Errorf("%w: %s", ErrNotJSON, path)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("template %s: %w", path, err)
	}
	return nil
}

// Generate uploads template to /upload_generate and asks for size formulas.
// Metric keys are stripped from each returned record.
func (g *Generator) Generate(ctx context.Context, template string, size int) ([]Formula, error) {
	if err := checkTemplate(template); err != nil {
		return nil, err
	}
	if size < 1 {
		size = 1
	}

	ctx, cancel := withDeadline(ctx, g.timeout)
	defer cancel()

	data, err := g.upload(ctx, "/upload_generate", template, map[string]string{"size": strconv.Itoa(size)})
	if err != nil {
		return nil, err
	}

	var raw []Formula
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode generation response: %w", err)
	}
	out := make([]Formula, len(raw))
	for i, f := range raw {
		out[i] = f.WithoutMetrics()
	}
	logging.Predict("generated %d formulas from %s", len(out), filepath.Base(template))
	return out, nil
}

// DPO uploads template to /upload_dpo and returns the reply text verbatim.
func (g *Generator) DPO(ctx context.Context, template string) (string, error) {
	if err := checkTemplate(template); err != nil {
		return "", err
	}

	ctx, cancel := withDeadline(ctx, g.timeout)
	defer cancel()

	data, err := g.upload(ctx, "/upload_dpo", template, nil)
	if err != nil {
		return "", err
	}
	logging.Predict("DPO recommendation received (%d bytes)", len(data))
	return string(data), nil
}

// SaveResults writes text to <dir>/results.txt and returns the path.
func SaveResults(dir, text string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create results directory: %w", err)
	}
	path := filepath.Join(dir, ResultsFile)
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return "", fmt.Errorf("failed to write results: %w", err)
	}
	return path, nil
}

func (g *Generator) upload(ctx context.Context, route, template string, fields map[string]string) ([]byte, error) {
	endpoint := g.baseURL + route

	f, err := os.Open(template)
	if err != nil {
		return nil, fmt.Errorf("failed to open template: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(template))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("failed to read template: %w", err)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		logging.PredictError("POST %s: %v", endpoint, err)
		return nil, fmt.Errorf("an error occurred during the request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	logging.PredictDebug("POST %s -> %d in %v", endpoint, resp.StatusCode, time.Since(start))
	if resp.StatusCode != http.StatusOK {
		return nil, &ServiceError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}
