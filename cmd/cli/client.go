package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/statgrid/gridstore-exporter/internal/config"
)

const clientTimeout = 10 * time.Second

// APIClient talks to a running exporter's HTTP API.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

// APIError is a non-2xx response from the exporter.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// NewAPIClient builds a client pointed at the configured listen address.
func NewAPIClient() (*APIClient, error) {
	cfg, err := config.Load(getConfigFilePath())
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	host := cfg.API.ListenAddr
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}

	return &APIClient{
		baseURL:    "http://" + host + ":" + strconv.Itoa(cfg.API.Port),
		httpClient: &http.Client{Timeout: clientTimeout},
		userAgent:  "gridstore-exporter-cli/" + version,
	}, nil
}

// GetJSON fetches path and decodes the response into out.
func (c *APIClient) GetJSON(path string, out interface{}) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.asAPIError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// PutJSON sends payload to path and decodes the response into out.
func (c *APIClient) PutJSON(path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPut, c.baseURL+path, strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.asAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *APIClient) asAPIError(resp *http.Response) error {
	var envelope struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Error == "" {
		envelope.Error = strings.TrimSpace(string(data))
	}
	if envelope.Error == "" {
		envelope.Error = resp.Status
	}
	return &APIError{StatusCode: resp.StatusCode, Message: envelope.Error}
}
