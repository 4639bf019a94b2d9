package drivers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"reelflow/internal/config"
	"reelflow/internal/services"
)

// HTTPDoer describes the HTTP client used by HTTPDriver.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

const (
	userAgent        = "reelflow/0.1.0"
	maxErrorBodySize = 2048
	maxResponseSize  = 1 << 20
)

// HTTPDriver talks to a vendor gateway over JSON:
//
//	POST {base}/jobs       -> {"id": "..."}
//	GET  {base}/jobs/{id}  -> {"status": "...", "url": "...", "error": "..."}
//	GET  {base}/health     -> any 2xx
type HTTPDriver struct {
	name    string
	baseURL string
	apiKey  string
	timeout time.Duration
	client  HTTPDoer
}

// NewHTTPDriver constructs a driver for one vendor. A nil client uses an
// http.Client with the configured timeout.
func NewHTTPDriver(name string, cfg config.Driver, client HTTPDoer) *HTTPDriver {
	timeout := cfg.TimeoutDuration()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPDriver{
		name:    name,
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		timeout: timeout,
		client:  client,
	}
}

type submitResponse struct {
	ID string `json:"id"`
}

type statusResponse struct {
	Status string `json:"status"`
	URL    string `json:"url"`
	Error  string `json:"error"`
}

// Submit creates a vendor job and returns its id.
func (d *HTTPDriver) Submit(ctx context.Context, job Job) (string, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, d.name, "submit", "encode job", err)
	}
	var out submitResponse
	status, err := d.do(ctx, http.MethodPost, "/jobs", body, &out)
	if err != nil {
		return "", err
	}
	if status >= http.StatusMultipleChoices {
		return "", d.statusError("submit", status)
	}
	id := strings.TrimSpace(out.ID)
	if id == "" {
		return "", services.Wrap(services.ErrExternalTool, d.name, "submit", "vendor returned no job id", nil)
	}
	return id, nil
}

// PollStatus asks the vendor about a previously submitted job.
func (d *HTTPDriver) PollStatus(ctx context.Context, externalID string) (PollResult, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return PollResult{State: PollUnknown}, nil
	}
	var out statusResponse
	status, err := d.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(externalID), nil, &out)
	if err != nil {
		return PollResult{}, err
	}
	if status == http.StatusNotFound || status == http.StatusGone {
		return PollResult{State: PollUnknown}, nil
	}
	if status >= http.StatusMultipleChoices {
		return PollResult{}, d.statusError("poll", status)
	}
	return mapStatus(out), nil
}

func mapStatus(resp statusResponse) PollResult {
	switch strings.ToLower(strings.TrimSpace(resp.Status)) {
	case "done", "completed", "complete", "success", "succeeded", "published":
		return PollResult{State: PollDone, ArtifactURL: strings.TrimSpace(resp.URL)}
	case "failed", "error", "fail", "cancelled", "canceled":
		reason := strings.TrimSpace(resp.Error)
		if reason == "" {
			reason = "vendor reported failure"
		}
		return PollResult{State: PollFailed, Reason: reason}
	case "unknown", "expired", "not_found":
		return PollResult{State: PollUnknown}
	default:
		return PollResult{State: PollPending}
	}
}

// HealthCheck probes the vendor health endpoint.
func (d *HTTPDriver) HealthCheck(ctx context.Context) Health {
	if d.baseURL == "" {
		return Unhealthy(d.name, "base_url not configured")
	}
	status, err := d.do(ctx, http.MethodGet, "/health", nil, nil)
	if err != nil {
		return Unhealthy(d.name, err.Error())
	}
	if status >= http.StatusMultipleChoices {
		return Unhealthy(d.name, fmt.Sprintf("health endpoint returned %d", status))
	}
	return Healthy(d.name)
}

func (d *HTTPDriver) do(ctx context.Context, method, path string, body []byte, out any) (int, error) {
	if d.baseURL == "" {
		return 0, services.Wrap(services.ErrConfiguration, d.name, strings.ToLower(method), "base_url not configured", nil)
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, reader)
	if err != nil {
		return 0, services.Wrap(services.ErrConfiguration, d.name, "build request", "invalid request", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if d.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.apiKey)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		marker := services.ErrTransient
		if errors.Is(err, context.DeadlineExceeded) {
			marker = services.ErrTimeout
		}
		return 0, services.Wrap(marker, d.name, strings.ToLower(method)+" "+path, "vendor request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		if msg := strings.TrimSpace(string(snippet)); msg != "" && resp.StatusCode != http.StatusNotFound && resp.StatusCode != http.StatusGone {
			return resp.StatusCode, services.Wrap(markerForStatus(resp.StatusCode), d.name, strings.ToLower(method)+" "+path,
				fmt.Sprintf("vendor returned %d: %s", resp.StatusCode, msg), nil)
		}
		return resp.StatusCode, nil
	}
	if out != nil {
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(out); err != nil {
			return resp.StatusCode, services.Wrap(services.ErrExternalTool, d.name, strings.ToLower(method)+" "+path, "decode response", err)
		}
	}
	return resp.StatusCode, nil
}

func (d *HTTPDriver) statusError(operation string, status int) error {
	return services.Wrap(markerForStatus(status), d.name, operation, fmt.Sprintf("vendor returned %d", status), nil)
}

func markerForStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return services.ErrTransient
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return services.ErrConfiguration
	case status == http.StatusNotFound:
		return services.ErrNotFound
	default:
		return services.ErrValidation
	}
}
