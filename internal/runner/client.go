package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/opsforge/remedy-engine/internal/cache"
	"github.com/opsforge/remedy-engine/internal/models"
	"github.com/opsforge/remedy-engine/internal/utils"
)

const proceduresCacheKey = "runner:procedures"

// Client wraps the automation runner's (AWX-compatible) job API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	cache      cache.Provider
	catalogTTL time.Duration
}

// NewClient constructs a runner client. The procedure catalog is cached with
// catalogTTL to bound remote calls during bursts of concurrent runs.
func NewClient(baseURL, token string, timeout time.Duration, cacheProvider cache.Provider, catalogTTL time.Duration) *Client {
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if catalogTTL < 0 {
		catalogTTL = 0
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cacheProvider,
		catalogTTL: catalogTTL,
	}
}

// ListProcedures returns the available remediation procedures, served from
// cache when a fresh snapshot exists.
func (c *Client) ListProcedures(ctx context.Context) ([]models.Playbook, error) {
	if c == nil || c.baseURL == "" {
		return nil, utils.NewAppError("runner.ListProcedures", "runner base URL not configured", nil)
	}

	if cached, err := c.cache.Get(ctx, proceduresCacheKey); err == nil {
		var procedures []models.Playbook
		if jsonErr := json.Unmarshal(cached, &procedures); jsonErr == nil {
			return procedures, nil
		}
	}

	var response struct {
		Results []struct {
			ID          json.Number `json:"id"`
			Name        string      `json:"name"`
			Description string      `json:"description"`
		} `json:"results"`
	}
	if err := c.getJSON(ctx, "/api/v2/job_templates/", &response); err != nil {
		return nil, fmt.Errorf("list procedures: %w", err)
	}

	procedures := make([]models.Playbook, 0, len(response.Results))
	for _, jt := range response.Results {
		procedures = append(procedures, models.Playbook{
			ID:          jt.ID.String(),
			Name:        jt.Name,
			Description: jt.Description,
		})
	}

	if payload, err := json.Marshal(procedures); err == nil {
		_ = c.cache.Set(ctx, proceduresCacheKey, payload, c.catalogTTL)
	}
	return procedures, nil
}

// Launch starts a job from the given procedure and returns the job id.
func (c *Client) Launch(ctx context.Context, procedureID string, vars map[string]any) (string, error) {
	if c == nil || c.baseURL == "" {
		return "", utils.NewAppError("runner.Launch", "runner base URL not configured", nil)
	}

	payload := map[string]any{}
	if len(vars) > 0 {
		payload["extra_vars"] = vars
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal launch payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v2/job_templates/%s/launch/", c.baseURL, procedureID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("launch request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("launch returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	var launched struct {
		Job json.Number `json:"job"`
		ID  json.Number `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&launched); err != nil {
		return "", fmt.Errorf("decode launch response: %w", err)
	}
	jobID := launched.Job.String()
	if jobID == "" || jobID == "0" {
		jobID = launched.ID.String()
	}
	if jobID == "" || jobID == "0" {
		return "", fmt.Errorf("launch response missing job id")
	}
	return jobID, nil
}

// JobStatus returns the current status of a job plus its finish time once
// the runner reports one. Unrecognised statuses map to running so the poll
// loop keeps waiting for a terminal answer.
func (c *Client) JobStatus(ctx context.Context, jobID string) (models.JobStatus, *time.Time, error) {
	var details struct {
		Status   string `json:"status"`
		Finished string `json:"finished"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/api/v2/jobs/%s/", jobID), &details); err != nil {
		return "", nil, fmt.Errorf("job status: %w", err)
	}

	status := models.JobStatus(details.Status)
	if !status.Terminal() {
		status = models.JobRunning
	}

	var finishedAt *time.Time
	if details.Finished != "" {
		if t, err := utils.ParseRFC3339(details.Finished); err == nil {
			finishedAt = &t
		}
	}
	return status, finishedAt, nil
}

// JobEvents fetches the first page of job events ordered by creation time.
func (c *Client) JobEvents(ctx context.Context, jobID string) ([]models.JobEvent, error) {
	var response struct {
		Results []struct {
			Event   string    `json:"event"`
			Stdout  string    `json:"stdout"`
			Created time.Time `json:"created"`
		} `json:"results"`
	}
	endpoint := fmt.Sprintf("/api/v2/jobs/%s/events/?order_by=created&page_size=200", jobID)
	if err := c.getJSON(ctx, endpoint, &response); err != nil {
		return nil, fmt.Errorf("job events: %w", err)
	}

	events := make([]models.JobEvent, 0, len(response.Results))
	for _, ev := range response.Results {
		events = append(events, models.JobEvent{
			Event:     ev.Event,
			Message:   ev.Stdout,
			Timestamp: ev.Created,
		})
	}
	return events, nil
}

// CancelJob asks the runner to cancel a running job.
func (c *Client) CancelJob(ctx context.Context, jobID string) error {
	endpoint := fmt.Sprintf("%s/api/v2/jobs/%s/cancel/", c.baseURL, jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cancel request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("cancel returned %s", resp.Status)
	}
	return nil
}

// Ping checks that the runner API root is reachable.
func (c *Client) Ping(ctx context.Context) error {
	var probe map[string]any
	return c.getJSON(ctx, "/api/v2/", &probe)
}

func (c *Client) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}

// getJSON issues a GET with a short retry window for transient transport
// errors and 5xx answers. 4xx answers are permanent.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("runner base URL not configured")
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		c.setHeaders(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("runner returned %s", resp.Status)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("runner returned %s", resp.Status))
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = 5 * time.Second
	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, 2), ctx))
}
