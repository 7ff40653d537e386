package ticket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Incident is the raw ticketing-system record consumed by the poller and
// intake stage.
type Incident struct {
	SysID            string `json:"sys_id"`
	Number           string `json:"number"`
	State            string `json:"state"`
	Severity         string `json:"severity"`
	ShortDescription string `json:"short_description"`
	Description      string `json:"description"`
	Service          string `json:"cmdb_ci"`
}

// Client wraps the incident-tracking system's table API.
type Client struct {
	baseURL    string
	username   string
	password   string
	token      string
	httpClient *http.Client
}

// NewClient constructs a ticketing client. Token auth wins over basic auth
// when both are configured.
func NewClient(baseURL, username, password, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		username:   username,
		password:   password,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// GetIncident fetches one incident by number. Returns nil when absent.
func (c *Client) GetIncident(ctx context.Context, number string) (*Incident, error) {
	query := url.Values{}
	query.Set("number", number)
	query.Set("sysparm_limit", "1")

	incidents, err := c.queryIncidents(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(incidents) == 0 {
		return nil, nil
	}
	return &incidents[0], nil
}

// QueryOpenIncidents returns up to limit incidents in the new state.
func (c *Client) QueryOpenIncidents(ctx context.Context, limit int) ([]Incident, error) {
	if limit <= 0 {
		limit = 10
	}
	query := url.Values{}
	query.Set("sysparm_query", "state=1")
	query.Set("sysparm_limit", fmt.Sprintf("%d", limit))
	query.Set("sysparm_exclude_reference_link", "true")
	return c.queryIncidents(ctx, query)
}

// CloseTicket updates the incident with work notes and a resolution summary
// and moves it to the closed state.
func (c *Client) CloseTicket(ctx context.Context, number, workNotes, resolutionSummary string) error {
	sysID, err := c.resolveSysID(ctx, number)
	if err != nil {
		return err
	}

	payload := map[string]string{
		"work_notes":  workNotes,
		"close_notes": resolutionSummary,
		"close_code":  "Resolved by automated remediation",
		"state":       "7",
	}
	return c.patchIncident(ctx, sysID, payload)
}

// AppendNotes adds work notes to an incident without changing its state.
func (c *Client) AppendNotes(ctx context.Context, number, notes string) error {
	sysID, err := c.resolveSysID(ctx, number)
	if err != nil {
		return err
	}
	return c.patchIncident(ctx, sysID, map[string]string{"work_notes": notes})
}

// Ping checks the ticketing API root.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/now/", nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ticketing system returned %s", resp.Status)
	}
	return nil
}

func (c *Client) resolveSysID(ctx context.Context, number string) (string, error) {
	incident, err := c.GetIncident(ctx, number)
	if err != nil {
		return "", fmt.Errorf("resolve incident %s: %w", number, err)
	}
	if incident == nil || incident.SysID == "" {
		return "", fmt.Errorf("incident %s not found", number)
	}
	return incident.SysID, nil
}

func (c *Client) queryIncidents(ctx context.Context, query url.Values) ([]Incident, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("ticketing base URL not configured")
	}

	endpoint := c.baseURL + "/api/now/table/incident?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ticketing query failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ticketing system returned %s", resp.Status)
	}

	var response struct {
		Result []Incident `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode ticketing response: %w", err)
	}
	return response.Result, nil
}

func (c *Client) patchIncident(ctx context.Context, sysID string, payload map[string]string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/api/now/table/incident/%s", c.baseURL, sysID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ticketing update failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ticketing update returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
		return
	}
	if c.username != "" && c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
}
