package sdk

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// APIError is returned for any non-2xx answer from the daemon.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("error: %s", e.Message)
	}
	return fmt.Sprintf("API error (%d)", e.Status)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Token() string {
	return c.token
}

func (c *Client) SetToken(token string) {
	c.token = token
}

func readError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

func (c *Client) do(method, path string, body any, target any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, c.baseURL+"/api"+path, bodyReader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readError(resp)
	}
	if target == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if s, ok := target.(*string); ok {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		*s = string(data)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

func (c *Client) get(path string, target any) error {
	return c.do(http.MethodGet, path, nil, target)
}

func (c *Client) post(path string, body any, target any) error {
	return c.do(http.MethodPost, path, body, target)
}

func (c *Client) put(path string, body any) error {
	return c.do(http.MethodPut, path, body, nil)
}

func (c *Client) delete(path string, target any) error {
	return c.do(http.MethodDelete, path, nil, target)
}

// Login exchanges credentials for a token and keeps it on the client.
func (c *Client) Login(username, password string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	payload := map[string]string{"username": username, "password": password}
	if err := c.post("/login", payload, &resp); err != nil {
		return "", err
	}
	c.token = resp.Token
	return resp.Token, nil
}

func (c *Client) Logout() error {
	return c.post("/logout", nil, nil)
}

// GetWebSocketURL maps path onto the ws(s) scheme and appends the token,
// since browsers and most dialers cannot set headers on the upgrade.
func (c *Client) GetWebSocketURL(path string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = "/api" + path
	if c.token != "" {
		q := u.Query()
		q.Set("token", c.token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Client) GetJob(id string) (*Job, error) {
	var job Job
	err := c.get("/jobs/"+url.PathEscape(id), &job)
	return &job, err
}

func (c *Client) CancelJob(id string) error {
	return c.post(fmt.Sprintf("/jobs/%s/cancel", url.PathEscape(id)), nil, nil)
}

// WaitJob polls a job until it reaches a terminal state or timeout passes.
func (c *Client) WaitJob(id string, interval, timeout time.Duration) (*Job, error) {
	deadline := time.Now().Add(timeout)
	for {
		job, err := c.GetJob(id)
		if err != nil {
			return nil, err
		}
		if job.Done() {
			return job, nil
		}
		if time.Now().After(deadline) {
			return job, fmt.Errorf("job %s still %s after %s", id, job.State, timeout)
		}
		time.Sleep(interval)
	}
}

func (c *Client) ListActivities(limit int) ([]Activity, error) {
	var entries []Activity
	err := c.get(fmt.Sprintf("/activities?limit=%d", limit), &entries)
	return entries, err
}

func (c *Client) GetVPSStats() (*VPSStats, error) {
	var stats VPSStats
	err := c.get("/vps/stats", &stats)
	return &stats, err
}

func (c *Client) GetPortRange() (*PortRange, error) {
	var pr PortRange
	err := c.get("/settings/port-range", &pr)
	return &pr, err
}

func (c *Client) SetPortRange(start, end int) error {
	payload := map[string]int{
		"start": start,
		"end":   end,
	}
	return c.put("/settings/port-range", payload)
}
