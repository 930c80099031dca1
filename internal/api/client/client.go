// Package client talks to the report mailer API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"time"

	"github.com/reportmailer/internal/models"
)

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient reads REPORTMAILER_API_URL and REPORTMAILER_API_TOKEN. The token
// may be empty when the server runs without authentication.
func NewClient() (*Client, error) {
	baseURL := os.Getenv("REPORTMAILER_API_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return New(baseURL, os.Getenv("REPORTMAILER_API_TOKEN"))
}

func New(baseURL, token string) (*Client, error) {
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %v", err)
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}, nil
}

// Download is a workbook fetched from the server.
type Download struct {
	Filename string
	Data     []byte
}

func (c *Client) GetReport(ctx context.Context, id uint) (*models.Report, error) {
	var r models.Report
	if err := c.get(ctx, fmt.Sprintf("/api/v1/reports/%d", id), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// RunReport enqueues a run and returns the task id. A non-zero queryID runs
// only that query.
func (c *Client) RunReport(ctx context.Context, id, queryID uint) (string, error) {
	query := url.Values{}
	if queryID != 0 {
		query.Set("query_id", fmt.Sprintf("%d", queryID))
	}
	var resp struct {
		TaskID string `json:"task_id"`
	}
	if err := c.send(ctx, http.MethodPost, fmt.Sprintf("/api/v1/reports/%d/run", id), query, nil, &resp); err != nil {
		return "", err
	}
	return resp.TaskID, nil
}

func (c *Client) DownloadReport(ctx context.Context, id uint) (*Download, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/api/v1/reports/%d/download", id), nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read download: %v", err)
	}
	filename := fmt.Sprintf("report_%d.xlsx", id)
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		filename = params["filename"]
	}
	return &Download{Filename: filename, Data: data}, nil
}

func (c *Client) ReportLogs(ctx context.Context, id uint, limit int) ([]models.ReportExecutionLog, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", limit))
	}
	var logs []models.ReportExecutionLog
	if err := c.get(ctx, fmt.Sprintf("/api/v1/reports/%d/logs", id), query, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

func (c *Client) ScheduleReport(ctx context.Context, id uint, spec models.ScheduleSpec) (*models.ScheduleRegistration, error) {
	var reg models.ScheduleRegistration
	if err := c.send(ctx, http.MethodPost, fmt.Sprintf("/api/v1/reports/%d/schedule", id), nil, spec, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

func (c *Client) Unschedule(ctx context.Context, handle uint) error {
	return c.send(ctx, http.MethodDelete, fmt.Sprintf("/api/v1/schedules/%d", handle), nil, nil, nil)
}

func (c *Client) SQLParameters(ctx context.Context, sqlText string) ([]string, error) {
	var resp struct {
		Parameters []string `json:"parameters"`
	}
	body := map[string]string{"sql": sqlText}
	if err := c.send(ctx, http.MethodPost, "/api/v1/sql/parameters", nil, body, &resp); err != nil {
		return nil, err
	}
	return resp.Parameters, nil
}

// TestConnection returns nil when the server reached the connection.
func (c *Client) TestConnection(ctx context.Context, id uint) error {
	return c.send(ctx, http.MethodPost, fmt.Sprintf("/api/v1/connections/%d/test", id), nil, nil, nil)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, v interface{}) error {
	return c.send(ctx, http.MethodGet, endpoint, query, nil, v)
}

func (c *Client) send(ctx context.Context, method, endpoint string, query url.Values, data, v interface{}) error {
	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %v", err)
		}
		body = bytes.NewReader(jsonData)
	}

	resp, err := c.doRequest(ctx, method, endpoint, query, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if v != nil {
		return json.NewDecoder(resp.Body).Decode(v)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Response, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %v", err)
	}
	u.Path = path.Join(u.Path, endpoint)
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %v", err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		var errResp struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Error != "" {
			return nil, fmt.Errorf("API error: %s", errResp.Error)
		}
		return nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	return resp, nil
}
