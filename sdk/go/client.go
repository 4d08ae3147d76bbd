package idsboardsdk

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

// Client is a minimal IDS board HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Headline represents the API headline model.
type Headline struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	CreatedBy   string `json:"created_by"`
	CreatedAt   string `json:"created_at"`
	Status      string `json:"status"`
}

// Issue represents the API issue model.
type Issue struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	CreatedBy   string `json:"created_by"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// Todo represents a deliverable as shown on the todos view.
type Todo struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Description   string `json:"description,omitempty"`
	DueDate       string `json:"due_date"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
	AccountableID string `json:"accountable_id"`
	IssueID       string `json:"issue_id"`
	CreatedBy     string `json:"created_by"`
}

// TodoMutation is a todo plus cascade and audit outcomes.
type TodoMutation struct {
	Todo
	IssueSolved    bool   `json:"issue_solved,omitempty"`
	HistoryWarning string `json:"history_warning,omitempty"`
}

// MyIDS aggregates a user's records for a week.
type MyIDS struct {
	Week      string     `json:"week"`
	Headlines []Headline `json:"headlines"`
	Issues    []Issue    `json:"issues"`
	Todos     []Todo     `json:"todos"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateHeadline creates a headline.
func (c *Client) CreateHeadline(ctx context.Context, title, description string) (Headline, error) {
	body := map[string]any{"title": title}
	if description != "" {
		body["description"] = description
	}
	var resp Headline
	err := c.do(ctx, http.MethodPost, "v0/headlines", body, &resp)
	return resp, err
}

// ListHeadlines returns headlines, optionally scoped to a week token.
func (c *Client) ListHeadlines(ctx context.Context, week string) ([]Headline, error) {
	var resp []Headline
	err := c.do(ctx, http.MethodGet, withWeek("v0/headlines", week), nil, &resp)
	return resp, err
}

// CreateIssue creates an issue.
func (c *Client) CreateIssue(ctx context.Context, title, description string) (Issue, error) {
	body := map[string]any{"title": title}
	if description != "" {
		body["description"] = description
	}
	var resp Issue
	err := c.do(ctx, http.MethodPost, "v0/issues", body, &resp)
	return resp, err
}

// ListIssues returns issues, optionally scoped to a week token.
func (c *Client) ListIssues(ctx context.Context, week string) ([]Issue, error) {
	var resp []Issue
	err := c.do(ctx, http.MethodGet, withWeek("v0/issues", week), nil, &resp)
	return resp, err
}

// SetIssueStatus changes an issue status.
func (c *Client) SetIssueStatus(ctx context.Context, issueID, status string) (Issue, error) {
	var resp Issue
	endpoint := fmt.Sprintf("v0/issues/%s/status", url.PathEscape(issueID))
	err := c.do(ctx, http.MethodPut, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

// AddDeliverable attaches a deliverable to an issue.
func (c *Client) AddDeliverable(ctx context.Context, issueID, title, dueDate, accountableID string) (Todo, error) {
	body := map[string]any{
		"title":    title,
		"due_date": dueDate,
	}
	if accountableID != "" {
		body["accountable_id"] = accountableID
	}
	var resp Todo
	endpoint := fmt.Sprintf("v0/issues/%s/deliverables", url.PathEscape(issueID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ListTodos returns todos, optionally scoped to a week token.
func (c *Client) ListTodos(ctx context.Context, week string) ([]Todo, error) {
	var resp []Todo
	err := c.do(ctx, http.MethodGet, withWeek("v0/todos", week), nil, &resp)
	return resp, err
}

// SetTodoStatus changes a todo status and reports whether the parent
// issue was solved by the change.
func (c *Client) SetTodoStatus(ctx context.Context, todoID, status string) (TodoMutation, error) {
	var resp TodoMutation
	endpoint := fmt.Sprintf("v0/todos/%s/status", url.PathEscape(todoID))
	err := c.do(ctx, http.MethodPut, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

// GetMyIDS returns the caller's aggregate for a week.
func (c *Client) GetMyIDS(ctx context.Context, week string) (MyIDS, error) {
	var resp MyIDS
	err := c.do(ctx, http.MethodGet, withWeek("v0/my/ids", week), nil, &resp)
	return resp, err
}

func withWeek(endpoint, week string) string {
	if week == "" {
		return endpoint
	}
	return endpoint + "?week=" + url.QueryEscape(week)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
