package services

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

	"github.com/trobanga/sisyphus/internal/lib"
	"github.com/trobanga/sisyphus/internal/models"
)

const jiraServiceName = "jira"

// JiraClient creates and annotates analysis tickets through the Jira REST API (v2)
type JiraClient struct {
	config     models.JiraConfig
	httpClient *HTTPClient
	logger     *lib.Logger
}

type jiraIssueRequest struct {
	Fields map[string]any `json:"fields"`
}

type jiraIssueResponse struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

type jiraErrorResponse struct {
	ErrorMessages []string          `json:"errorMessages"`
	Errors        map[string]string `json:"errors"`
}

// NewJiraClient creates a new Jira client with the given configuration
func NewJiraClient(config models.JiraConfig, httpClient *HTTPClient, logger *lib.Logger) *JiraClient {
	return &JiraClient{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
	}
}

// CreateSubtask creates an analysis ticket as a sub-task of the parent (library) ticket
// and returns its key. Ticket creation is never retried: a retry after a lost response
// would open a second ticket
func (c *JiraClient) CreateSubtask(ctx context.Context, parent string, title string) (string, error) {
	if parent == "" {
		return "", lib.ErrInvalidConfig("library jira_ticket", "library has no ticket to attach the analysis to")
	}

	c.logger.Info("Creating analysis ticket", "parent", parent, "summary", title)

	body, err := json.Marshal(jiraIssueRequest{Fields: map[string]any{
		"project":   map[string]string{"key": c.config.Project},
		"summary":   title,
		"issuetype": map[string]string{"name": "Sub-task"},
		"parent":    map[string]string{"key": parent},
	}})
	if err != nil {
		return "", fmt.Errorf("failed to marshal issue: %w", err)
	}

	resp, err := c.send(ctx, http.MethodPost, "/rest/api/2/issue", body, false)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", c.statusError(resp)
	}

	var created jiraIssueResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("failed to decode created issue: %w", err)
	}
	if created.Key == "" {
		return "", lib.ErrServiceBadRequest(jiraServiceName, resp.StatusCode, "created issue has no key")
	}

	c.logger.Info("Created analysis ticket", "ticket", created.Key, "parent", parent)
	return created.Key, nil
}

// UpdateTicket sets fields on an existing ticket. Setting fields is idempotent and retried
func (c *JiraClient) UpdateTicket(ctx context.Context, id string, fields map[string]any) error {
	body, err := json.Marshal(jiraIssueRequest{Fields: fields})
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}

	resp, err := c.send(ctx, http.MethodPut, "/rest/api/2/issue/"+url.PathEscape(id), body, true)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return c.statusError(resp)
	}
	return nil
}

// AddComment posts a comment on a ticket
func (c *JiraClient) AddComment(ctx context.Context, id string, comment string) error {
	body, err := json.Marshal(map[string]string{"body": comment})
	if err != nil {
		return fmt.Errorf("failed to marshal comment: %w", err)
	}

	resp, err := c.send(ctx, http.MethodPost, "/rest/api/2/issue/"+url.PathEscape(id)+"/comment", body, false)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return c.statusError(resp)
	}
	return nil
}

func (c *JiraClient) send(ctx context.Context, method string, path string, body []byte, retry bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.config.URL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.Username != "" {
		req.SetBasicAuth(c.config.Username, c.config.Password)
	}

	resp, err := c.httpClient.Do(req, retry)
	if err != nil {
		if lib.IsNetworkError(err) {
			return nil, lib.ErrNetworkUnreachable(c.config.URL, err)
		}
		return nil, err
	}
	return resp, nil
}

func (c *JiraClient) statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	message := strings.TrimSpace(string(data))
	var parsed jiraErrorResponse
	if json.Unmarshal(data, &parsed) == nil {
		var parts []string
		parts = append(parts, parsed.ErrorMessages...)
		for field, msg := range parsed.Errors {
			parts = append(parts, field+": "+msg)
		}
		if len(parts) > 0 {
			message = strings.Join(parts, "; ")
		}
	}

	if lib.IsTransientHTTPStatus(resp.StatusCode) {
		return lib.ErrServiceUnavailable(jiraServiceName, resp.StatusCode, errors.New(message))
	}
	return lib.ErrServiceBadRequest(jiraServiceName, resp.StatusCode, message)
}

// Ping checks that the Jira server answers at all
func (c *JiraClient) Ping(ctx context.Context) error {
	resp, err := c.httpClient.Head(ctx, strings.TrimRight(c.config.URL, "/")+"/rest/api/2/serverInfo")
	if err != nil {
		return lib.ErrNetworkUnreachable(c.config.URL, err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 500 {
		return lib.ErrServiceUnavailable(jiraServiceName, resp.StatusCode, nil)
	}
	return nil
}
