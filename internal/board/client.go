package board

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// API is the surface the scheduling core consumes. Every operation is
// request/response against the remote board; failures are retryable I/O
// errors, never fatal to a loop.
type API interface {
	GetProject(ctx context.Context, gid string) (*Project, error)
	GetTasks(ctx context.Context, projectGID string) ([]*Task, error)
	GetTask(ctx context.Context, gid string) (*Task, error)
	UpdateTask(ctx context.Context, gid string, update TaskUpdate) error
	AddComment(ctx context.Context, taskGID, text string) error
	GetSections(ctx context.Context, projectGID string) ([]*Section, error)
	MoveTaskToSection(ctx context.Context, taskGID, projectGID, sectionGID string) error
}

// ErrNotFound reports a task or project that no longer exists on the board.
// Callers treat it as a resolution failure, not a transient error.
var ErrNotFound = errors.New("board entity not found")

// Client talks to the board's REST API with fixed-backoff retries and a
// circuit breaker around the transport
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retryWait  time.Duration
	maxRetries uint64
	breaker    *gobreaker.CircuitBreaker
}

// NewClient creates a board client
func NewClient(baseURL, token string, timeout, retryWait time.Duration) *Client {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "board",
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, ErrNotFound) {
				return true
			}
			return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})

	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		retryWait:  retryWait,
		maxRetries: 3,
		breaker:    cb,
	}
}

// envelope is the board API's {"data": ...} response wrapper
type envelope struct {
	Data json.RawMessage `json:"data"`
}

// do performs one authenticated request with retries. Not-found responses
// are permanent; everything else is retried on the fixed backoff policy.
func (c *Client) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(map[string]any{"data": body})
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
	}

	var data json.RawMessage
	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		result, err := c.breaker.Execute(func() (any, error) {
			return c.doOnce(ctx, method, path, payload)
		})
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return backoff.Permanent(err)
			}
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		data = result.(json.RawMessage)
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryWait), c.maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return data, nil
}

func (c *Client) doOnce(ctx context.Context, method, path string, payload []byte) (json.RawMessage, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling board: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading board response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%s %s: board returned %d: %s", method, path, resp.StatusCode, truncate(string(raw), 200))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decoding board response: %w", err)
	}
	return env.Data, nil
}

// GetProject fetches project metadata
func (c *Client) GetProject(ctx context.Context, gid string) (*Project, error) {
	data, err := c.do(ctx, http.MethodGet, "/projects/"+url.PathEscape(gid), nil)
	if err != nil {
		return nil, err
	}
	var p Project
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decoding project %s: %w", gid, err)
	}
	return &p, nil
}

// GetTasks fetches all incomplete tasks for a project. Tasks that fail to
// parse are skipped by the caller, not here; a single bad payload fails
// loudly so the reconciler can log and continue.
func (c *Client) GetTasks(ctx context.Context, projectGID string) ([]*Task, error) {
	data, err := c.do(ctx, http.MethodGet,
		"/projects/"+url.PathEscape(projectGID)+"/tasks?completed_since=now", nil)
	if err != nil {
		return nil, err
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding task list: %w", err)
	}

	tasks := make([]*Task, 0, len(raw))
	for _, r := range raw {
		t, err := parseTask(r)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// GetTask fetches a single task
func (c *Client) GetTask(ctx context.Context, gid string) (*Task, error) {
	data, err := c.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(gid), nil)
	if err != nil {
		return nil, err
	}
	return parseTask(data)
}

// UpdateTask writes mutable task fields back to the board
func (c *Client) UpdateTask(ctx context.Context, gid string, update TaskUpdate) error {
	_, err := c.do(ctx, http.MethodPut, "/tasks/"+url.PathEscape(gid), update)
	return err
}

// AddComment posts a comment on a task
func (c *Client) AddComment(ctx context.Context, taskGID, text string) error {
	_, err := c.do(ctx, http.MethodPost, "/tasks/"+url.PathEscape(taskGID)+"/stories",
		map[string]string{"text": text})
	return err
}

// GetSections lists a project's sections
func (c *Client) GetSections(ctx context.Context, projectGID string) ([]*Section, error) {
	data, err := c.do(ctx, http.MethodGet,
		"/projects/"+url.PathEscape(projectGID)+"/sections", nil)
	if err != nil {
		return nil, err
	}
	var sections []*Section
	if err := json.Unmarshal(data, &sections); err != nil {
		return nil, fmt.Errorf("decoding sections: %w", err)
	}
	return sections, nil
}

// MoveTaskToSection moves a task into a section
func (c *Client) MoveTaskToSection(ctx context.Context, taskGID, projectGID, sectionGID string) error {
	_, err := c.do(ctx, http.MethodPost,
		"/sections/"+url.PathEscape(sectionGID)+"/addTask",
		map[string]string{"task": taskGID, "project": projectGID})
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
