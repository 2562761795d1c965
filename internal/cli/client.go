// Package cli implements voicectl, the operator command line for the voice
// service.
package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spiralogic/oraclevoice/internal/speech/health"
	"github.com/spiralogic/oraclevoice/internal/speech/history"
	"github.com/spiralogic/oraclevoice/internal/speech/queue"
	"github.com/spiralogic/oraclevoice/internal/speech/style"
)

// APIError is a non-2xx response from the service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Event is one server-sent event.
type Event struct {
	ID   string
	Type string
	Data json.RawMessage
}

// Client talks to the voice service REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for baseURL. token is sent as a bearer token
// when non-empty.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var e struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		msg = e.Error
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, dest any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if dest == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

// SubmitResult is returned by Submit.
type SubmitResult struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// Submit queues text for synthesis.
func (c *Client) Submit(ctx context.Context, text, role string, useDefault bool) (SubmitResult, error) {
	var out SubmitResult
	body := map[string]any{"text": text, "role": role}
	if useDefault {
		body["use_default_voice"] = true
	}
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/speech/jobs", body, &out)
	return out, err
}

// Job fetches a job snapshot.
func (c *Client) Job(ctx context.Context, id string) (queue.Job, error) {
	var job queue.Job
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/speech/jobs/"+url.PathEscape(id), nil, &job)
	return job, err
}

// Cancel cancels a queued job.
func (c *Client) Cancel(ctx context.Context, id string) (queue.Job, error) {
	var job queue.Job
	err := c.doJSON(ctx, http.MethodDelete, "/api/v1/speech/jobs/"+url.PathEscape(id), nil, &job)
	return job, err
}

// Health returns per-engine health.
func (c *Client) Health(ctx context.Context) (map[string]health.EngineHealth, error) {
	var out map[string]health.EngineHealth
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/speech/engines/health", nil, &out)
	return out, err
}

// ProfileList is the profile listing.
type ProfileList struct {
	DefaultRole string          `json:"default_role"`
	Profiles    []style.Profile `json:"profiles"`
}

// Profiles lists configured voice profiles.
func (c *Client) Profiles(ctx context.Context) (ProfileList, error) {
	var out ProfileList
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/speech/profiles", nil, &out)
	return out, err
}

// Stats returns queue statistics.
func (c *Client) Stats(ctx context.Context) (queue.Stats, error) {
	var out queue.Stats
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/speech/queue", nil, &out)
	return out, err
}

// History lists finished jobs from the durable history.
func (c *Client) History(ctx context.Context, role, status string, limit int) ([]history.JobRecord, error) {
	q := url.Values{}
	if role != "" {
		q.Set("role", role)
	}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/v1/speech/history"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []history.JobRecord
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// Download writes a completed job's audio to w and returns the byte count.
func (c *Client) Download(ctx context.Context, id string, w io.Writer) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/speech/jobs/"+url.PathEscape(id)+"/audio", nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, decodeError(resp)
	}
	return io.Copy(w, resp.Body)
}

// ErrStopStream ends Stream without an error when returned from the callback.
var ErrStopStream = errors.New("stop stream")

// Stream follows the event stream and calls fn for every event. It returns
// when ctx ends, the server closes the stream, or fn returns an error.
func (c *Client) Stream(ctx context.Context, jobID, role string, untilTerminal bool, fn func(Event) error) error {
	q := url.Values{}
	if jobID != "" {
		q.Set("job_id", jobID)
	}
	if role != "" {
		q.Set("role", role)
	}
	if untilTerminal {
		q.Set("until_terminal", "true")
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/speech/events?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream is long-lived; only ctx bounds it.
	streamClient := *c.http
	streamClient.Timeout = 0
	resp, err := streamClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	err = readEvents(resp.Body, fn)
	if errors.Is(err, ErrStopStream) || ctx.Err() != nil {
		return nil
	}
	return err
}

func readEvents(r io.Reader, fn func(Event) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	var ev Event
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				ev.Data = json.RawMessage(strings.Join(data, "\n"))
				if err := fn(ev); err != nil {
					return err
				}
			}
			ev, data = Event{}, nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			ev.Type = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "id:"):
			ev.ID = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return scanner.Err()
}
