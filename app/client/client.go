// Package client implements http client for jobboard server api
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"

	"github.com/umputun/jobboard/app/registry"
)

// errStop terminates retries; the real error is kept by the caller
var errStop = errors.New("stop retries")

// Repeater runs fun until it succeeds or attempts are exhausted
type Repeater interface {
	Do(ctx context.Context, fun func() error, errors ...error) (err error)
}

// StatusError returned for non-2xx responses
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Message)
}

// Params for the client
type Params struct {
	BaseURL  string        // server url, i.e. http://localhost:5000
	Timeout  time.Duration // single request timeout
	Attempts int           // attempts for read requests
	Backoff  time.Duration // initial delay between attempts
}

// Client talks to jobboard server
type Client struct {
	baseURL  string
	http     *http.Client
	repeater Repeater
}

// New makes Client with defaults for missing params
func New(p Params) *Client {
	if p.Timeout <= 0 {
		p.Timeout = 10 * time.Second
	}
	if p.Attempts <= 0 {
		p.Attempts = 3
	}
	if p.Backoff <= 0 {
		p.Backoff = 500 * time.Millisecond
	}
	return &Client{
		baseURL:  strings.TrimSuffix(p.BaseURL, "/"),
		http:     &http.Client{Timeout: p.Timeout},
		repeater: repeater.New(&strategy.Backoff{Repeats: p.Attempts, Duration: p.Backoff, Factor: 2, Jitter: true}),
	}
}

// List returns all jobs. Retried on network errors and 5xx responses.
func (c *Client) List(ctx context.Context) ([]registry.Job, error) {
	var jobs []registry.Job
	var fatalErr error
	err := c.repeater.Do(ctx, func() error {
		res, err := c.list(ctx)
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) && se.Code < http.StatusInternalServerError {
				fatalErr = err
				return errStop
			}
			log.Printf("[DEBUG] list jobs failed, %v", err)
			return err
		}
		jobs = res
		return nil
	}, errStop)

	if fatalErr != nil {
		return nil, fatalErr
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Add posts a new job. Not retried, as a repeated insert would add a duplicate.
func (c *Client) Add(ctx context.Context, job registry.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/jobs", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("make request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("add job: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("add job: %w", statusError(resp))
	}
	return nil
}

func (c *Client) list(ctx context.Context) ([]registry.Job, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/jobs", http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("make request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	jobs := []registry.Job{}
	if err := dec.Decode(&jobs); err != nil {
		return nil, fmt.Errorf("decode jobs: %w", err)
	}
	return jobs, nil
}

// statusError makes StatusError with message from json error response, if any
func statusError(resp *http.Response) *StatusError {
	res := &StatusError{Code: resp.StatusCode}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return res
	}
	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &errResp) == nil && errResp.Error != "" {
		res.Message = errResp.Error
		return res
	}
	res.Message = strings.TrimSpace(string(data))
	return res
}
