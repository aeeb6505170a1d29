// Package jenkins is a small client for the Jenkins JSON API: latest build
// number, per-build metadata and console text.
package jenkins

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/caevv/buildwatch/internal/telemetry"
)

const (
	defaultMetadataTimeout = 10 * time.Second
	defaultLogTimeout      = 30 * time.Second

	// defaultMaxConsoleBytes caps how much console text is read from one build.
	defaultMaxConsoleBytes = 64 << 20
	// maxErrorBody caps how much of an error response ends up in the error.
	maxErrorBody = 512
)

// Options configures a Client.
type Options struct {
	BaseURL         string
	User            string
	Token           string
	MetadataTimeout time.Duration
	LogTimeout      time.Duration
	// MaxConsoleBytes bounds ConsoleText; 0 means 64 MiB.
	MaxConsoleBytes int64

	// HTTPClient overrides the transport, mostly for tests.
	HTTPClient *http.Client
}

// Client talks to one Jenkins server with a static credential. It performs a
// single attempt per call and never retries.
type Client struct {
	baseURL         string
	user            string
	token           string
	metadataTimeout time.Duration
	logTimeout      time.Duration
	maxConsoleBytes int64
	httpClient      *http.Client
}

// NewClient creates a Jenkins API client.
func NewClient(opts Options) *Client {
	c := &Client{
		baseURL:         strings.TrimRight(opts.BaseURL, "/"),
		user:            opts.User,
		token:           opts.Token,
		metadataTimeout: opts.MetadataTimeout,
		logTimeout:      opts.LogTimeout,
		maxConsoleBytes: opts.MaxConsoleBytes,
		httpClient:      opts.HTTPClient,
	}
	if c.metadataTimeout <= 0 {
		c.metadataTimeout = defaultMetadataTimeout
	}
	if c.logTimeout <= 0 {
		c.logTimeout = defaultLogTimeout
	}
	if c.maxConsoleBytes <= 0 {
		c.maxConsoleBytes = defaultMaxConsoleBytes
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	return c
}

func (c *Client) jobURL(path string, parts ...string) string {
	u := c.baseURL + "/" + strings.Trim(path, "/")
	for _, p := range parts {
		u += "/" + p
	}
	return u
}

// LatestBuildNumber returns the number of the job's last build, or 0 when the
// job has never been built.
func (c *Client) LatestBuildNumber(ctx context.Context, path string) (n int, err error) {
	defer func(start time.Time) { telemetry.ObserveRemote("latest_build", start, err) }(time.Now())

	ctx, cancel := context.WithTimeout(ctx, c.metadataTimeout)
	defer cancel()

	var payload struct {
		LastBuild *struct {
			Number int `json:"number"`
		} `json:"lastBuild"`
	}
	if err := c.getJSON(ctx, c.jobURL(path, "api", "json")+"?tree=lastBuild[number]", &payload); err != nil {
		return 0, err
	}
	if payload.LastBuild == nil {
		return 0, nil
	}
	return payload.LastBuild.Number, nil
}

// BuildInfo fetches the metadata of one build.
func (c *Client) BuildInfo(ctx context.Context, path string, number int) (b *Build, err error) {
	defer func(start time.Time) { telemetry.ObserveRemote("build_info", start, err) }(time.Now())

	ctx, cancel := context.WithTimeout(ctx, c.metadataTimeout)
	defer cancel()

	var payload buildPayload
	if err := c.getJSON(ctx, c.jobURL(path, strconv.Itoa(number), "api", "json"), &payload); err != nil {
		return nil, err
	}
	if payload.Number != 0 && payload.Number != number {
		return nil, fmt.Errorf("%w: asked for build %d, got %d", ErrMalformed, number, payload.Number)
	}

	return payload.toBuild(number), nil
}

// ConsoleText fetches the raw console output of one build. A log over the
// size limit is cut and returned together with ErrTruncated.
func (c *Client) ConsoleText(ctx context.Context, path string, number int) (text string, err error) {
	defer func(start time.Time) { telemetry.ObserveRemote("console_text", start, err) }(time.Now())

	ctx, cancel := context.WithTimeout(ctx, c.logTimeout)
	defer cancel()

	resp, err := c.do(ctx, c.jobURL(path, strconv.Itoa(number), "consoleText"))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxConsoleBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read console text: %w", err)
	}
	if int64(len(data)) > c.maxConsoleBytes {
		return string(data[:c.maxConsoleBytes]), fmt.Errorf("%w: over %d bytes", ErrTruncated, c.maxConsoleBytes)
	}
	return string(data), nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	resp, err := c.do(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// do issues an authenticated GET and maps non-2xx responses to errors. The
// caller closes the body on success.
func (c *Client) do(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.user != "" || c.token != "" {
		req.SetBasicAuth(c.user, c.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	switch resp.StatusCode {
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, url)
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	default:
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
}
