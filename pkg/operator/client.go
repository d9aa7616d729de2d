package operator

import (
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

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultBaseURL is where the controller listens out of the box.
	DefaultBaseURL = "http://localhost:8000"

	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "jailer"
	maxBodyBytes     = 64 << 20
	requestIDHeader  = "X-Request-ID"
)

// Config configures a Client.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	UserAgent  string
	Logger     *zerolog.Logger
}

// Client talks to the controller's operator API.
type Client struct {
	baseURL   string
	http      *http.Client
	userAgent string
	logger    zerolog.Logger
}

// Response is an undecoded controller response.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports whether the status code is 2xx.
func (r Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("base url must use http or https: %s", base)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url missing host: %s", base)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Client{
		baseURL:   strings.TrimRight(base, "/"),
		http:      httpClient,
		userAgent: userAgent,
		logger:    logger,
	}, nil
}

// BaseURL returns the normalised controller URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// InmatesPath is the listing endpoint.
func InmatesPath() string {
	return "/operator"
}

// InmatePath is the endpoint of a single inmate.
func InmatePath(id uint32) string {
	return "/operator/" + strconv.FormatUint(uint64(id), 10)
}

// RecentTaskPath is the endpoint of an inmate's most recent task result.
func RecentTaskPath(id uint32) string {
	return InmatePath(id) + "/recent"
}

// AddTaskPath is the task submission endpoint of an inmate.
func AddTaskPath(id uint32) string {
	return InmatePath(id) + "/add_task"
}

// ListInmates returns every inmate known to the controller, in the order the
// controller reports them.
func (c *Client) ListInmates(ctx context.Context) ([]Inmate, error) {
	var inmates []Inmate
	if err := c.getJSON(ctx, InmatesPath(), "inmate list", &inmates); err != nil {
		return nil, err
	}
	return inmates, nil
}

// GetInmate returns a single inmate.
func (c *Client) GetInmate(ctx context.Context, id uint32) (Inmate, error) {
	var inmate Inmate
	if err := c.getJSON(ctx, InmatePath(id), "inmate", &inmate); err != nil {
		return Inmate{}, err
	}
	return inmate, nil
}

// GetRecentTask returns the latest stored task result of an inmate.
func (c *Client) GetRecentTask(ctx context.Context, id uint32) (PostRequest, error) {
	var result PostRequest
	if err := c.getJSON(ctx, RecentTaskPath(id), "post request", &result); err != nil {
		return PostRequest{}, err
	}
	return result, nil
}

// AddTask queues a task for an inmate. The controller's response is returned
// as-is whatever its status; only transport failures are errors.
func (c *Client) AddTask(ctx context.Context, id uint32, task CheckInResponse) (Response, error) {
	body, err := json.Marshal(task)
	if err != nil {
		return Response{}, fmt.Errorf("marshal task: %w", err)
	}
	return c.do(ctx, http.MethodPost, AddTaskPath(id), body)
}

// Fetch performs a GET on path and returns the undecoded response.
func (c *Client) Fetch(ctx context.Context, path string) (Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

var errNullBody = errors.New("unexpected null body")

func (c *Client) getJSON(ctx context.Context, path, target string, dest any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(resp.Body))}
	}
	if bytes.Equal(bytes.TrimSpace(resp.Body), []byte("null")) {
		return &DecodeError{Target: target, Err: errNullBody}
	}
	if err := json.Unmarshal(resp.Body, dest); err != nil {
		var decodeErr *DecodeError
		if errors.As(err, &decodeErr) {
			return decodeErr
		}
		return &DecodeError{Target: target, Err: err}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set(requestIDHeader, requestID)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Response{}, err
		}
		return Response{}, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Response{}, fmt.Errorf("read response body: %w", err)
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Str("request_id", requestID).
		Int("status", resp.StatusCode).
		Int("bytes", len(data)).
		Dur("elapsed", time.Since(start)).
		Msg("operator request")

	return Response{StatusCode: resp.StatusCode, Body: data}, nil
}
