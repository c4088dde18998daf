package faceservice

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pixland/pixops/internal/types"
)

// ErrNoFace is returned by Extract when the service found no face (HTTP 422).
var ErrNoFace = errors.New("no face detected")

// StatusError reports an unexpected HTTP status from the embedding service.
type StatusError struct {
	Op      string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: HTTP %d", e.Op, e.Code)
}

// Health is the body of GET /health.
type Health struct {
	Model    string `json:"model"`
	Detector string `json:"detector"`
}

// Extraction is the body of a successful POST /extract.
type Extraction struct {
	Embedding []float64      `json:"embedding"`
	FaceArea  types.FaceArea `json:"face_area"`
	FaceCount int            `json:"face_count"`
}

type extractRequest struct {
	Image string `json:"image"`
}

// Client talks to the ArcFace embedding microservice.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	healthTimeout  time.Duration
	extractTimeout time.Duration
}

// New creates a client for the service at baseURL.
func New(baseURL string, healthTimeout, extractTimeout time.Duration) *Client {
	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     &http.Client{},
		healthTimeout:  healthTimeout,
		extractTimeout: extractTimeout,
	}
}

// BaseURL returns the service root the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Health checks the service is up and reports which model it serves.
func (c *Client) Health(ctx context.Context) (Health, error) {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return Health{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Health{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Health{}, newStatusError("health", resp)
	}

	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return Health{}, fmt.Errorf("health: malformed response: %w", err)
	}
	return h, nil
}

// Extract sends the raw image bytes and returns the face embedding.
// A 422 answer yields ErrNoFace; any other non-200 answer yields a *StatusError.
func (c *Client) Extract(ctx context.Context, image []byte) (*Extraction, error) {
	body, err := json.Marshal(extractRequest{Image: base64.StdEncoding.EncodeToString(image)})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.extractTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/extract", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnprocessableEntity:
		return nil, ErrNoFace
	default:
		return nil, newStatusError("extract", resp)
	}

	var ext Extraction
	if err := json.NewDecoder(resp.Body).Decode(&ext); err != nil {
		return nil, fmt.Errorf("extract: malformed response: %w", err)
	}
	if len(ext.Embedding) == 0 {
		return nil, errors.New("extract: response carried no embedding")
	}
	return &ext, nil
}

// newStatusError pulls the {"error": "..."} message out of the body when there is one.
func newStatusError(op string, resp *http.Response) *StatusError {
	se := &StatusError{Op: op, Code: resp.StatusCode}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return se
	}
	var er types.ErrorResult
	if json.Unmarshal(raw, &er) == nil {
		se.Message = er.Error
	}
	return se
}

// IsTimeout reports whether err came from a deadline or a network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
