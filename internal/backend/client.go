package backend

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

	"golang.org/x/time/rate"
)

const (
	maxRetries    = 2
	retryDelay    = time.Second
	maxErrorBytes = 64 << 10
)

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	RateEvery  time.Duration
	RateBurst  int
	HTTPClient *http.Client
}

// Client talks to the document backend.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	// retryDelay is scaled by the attempt number.
	retryDelay time.Duration
}

func NewClient(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		hc = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}

	limit := rate.Inf
	if opts.RateEvery > 0 {
		limit = rate.Every(opts.RateEvery)
	}
	burst := opts.RateBurst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		http:       hc,
		limiter:    rate.NewLimiter(limit, burst),
		retryDelay: retryDelay,
	}
}

type uploadRequest struct {
	FileName string `json:"file_name"`
	Content  string `json:"content"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// APIError is a non-2xx answer from the backend. Message carries the
// backend's own explanation when it sent one.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("backend returned %d %s", e.Status, http.StatusText(e.Status))
}

func isClientError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500
}

// UploadDocument posts one document to /documents. progress, when non-nil,
// receives the share of the request body sent so far.
func (c *Client) UploadDocument(ctx context.Context, token, fileName, content string, progress func(percent int)) error {
	body, err := json.Marshal(uploadRequest{FileName: fileName, Content: content})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		err := c.post(ctx, token, body, progress)
		if err == nil {
			return nil
		}
		lastErr = err

		// Don't retry client errors (4xx) or a cancelled caller.
		if isClientError(err) || ctx.Err() != nil {
			break
		}
	}
	return lastErr
}

func (c *Client) post(ctx context.Context, token string, body []byte, progress func(int)) error {
	var r io.Reader = bytes.NewReader(body)
	if progress != nil {
		r = &countingReader{r: r, total: int64(len(body)), report: progress}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/documents", r)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.ContentLength = int64(len(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "docingest/1.0")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseErrorResponse(resp)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBytes))
	return nil
}

func parseErrorResponse(resp *http.Response) error {
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))

	var errResp errorResponse
	if json.Unmarshal(bodyBytes, &errResp) == nil && strings.TrimSpace(errResp.Message) != "" {
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(errResp.Message)}
	}
	return &APIError{Status: resp.StatusCode}
}

// countingReader reports how much of a known-length body has been read.
type countingReader struct {
	r      io.Reader
	total  int64
	read   int64
	report func(int)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 && c.total > 0 {
		c.read += int64(n)
		c.report(int(c.read * 100 / c.total))
	}
	return n, err
}
