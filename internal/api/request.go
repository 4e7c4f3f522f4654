package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"
)

// maxErrorBody caps how much of a failed response is kept on APIError.
const maxErrorBody = 4 << 10

// APIError is a non-2xx answer from Finnhub.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("finnhub api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether the request may succeed if repeated: server
// errors and rate limiting.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func retryable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsRetryable()
}

// get fetches path with retries and decodes the JSON body into result.
func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	endpoint := c.endpoint(path, query)

	var err error
	for attempt := 0; ; attempt++ {
		var body []byte
		body, err = c.fetch(ctx, endpoint, path)
		if err == nil {
			if jerr := json.Unmarshal(body, result); jerr != nil {
				return fmt.Errorf("decode %s response: %w", path, jerr)
			}
			return nil
		}
		if !retryable(err) || attempt >= c.maxRetries {
			break
		}

		wait := c.backoff(attempt)
		c.logger.Debug("finnhub request failed, retrying",
			"path", path,
			"attempt", attempt+1,
			"wait", wait,
			"err", err,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	if retryable(err) && c.maxRetries > 0 {
		return fmt.Errorf("giving up after %d retries: %w", c.maxRetries, err)
	}
	return err
}

// backoff doubles per attempt with ±50% jitter.
func (c *Client) backoff(attempt int) time.Duration {
	base := c.retryBackoff << attempt
	return base/2 + time.Duration(rand.Int64N(int64(base)+1))
}

// endpoint builds the request URL. The API key rides along as the token
// query parameter.
func (c *Client) endpoint(path string, query url.Values) string {
	q := make(url.Values, len(query)+1)
	for k, v := range query {
		q[k] = v
	}
	if c.apiKey != "" {
		q.Set("token", c.apiKey)
	}
	if len(q) == 0 {
		return c.baseURL + path
	}
	return c.baseURL + path + "?" + q.Encode()
}

// fetch performs one GET. Errors never carry the URL since it holds the key.
func (c *Client) fetch(ctx context.Context, endpoint, path string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}
	return body, nil
}
