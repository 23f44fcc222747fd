package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"time"

	boterr "github.com/alexvolkov/dexbot/internal/errors"
)

// Client is a JSON HTTP client with bounded retry on transient faults.
// Retries happen only for network errors, timeouts, rate limiting and 5xx
// responses; everything else surfaces immediately.
type Client struct {
	httpClient *http.Client
	retries    int
	userAgent  string
}

func New(timeout time.Duration, retries int) *Client {
	if retries < 0 {
		retries = 0
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		retries:    retries,
		userAgent:  "dexbot/1.0",
	}
}

func (c *Client) DoJSON(ctx context.Context, req *http.Request, out any) (http.Header, error) {
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, boterr.Wrap(boterr.KindNetworkFault, "request cancelled", ctx.Err())
			case <-time.After(backoffDelay(attempt)):
			}
		}

		cloneReq := req.Clone(ctx)
		if req.Body != nil && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, boterr.Wrap(boterr.KindInternal, "clone request body", err)
			}
			cloneReq.Body = body
		}

		resp, err := c.httpClient.Do(cloneReq)
		if err != nil {
			lastErr = mapNetError(err)
			if attempt < c.retries {
				continue
			}
			return nil, lastErr
		}

		buf, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return resp.Header, boterr.Wrap(boterr.KindNetworkFault, "read venue response", readErr)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = boterr.New(boterr.KindNetworkFault, "venue rate limited request")
			if attempt < c.retries {
				continue
			}
			return resp.Header, lastErr
		}

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return resp.Header, boterr.New(boterr.KindUnauthorized, "venue authentication failed")
		}

		if resp.StatusCode == http.StatusNotFound {
			return resp.Header, boterr.New(boterr.KindNotFound, "venue resource not found")
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			lastErr = boterr.New(boterr.KindNetworkFault, fmt.Sprintf("venue unavailable (status %d)", resp.StatusCode))
			if attempt < c.retries {
				continue
			}
			return resp.Header, lastErr
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return resp.Header, boterr.New(boterr.KindInternal, fmt.Sprintf("venue returned unexpected status %d", resp.StatusCode))
		}

		if out == nil {
			return resp.Header, nil
		}
		if len(bytes.TrimSpace(buf)) == 0 {
			return resp.Header, boterr.New(boterr.KindNetworkFault, "venue returned empty response")
		}
		if err := json.Unmarshal(buf, out); err != nil {
			return resp.Header, boterr.Wrap(boterr.KindNetworkFault, "decode venue JSON", err)
		}
		return resp.Header, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, boterr.New(boterr.KindNetworkFault, "request failed")
}

// GetJSON issues a GET request and decodes the JSON response into out.
func GetJSON(ctx context.Context, c *Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return boterr.Wrap(boterr.KindInternal, "build request", err)
	}
	_, err = c.DoJSON(ctx, req, out)
	return err
}

// PostJSON marshals body, issues a POST and decodes the JSON response into out.
func PostJSON(ctx context.Context, c *Client, url string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return boterr.Wrap(boterr.KindInternal, "marshal request body", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return boterr.Wrap(boterr.KindInternal, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(buf)), nil
	}
	_, err = c.DoJSON(ctx, req, out)
	return err
}

func mapNetError(err error) error {
	if nerr, ok := err.(net.Error); ok {
		if nerr.Timeout() {
			return boterr.Wrap(boterr.KindNetworkFault, "venue timeout", err)
		}
	}
	return boterr.Wrap(boterr.KindNetworkFault, "venue request failed", err)
}

func backoffDelay(attempt int) time.Duration {
	base := 120 * time.Millisecond
	d := base * time.Duration(1<<uint(attempt-1))
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	jitter := time.Duration(rand.Intn(75)) * time.Millisecond
	return d + jitter
}
