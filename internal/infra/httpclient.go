package infra

import (
	"context"
	"io"
	"net/http"
	"time"
)

const userAgent = "volsurf/1.0"

// httpClient is the shared client for all outbound requests.
var httpClient = &http.Client{
	Timeout: 30 * time.Second,
}

// DoGet performs an HTTP GET with the given headers and returns the
// response body, status code, and any transport error. The caller owns
// the body and must close it.
func DoGet(ctx context.Context, url string, headers map[string]string) (io.ReadCloser, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("User-Agent", userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	return resp.Body, resp.StatusCode, nil
}
