package services

import (
	"context"
	"io"
	"net/http"
	"time"

	"suitectl/pkg/logging"
)

// HealthCheck issues one GET to url and reports whether it answered with a
// 2xx status. Any error, including a timeout, is reported as unhealthy.
func HealthCheck(ctx context.Context, url string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		logging.Debug("HealthCheck", "Invalid health URL %s: %v", url, err)
		return false
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		logging.Debug("HealthCheck", "%s not reachable: %v", url, err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logging.Debug("HealthCheck", "%s returned status %d", url, resp.StatusCode)
		return false
	}
	return true
}
