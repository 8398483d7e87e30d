package jira

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx tracker response. Expected conditions (404 on
// existence checks, 429 throttling) are normal branches for callers, so
// they classify via IsNotFound / IsRateLimited rather than string matching.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("tracker API returned %d: %s", e.StatusCode, body)
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsRateLimited reports whether err is a 429 response.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}
