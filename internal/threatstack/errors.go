package threatstack

import (
	"fmt"
	"net/http"
)

// APIError describes an upstream request that failed with a non-2xx
// status. Resource names the failing resource path so callers can report
// which stream broke.
type APIError struct {
	StatusCode int
	Status     string
	Resource   string
}

func (e *APIError) Error() string {
	switch {
	case e.Authentication():
		return fmt.Sprintf("threat stack authentication failed for %s: %s", e.Resource, e.Status)
	case e.Authorization():
		return fmt.Sprintf("threat stack authorization failed for %s: %s", e.Resource, e.Status)
	default:
		return fmt.Sprintf("threat stack request for %s failed: %s", e.Resource, e.Status)
	}
}

// Authentication reports whether the credentials were rejected outright.
func (e *APIError) Authentication() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// Authorization reports whether the credentials lack scope for the resource.
func (e *APIError) Authorization() bool {
	return e.StatusCode == http.StatusForbidden
}

// Retryable reports whether the failure is transient. Only rate limiting
// and upstream 500s are worth another attempt; everything else fails fast.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusInternalServerError
}
