package apiclient

import (
	"fmt"
)

// ConfigurationError is returned when a client cannot be built from its options
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return "apiclient: " + e.Message
}

// AuthenticationError is returned when a request is still rejected with 401
// after the single refresh-and-retry, or when the refresh itself fails
type AuthenticationError struct {
	Message string
	Err     error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Message, e.Err)
	}
	return "authentication failed: " + e.Message
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// APIError carries a non-2xx response that is not an authentication failure.
// JSON is the decoded body when it parsed, nil otherwise.
type APIError struct {
	StatusCode int
	Body       string
	JSON       any
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("request failed (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("request failed (status %d): %s", e.StatusCode, e.Body)
}
