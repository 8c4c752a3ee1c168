package auth

// Error codes clients key their handling on
const (
	ErrorSessionExpired      = "session_expired"
	ErrorUpstreamUnavailable = "upstream_unavailable"
)

const defaultSessionExpiredMessage = "Your session has expired. Please log in again."

// ErrorDetail is the structured error payload frontends inspect
type ErrorDetail struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Service string `json:"service,omitempty"`
}

// ErrorResponse wraps ErrorDetail under "detail"
type ErrorResponse struct {
	Detail ErrorDetail `json:"detail"`
}

// SessionExpired is the 401 body telling the UI to send the user back to login
func SessionExpired(message string) ErrorResponse {
	if message == "" {
		message = defaultSessionExpiredMessage
	}
	return ErrorResponse{Detail: ErrorDetail{Error: ErrorSessionExpired, Message: message}}
}

// UpstreamUnavailable is the 502 body returned when a relayed service cannot be reached
func UpstreamUnavailable(message, service string) ErrorResponse {
	return ErrorResponse{Detail: ErrorDetail{Error: ErrorUpstreamUnavailable, Message: message, Service: service}}
}
