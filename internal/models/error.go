package models

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}

// Error codes
const (
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeDaemonUnavailable = "DAEMON_UNAVAILABLE"
	ErrCodeCommandTimeout    = "COMMAND_TIMEOUT"
	ErrCodeCommandRejected   = "COMMAND_REJECTED"
	ErrCodeConnectionLost    = "CONNECTION_LOST"
)
