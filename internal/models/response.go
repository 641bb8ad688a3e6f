// Package models: consistent JSON response envelope for the HTTP API.
package models

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusIgnored indicates an event was accepted but intentionally not acted on.
	APIStatusIgnored APIStatus = "ignored"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status    string       `json:"status"`
	Message   string       `json:"message,omitempty"`
	Result    interface{}  `json:"result,omitempty"`
	Duplicate bool         `json:"duplicate,omitempty"`
	Issues    []FieldIssue `json:"issues,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Duplicate creates the replay response for an already-processed event.
func Duplicate() APIResponse {
	return APIResponse{Status: string(APIStatusOK), Duplicate: true}
}

// Ignored creates the response for an event with no matching patient.
func Ignored(reason string) APIResponse {
	return APIResponse{Status: string(APIStatusIgnored), Message: reason}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

// ValidationFailed creates the 400 response carrying field-level issues.
func ValidationFailed(issues []FieldIssue) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: "invalid payload", Issues: issues}
}
