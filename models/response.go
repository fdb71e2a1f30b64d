package models

// Response is the JSON envelope used by every API endpoint.
type Response struct {
	Success bool   `json:"success"`
	Status  int    `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// OK wraps data in a successful envelope.
func OK(status int, data any) Response {
	return Response{Success: true, Status: status, Data: data}
}

// Fail builds an error envelope with a client-safe message.
func Fail(msg string) Response {
	return Response{Success: false, Error: msg}
}
