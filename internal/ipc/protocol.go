package ipc

import (
	"encoding/json"
	"fmt"
)

// CommandType represents different IPC command types
type CommandType string

const (
	CommandStatus    CommandType = "STATUS"
	CommandList      CommandType = "LIST"
	CommandUnswallow CommandType = "UNSWALLOW"
	CommandReload    CommandType = "RELOAD"
)

// Request represents an IPC request from client to server
type Request struct {
	Command CommandType     `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response represents an IPC response from server to client
type Response struct {
	Status string          `json:"status"` // "OK" or "ERROR"
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// StatusData represents the data returned by STATUS
type StatusData struct {
	Display        string `json:"display"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	HiddenCount    int    `json:"hidden_terminals"`
	SwallowedCount int    `json:"swallowed_windows"`
	TerminalNames  int    `json:"terminal_names"`
	ImmuneNames    int    `json:"immune_names"`
	FocusPolicy    string `json:"focus_policy"`
	DaemonRunning  bool   `json:"daemon_running"`
}

// GeometryInfo is a window placement on the wire.
type GeometryInfo struct {
	X       int16  `json:"x"`
	Y       int16  `json:"y"`
	Width   uint16 `json:"width"`
	Height  uint16 `json:"height"`
	Desktop uint32 `json:"desktop"`
}

// ChildInfo describes a swallowed window.
type ChildInfo struct {
	Window uint32       `json:"window"`
	PID    int32        `json:"pid"`
	Saved  GeometryInfo `json:"saved"`
}

// ParentInfo describes a hidden terminal and what it swallowed.
type ParentInfo struct {
	PID      int32        `json:"pid"`
	Window   uint32       `json:"window"`
	Name     string       `json:"name,omitempty"`
	Origin   GeometryInfo `json:"origin"`
	Children []ChildInfo  `json:"children"`
}

// ListData represents the data returned by LIST
type ListData struct {
	Parents []ParentInfo `json:"parents"`
}

// UnswallowPayload represents the payload for UNSWALLOW
type UnswallowPayload struct {
	PID int32 `json:"pid"`
}

// ReloadData represents the data returned by RELOAD
type ReloadData struct {
	Files []string `json:"files"`
}

// NewOKResponse creates a successful response with optional data
func NewOKResponse(data interface{}) (*Response, error) {
	var dataBytes json.RawMessage
	if data != nil {
		bytes, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal response data: %w", err)
		}
		dataBytes = bytes
	}

	return &Response{
		Status: "OK",
		Data:   dataBytes,
	}, nil
}

// NewErrorResponse creates an error response with a message
func NewErrorResponse(errMsg string) *Response {
	return &Response{
		Status: "ERROR",
		Error:  errMsg,
	}
}

// ParseRequest parses a request from JSON bytes
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}
	return &req, nil
}

// Marshal converts a response to JSON bytes
func (r *Response) Marshal() ([]byte, error) {
	return json.Marshal(r)
}
