package client

import "time"

// DaemonStatus mirrors the daemon's /status response.
type DaemonStatus struct {
	Daemon string         `json:"daemon"` // running, stopped, stale
	PID    int            `json:"pid,omitempty"`
	Spool  string         `json:"spool"`
	Depths map[string]int `json:"depths"`
}

// Entry mirrors one element of the daemon's /entries response.
type Entry struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
