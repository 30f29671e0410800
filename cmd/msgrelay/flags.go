package main

import "time"

// Flag structs to decouple cobra from logic for testing.

// GlobalFlags holds minimal global/persistent flags for CLI commands.
type GlobalFlags struct {
	ConfigPath string
}

// SubmitFlags holds flags for the submit command.
type SubmitFlags struct {
	ConfigPath string
	DstHosts   []string
	Commands   []string
	Comments   []string
	Fields     []string // passthrough key=value pairs
	Dir        string   // target-directory override
	Stdin      bool     // read a complete record from stdin instead of flags
}

// ServeFlags holds flags for the serve command.
type ServeFlags struct {
	ConfigPath string
	Daemonize  bool
	LogFile    string
}

// StopFlags holds flags for the stop command.
type StopFlags struct {
	ConfigPath string
	Wait       time.Duration
}

// StatusFlags holds flags for the status command.
type StatusFlags struct {
	ConfigPath string
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

// WatchFlags holds flags for the watch command.
type WatchFlags struct {
	ConfigPath string
	Timeout    time.Duration
}
