package main

import "time"

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
}

// ClientFlags Flag structs to decouple cobra from logic for testing.
type ClientFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

// LogFlags holds flags for the log command.
type LogFlags struct {
	Lines int
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

// ServeFlags holds flags for the serve command.
type ServeFlags struct {
	ConfigPath string
	Daemon     bool
	PidFile    string
	LogFile    string
}
