package main

import "time"

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

type ServeFlags struct {
	ConfigPath string
	Listen     string // overrides server.listen
	// For tests we can set NonBlocking to return once everything started
	NonBlocking bool
}

type PollFlags struct {
	ConfigPath string
	Rounds     int           // 0 uses poll.rounds
	Interval   time.Duration // 0 uses poll.interval
}

type EventsFlags struct {
	ConfigPath string
	Limit      int
	JSON       bool
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}
