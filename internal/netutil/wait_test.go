//go:build linux

package netutil

import "time"

const (
	wait = 2 * time.Second
	poll = 5 * time.Millisecond
)
