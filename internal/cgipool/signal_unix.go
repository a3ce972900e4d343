//go:build !windows

package cgipool

import "syscall"

// stopSignal is sent to a worker process before falling back to SIGKILL.
var stopSignal = syscall.SIGTERM
