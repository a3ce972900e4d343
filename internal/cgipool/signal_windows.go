//go:build windows

package cgipool

import "os"

// stopSignal is sent to a worker process before falling back to Kill.
// win-php-cgi.exe is the intended target of this package, so on Windows
// os.Kill is used directly — there is no portable SIGTERM equivalent.
var stopSignal = os.Kill
