//go:build !linux

package main

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrUnsupportedOS indicates no media session backend exists for this
// platform.
var ErrUnsupportedOS = errors.New("no media session backend for this platform")

func newSessionProvider() (SessionProvider, error) {
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedOS, runtime.GOOS)
}
