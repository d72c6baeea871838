//go:build !linux

package server

import (
	"errors"

	"github.com/runZeroInc/tcpintercept/pkg/kernelqueue"
)

// ErrUnsupportedPlatform is returned by openBackend on any platform other
// than Linux: both kernel-queue backends are Linux-specific netfilter
// facilities.
var ErrUnsupportedPlatform = errors.New("server: kernel queue backends require linux")

func openBackend(Config) (kernelqueue.Source, error) {
	return nil, ErrUnsupportedPlatform
}
