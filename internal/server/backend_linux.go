//go:build linux

package server

import (
	"fmt"

	"github.com/runZeroInc/tcpintercept/pkg/kernelqueue"
	"github.com/runZeroInc/tcpintercept/pkg/kernelqueue/ipq"
	"github.com/runZeroInc/tcpintercept/pkg/kernelqueue/nfqueue"
)

func openBackend(cfg Config) (kernelqueue.Source, error) {
	switch cfg.Backend {
	case "nfqueue":
		return nfqueue.Open(cfg.QueueNum)
	case "ipq", "":
		return ipq.Open()
	default:
		return nil, fmt.Errorf("server: unknown backend %q", cfg.Backend)
	}
}
