// Package kernelcaps probes the running kernel version at startup and
// reports whether it is old enough that a requested kernel-queue backend
// is unlikely to work. The probe is informational only: it never blocks
// startup, matching the error-handling design's "no cross-boundary error
// propagation" for anything short of setup-fatal.
package kernelcaps

import (
	"github.com/docker/docker/pkg/parsers/kernel"
	"github.com/sirupsen/logrus"
)

// nfqueueMinKernel is the kernel version NFQUEUE/libnetfilter_queue first
// shipped in.
var nfqueueMinKernel = kernel.VersionInfo{Kernel: 2, Major: 6, Minor: 14}

// ipqDeprecatedSince is the kernel version after which the legacy IPQ
// module was removed from mainline (it survived longest in enterprise
// long-term kernels, so this is a soft warning threshold, not a hard cut).
var ipqDeprecatedSince = kernel.VersionInfo{Kernel: 3, Major: 5, Minor: 0}

// Capabilities summarizes what the detected kernel version suggests about
// backend availability.
type Capabilities struct {
	Version       kernel.VersionInfo
	NFQueueLikely bool
	IPQLikely     bool
}

// Detect reads /proc/version (via github.com/docker/docker/pkg/parsers/kernel)
// and classifies it against the two backends' expected support windows. A
// failure to read the kernel version (e.g. non-Linux, restricted
// container) yields a Capabilities with a zero Version and both flags true, so
// callers fall back to attempting whichever backend was requested rather
// than refusing to start.
func Detect() Capabilities {
	v, err := kernel.GetKernelVersion()
	if err != nil {
		logrus.WithError(err).Warn("kernelcaps: unable to determine kernel version, skipping backend advisory")
		return Capabilities{NFQueueLikely: true, IPQLikely: true}
	}

	return Capabilities{
		Version:       *v,
		NFQueueLikely: kernel.CompareKernelVersion(*v, nfqueueMinKernel) >= 0,
		IPQLikely:     kernel.CompareKernelVersion(*v, ipqDeprecatedSince) < 0,
	}
}

// WarnIfUnsuitable logs a warning if the requested backend is unlikely to
// be supported by the detected kernel. It never returns an error: the
// actual backend Open() call is the authoritative check.
func (c Capabilities) WarnIfUnsuitable(backend string) {
	switch backend {
	case "nfqueue":
		if !c.NFQueueLikely {
			logrus.WithField("kernel", c.Version).Warn(
				"kernelcaps: kernel predates typical NFQUEUE support, nfqueue backend may fail to open")
		}
	case "ipq":
		if !c.IPQLikely {
			logrus.WithField("kernel", c.Version).Warn(
				"kernelcaps: kernel is newer than the legacy IPQ module's typical deployment window, ipq backend may be unavailable")
		}
	}
}
