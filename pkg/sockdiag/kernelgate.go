//go:build linux

/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package sockdiag

import (
	"github.com/docker/docker/pkg/parsers/kernel"
	"github.com/sirupsen/logrus"
)

var sizeOfRawTCPInfo int

type versionedStructSize struct {
	version kernel.VersionInfo
	size    int
	flag    *bool
}

var (
	kernelVersionIsAtLeast_2_6_2 = false
	kernelVersionIsAtLeast_4_1   = false
)

var tcpInfoSizes = []versionedStructSize{
	{version: kernel.VersionInfo{Kernel: 2, Major: 6, Minor: 2}, size: 104, flag: &kernelVersionIsAtLeast_2_6_2},
	{version: kernel.VersionInfo{Kernel: 4, Major: 1, Minor: 0}, size: 136, flag: &kernelVersionIsAtLeast_4_1},
}

func init() {
	v, err := kernel.GetKernelVersion()
	if err != nil {
		logrus.WithError(err).Warn("sockdiag: unable to determine kernel version, tcp_info collection disabled")
		return
	}
	adaptToKernelVersion(*v)
}

func adaptToKernelVersion(v kernel.VersionInfo) {
	for i := len(tcpInfoSizes) - 1; i >= 0; i-- {
		if kernel.CompareKernelVersion(v, tcpInfoSizes[i].version) >= 0 {
			sizeOfRawTCPInfo = tcpInfoSizes[i].size
			for j := i; j >= 0; j-- {
				*tcpInfoSizes[j].flag = true
			}
			return
		}
		*tcpInfoSizes[i].flag = false
	}
}
