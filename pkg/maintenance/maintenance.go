// Package maintenance runs the interception server's periodic background
// work: logging the global counters and sweeping obsolete routing entries
// (OUTPUT_INTERVAL), and, in combined mode, flushing the upstream batching
// engine (CHECK_INTERVAL).
package maintenance

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/runZeroInc/tcpintercept/pkg/router"
	"github.com/runZeroInc/tcpintercept/pkg/stats"
)

// Run fires every interval until ctx is cancelled, logging the three
// counters and sweeping obsolete routing entries. rt.DeleteObsolete is a
// no-op in single-host mode, so this is safe to start unconditionally.
func Run(ctx context.Context, interval time.Duration, rt *router.Table, counters *stats.Counters) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			snap := counters.Snapshot()
			logrus.WithFields(logrus.Fields{
				"resp_packets": snap.TotRespPacks,
				"intercepted":  snap.TotCopyRespPacks,
				"router_items": snap.TotRouterItems,
			}).Info("maintenance: periodic counters")

			rt.DeleteObsolete(now)
		}
	}
}

// RunCombinedFlush fires every interval until ctx is cancelled, invoking
// flush with the current time. It is the ticker half of combined mode; the
// batching engine itself is supplied by the caller (see pkg/combinedbuf for
// a reference implementation).
func RunCombinedFlush(ctx context.Context, interval time.Duration, flush func(time.Time)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			flush(now)
		}
	}
}
