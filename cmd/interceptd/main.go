// Command interceptd runs the interception server: it classifies a
// replayed flow's response packets against a whitelist, issues verdicts to
// the kernel firewall queue, and notifies the upstream replay client of
// suppressed packets over the control-plane protocol.
package main

import (
	"context"
	"flag"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/runZeroInc/tcpintercept/internal/server"
)

func main() {
	var (
		listenAddr     = flag.String("listen", "0.0.0.0:36524", "control-plane listen address")
		backend        = flag.String("backend", "nfqueue", "kernel queue backend: ipq or nfqueue")
		queueNum       = flag.Uint("queue-num", 0, "NFQUEUE queue number (nfqueue backend only)")
		passedIPs      = flag.String("pass", "", "comma-separated whitelist of destination IPs that bypass interception")
		single         = flag.Bool("single", false, "single-host mode: one upstream replay client, no routing hash table")
		hashSize       = flag.Int("hash-size", 2048, "routing table bucket count (distributed mode only)")
		routeTimeout   = flag.Duration("route-timeout", 2*time.Minute, "routing entry obsolescence timeout (distributed mode only)")
		threaded       = flag.Bool("threaded", false, "use the staging pool to isolate verdict/forward syscalls from packet classification")
		poolSize       = flag.Int("pool-size", 1024, "staging pool ring capacity, must be a power of two (threaded mode only)")
		combined       = flag.Bool("combined", false, "buffer suppressed packets and flush them periodically instead of forwarding immediately")
		outputInterval = flag.Duration("output-interval", 30*time.Second, "counter logging / obsolescence sweep interval")
		checkInterval  = flag.Duration("check-interval", time.Second, "combined-mode flush interval")
		metricsAddr    = flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this address")
		logLevel       = flag.String("log-level", "info", "log level: debug, info, warn, error")
	)
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logrus.Fatalf("invalid -log-level %q: %v", *logLevel, err)
	}
	logrus.SetLevel(level)

	addr, err := netip.ParseAddrPort(*listenAddr)
	if err != nil {
		logrus.Fatalf("invalid -listen %q: %v", *listenAddr, err)
	}

	cfg := server.Config{
		ListenAddr:     addr,
		Backend:        *backend,
		QueueNum:       uint16(*queueNum),
		Whitelist:      parseWhitelist(*passedIPs),
		Single:         *single,
		HashSize:       *hashSize,
		RouteTimeout:   *routeTimeout,
		Threaded:       *threaded,
		PoolSize:       *poolSize,
		Combined:       *combined,
		OutputInterval: *outputInterval,
		CheckInterval:  *checkInterval,
		MetricsAddr:    *metricsAddr,
	}

	srv, err := server.New(cfg)
	if err != nil {
		logrus.Fatalf("interceptd: startup failed: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logrus.Info("interceptd: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("interceptd: shutdown encountered errors")
	}
}

func parseWhitelist(csv string) []netip.Addr {
	if csv == "" {
		return nil
	}

	var addrs []netip.Addr
	for _, field := range strings.Split(csv, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		addr, err := netip.ParseAddr(field)
		if err != nil {
			logrus.Fatalf("interceptd: invalid -pass address %q: %v", field, err)
		}
		addrs = append(addrs, addr)
	}
	return addrs
}
