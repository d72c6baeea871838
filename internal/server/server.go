// Package server wires together the routing table, control-plane listener,
// kernel queue backend, packet classifier and periodic maintenance into one
// running interception server instance, replacing the original C core's
// file-scope globals with an explicit Context passed to every caller.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/runZeroInc/tcpintercept/pkg/classifier"
	"github.com/runZeroInc/tcpintercept/pkg/combinedbuf"
	"github.com/runZeroInc/tcpintercept/pkg/control"
	"github.com/runZeroInc/tcpintercept/pkg/ipheader"
	"github.com/runZeroInc/tcpintercept/pkg/kernelcaps"
	"github.com/runZeroInc/tcpintercept/pkg/kernelqueue"
	"github.com/runZeroInc/tcpintercept/pkg/maintenance"
	"github.com/runZeroInc/tcpintercept/pkg/router"
	"github.com/runZeroInc/tcpintercept/pkg/sockdiag"
	"github.com/runZeroInc/tcpintercept/pkg/stagingpool"
	"github.com/runZeroInc/tcpintercept/pkg/stats"
	"github.com/runZeroInc/tcpintercept/pkg/whitelist"
)

// Context holds every piece of state one running interception server
// instance needs. It is the Go rendering of the original core's
// srv_settings global plus its module-scoped statics: every component
// above takes it (or one of its fields) explicitly instead of reaching for
// package-level state.
type Context struct {
	cfg Config
	pid int

	router   *router.Table
	counters *stats.Counters
	control  *control.Server
	queue    kernelqueue.Source
	pool     *stagingpool.Pool
	combined *combinedbuf.Buffer

	metricsServer *http.Server

	cancel context.CancelFunc
}

// combinedForwarder adapts *combinedbuf.Buffer to classifier.Forwarder for
// combined mode: suppressed headers accumulate instead of being written
// upstream immediately.
type combinedForwarder struct {
	buf *combinedbuf.Buffer
}

func (f combinedForwarder) Forward(v ipheader.View) {
	f.buf.Add(v.DstAddr, v.Raw[:])
}

// New performs the server's full startup sequence: router init (unless
// single-host mode), PID capture, control listener bind, kernel queue open,
// and — in threaded mode — the staging pool plus its worker goroutines. Any
// failure here is setup-fatal: the caller (cmd/interceptd) is expected to
// log it and exit the process.
func New(cfg Config) (*Context, error) {
	caps := kernelcaps.Detect()
	caps.WarnIfUnsuitable(cfg.Backend)

	var rt *router.Table
	if cfg.Single {
		rt = router.NewSingle()
	} else {
		rt = router.New(cfg.HashSize, cfg.RouteTimeout)
	}

	counters := stats.New()

	ctrl, err := control.Listen(cfg.ListenAddr, rt, counters, cfg.Single)
	if err != nil {
		return nil, fmt.Errorf("server: control listen: %w", err)
	}

	queue, err := openBackend(cfg)
	if err != nil {
		ctrl.Close()
		return nil, fmt.Errorf("server: open kernel queue: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Context{
		cfg:      cfg,
		pid:      os.Getpid(),
		router:   rt,
		counters: counters,
		control:  ctrl,
		queue:    queue,
		cancel:   cancel,
	}

	wl := whitelist.New(cfg.Whitelist)

	var sink classifier.VerdictSink = queue
	var forward classifier.Forwarder = classifier.NewDirectForwarder(rt)

	switch {
	case cfg.Combined:
		s.combined = combinedbuf.New()
		forward = combinedForwarder{buf: s.combined}
		go maintenance.RunCombinedFlush(ctx, cfg.CheckInterval, func(time.Time) {
			s.combined.Flush(rt)
		})
	case cfg.Threaded:
		poolSize := cfg.PoolSize
		if poolSize == 0 {
			poolSize = stagingpool.DefaultSize
		}
		s.pool = stagingpool.New(ctx, poolSize, queue, rt)
		sink = s.pool
		forward = s.pool
	}

	c := classifier.New(wl, sink, forward, counters)
	go packetLoop(ctx, queue, c)

	go maintenance.Run(ctx, cfg.OutputInterval, rt, counters)

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(counters)
		reg.MustRegister(sockdiag.NewCollector(rt, func(err error) {
			logrus.WithError(err).Debug("server: tcp_info collection skipped")
		}))
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		s.metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logrus.WithError(err).Warn("server: metrics listener exited")
			}
		}()
	}

	logrus.WithFields(logrus.Fields{
		"pid":     s.pid,
		"backend": cfg.Backend,
		"single":  cfg.Single,
	}).Info("server: interception context started")

	return s, nil
}

// packetLoop is the single dedicated goroutine reading the kernel queue and
// driving the classifier, the Go rendering of the original design's
// single-threaded cooperative dispatch: one consumer, strict arrival order
// preserved by construction rather than by an explicit scheduler.
func packetLoop(ctx context.Context, queue kernelqueue.Source, c *classifier.Classifier) {
	for {
		pkt, err := queue.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logrus.WithError(err).Warn("server: kernel queue read failed")
			continue
		}

		if err := c.Process(ctx, pkt); err != nil {
			logrus.WithError(err).WithField("packet_id", pkt.ID).Debug("server: packet classification skipped")
		}
	}
}

// Shutdown releases every resource New acquired: it unbinds the kernel
// queue, stops accepting control connections, and closes the routing
// table. Worker goroutines (packetLoop, maintenance, staging pool workers)
// are left to exit via context cancellation on a best-effort basis — there
// is no handshake confirming they have drained in flight work, matching the
// original design's acknowledged lack of a clean-shutdown protocol.
func (s *Context) Shutdown(ctx context.Context) error {
	s.cancel()

	var firstErr error
	if err := s.queue.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.control.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.router.Close()

	return firstErr
}

// Counters exposes the running instance's counters, e.g. for an embedder
// that wants its own metrics surface in addition to MetricsAddr.
func (s *Context) Counters() *stats.Counters {
	return s.counters
}

// ControlAddr returns the bound control-plane listener address.
func (s *Context) ControlAddr() net.Addr {
	return s.control.Addr()
}
