//go:build linux

package sockdiag

import (
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/runZeroInc/tcpintercept/pkg/router"
)

func TestCollectorEmitsMetricsForRoutedConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()

	acceptedCh := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			acceptedCh <- conn
		}
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer client.Close()

	var server net.Conn
	select {
	case server = <-acceptedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accepted connection")
	}
	defer server.Close()

	rt := router.NewSingle()
	rt.Add(router.Key{}, server)

	c := NewCollector(rt, func(err error) { t.Logf("collector error: %v", err) })

	descs := make(chan *prometheus.Desc, 8)
	c.Describe(descs)
	close(descs)
	var gotDescs int
	for range descs {
		gotDescs++
	}
	if gotDescs != 4 {
		t.Fatalf("Describe() emitted %d descriptors, want 4", gotDescs)
	}

	metrics := make(chan prometheus.Metric, 8)
	c.Collect(metrics)
	close(metrics)
	var gotMetrics int
	for range metrics {
		gotMetrics++
	}
	if gotMetrics == 0 {
		t.Fatal("Collect() emitted no metrics for a routed loopback connection")
	}
}

func TestCollectorEmitsNothingForEmptyTable(t *testing.T) {
	rt := router.NewSingle()
	c := NewCollector(rt, nil)

	metrics := make(chan prometheus.Metric, 1)
	c.Collect(metrics)
	close(metrics)

	for range metrics {
		t.Fatal("Collect() emitted a metric for an empty table")
	}
}
