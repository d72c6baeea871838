package control

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/runZeroInc/tcpintercept/pkg/router"
	"github.com/runZeroInc/tcpintercept/pkg/stats"
	"github.com/runZeroInc/tcpintercept/pkg/wire"
)

func TestClientAddRegistersRoute(t *testing.T) {
	rt := router.New(16, time.Minute)
	counters := stats.New()

	srv, err := Listen(netip.MustParseAddrPort("127.0.0.1:0"), rt, counters, false)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	msg := wire.ClientMsg{
		ClientIP:   netip.MustParseAddr("192.168.1.10"),
		ClientPort: 54321,
		Type:       wire.ClientAdd,
	}
	if _, err := conn.Write(wire.Encode(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if counters.Snapshot().TotRouterItems == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := counters.Snapshot().TotRouterItems; got != 1 {
		t.Fatalf("TotRouterItems = %d, want 1", got)
	}

	header := make([]byte, 20)
	header[0] = 0xAB
	rt.Update(msg.ClientIP, header)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 20)
	n, err := conn.Read(buf)
	if err != nil || n != 20 || buf[0] != 0xAB {
		t.Fatalf("expected forwarded header, got n=%d err=%v buf=%x", n, err, buf)
	}
}

func TestShortWriteClosesConnection(t *testing.T) {
	rt := router.New(16, time.Minute)
	counters := stats.New()

	srv, err := Listen(netip.MustParseAddrPort("127.0.0.1:0"), rt, counters, false)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Partial message, then close: server must close without registering
	// anything.
	if _, err := conn.Write(make([]byte, wire.MsgClientSize-1)); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.(*net.TCPConn).CloseWrite()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Fatal("expected server to close the connection on a short frame")
	}
}
