package combinedbuf

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/runZeroInc/tcpintercept/pkg/router"
)

func dialLoopback(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()

	var server net.Conn
	accepted := make(chan struct{})
	go func() {
		server, _ = ln.Accept()
		close(accepted)
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	<-accepted

	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestFlushDeliversBufferedHeadersInOrder(t *testing.T) {
	rt := router.New(4, time.Minute)
	upstream, replayClient := dialLoopback(t)

	key := router.Key{ClientIP: netip.MustParseAddr("10.0.0.1"), ClientPort: 4242}
	rt.Add(key, upstream)

	buf := New()
	buf.Add(key.ClientIP, []byte{0x45, 0x00, 0x00, 0x01})
	buf.Add(key.ClientIP, []byte{0x45, 0x00, 0x00, 0x02})

	if buf.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", buf.Len())
	}

	buf.Flush(rt)

	if buf.Len() != 0 {
		t.Fatalf("Len() after Flush = %d, want 0", buf.Len())
	}

	replayClient.SetReadDeadline(time.Now().Add(2 * time.Second))
	got := make([]byte, 8)
	n, err := replayClient.Read(got)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	want := []byte{0x45, 0x00, 0x00, 0x01, 0x45, 0x00, 0x00, 0x02}
	if n != len(want) {
		t.Fatalf("Read() n = %d, want %d", n, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d = %x, want %x", i, got[i], want[i])
		}
	}
}
