package router

import (
	"io"
	"net"
	"net/netip"
	"testing"
	"time"
)

// dialPair returns two ends of a real loopback TCP connection: server is
// the accepted side (suitable as a routing table upstream, since it has a
// real fd to write on), client is the dialer.
func dialPair(t *testing.T) (server, client net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- c
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	server = <-accepted
	return server, client
}

func TestAddThenUpdateWritesHeader(t *testing.T) {
	server, client := dialPair(t)
	defer server.Close()
	defer client.Close()

	rt := New(16, time.Minute)
	key := Key{ClientIP: netip.MustParseAddr("192.168.1.10"), ClientPort: 54321}
	rt.Add(key, server)

	header := make([]byte, 20)
	header[19] = 0x2a
	rt.Update(key.ClientIP, header)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 20)
	if _, err := io.ReadFull(client, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if buf[19] != 0x2a {
		t.Fatalf("got %x, want header to round-trip", buf)
	}
}

func TestReAddRoutesToLatestUpstream(t *testing.T) {
	server1, client1 := dialPair(t)
	defer server1.Close()
	defer client1.Close()
	server2, client2 := dialPair(t)
	defer server2.Close()
	defer client2.Close()

	rt := New(16, time.Minute)
	key := Key{ClientIP: netip.MustParseAddr("192.168.1.10"), ClientPort: 54321}

	rt.Add(key, server1)
	rt.Add(key, server2)

	header := make([]byte, 20)
	rt.Update(key.ClientIP, header)

	client1.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 1)
	if _, err := client1.Read(buf); err == nil {
		t.Fatal("expected no data on the replaced (first) upstream")
	}

	client2.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(client2, make([]byte, 20)); err != nil {
		t.Fatalf("expected data on the current (second) upstream: %v", err)
	}
}

func TestDelThenUpdateIsNoop(t *testing.T) {
	server, client := dialPair(t)
	defer server.Close()
	defer client.Close()

	rt := New(16, time.Minute)
	key := Key{ClientIP: netip.MustParseAddr("192.168.1.10"), ClientPort: 54321}
	rt.Add(key, server)
	rt.Del(key)

	// Must not panic or block.
	rt.Update(key.ClientIP, make([]byte, 20))

	client.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, err := client.Read(make([]byte, 1)); err == nil {
		t.Fatal("expected no data after deletion")
	}
}

func TestDoubleDelIsIdempotent(t *testing.T) {
	rt := New(16, time.Minute)
	key := Key{ClientIP: netip.MustParseAddr("10.0.0.1"), ClientPort: 1}
	rt.Del(key)
	rt.Del(key) // must not panic
}

func TestUnregisteredUpdateIsNoop(t *testing.T) {
	rt := New(16, time.Minute)
	rt.Update(netip.MustParseAddr("192.168.1.99"), make([]byte, 20))
}

func TestDeleteObsoleteExactness(t *testing.T) {
	server, client := dialPair(t)
	defer server.Close()
	defer client.Close()

	rt := New(16, 30*time.Second)
	key := Key{ClientIP: netip.MustParseAddr("10.0.0.1"), ClientPort: 1}

	base := time.Unix(1_700_000_000, 0)
	rt.Add(key, server)
	rt.buckets[int(key.hash()%uint64(len(rt.buckets)))].lastAccess = base.Unix()

	rt.DeleteObsolete(base.Add(30 * time.Second))
	// exactly at the boundary (now - last_access == timeout) must survive
	rt.Update(key.ClientIP, make([]byte, 20))
	client.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, err := io.ReadFull(client, make([]byte, 20)); err != nil {
		t.Fatalf("entry at exactly timeout should still be live: %v", err)
	}

	rt.buckets[int(key.hash()%uint64(len(rt.buckets)))].lastAccess = base.Unix()
	rt.DeleteObsolete(base.Add(31 * time.Second))
	rt.Update(key.ClientIP, make([]byte, 20))
	client.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, err := client.Read(make([]byte, 1)); err == nil {
		t.Fatal("entry past timeout should have been swept")
	}
}

func TestSingleModeSecondClientOverwrites(t *testing.T) {
	server1, client1 := dialPair(t)
	defer server1.Close()
	defer client1.Close()
	server2, client2 := dialPair(t)
	defer server2.Close()
	defer client2.Close()

	rt := NewSingle()
	key := Key{ClientIP: netip.MustParseAddr("10.0.0.1"), ClientPort: 1}

	rt.Add(key, server1)
	rt.Add(key, server2) // logs a warning, does not reject

	// In single mode the daddr argument is ignored entirely.
	rt.Update(netip.MustParseAddr("10.0.0.1"), make([]byte, 20))

	client2.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(client2, make([]byte, 20)); err != nil {
		t.Fatalf("expected data on the current (second) upstream: %v", err)
	}
}
