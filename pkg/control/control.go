// Package control implements the control-plane TCP server: replay clients
// connect, send fixed-size registration frames, and the server mutates the
// routing table on their behalf. The server never writes back on this
// socket; upstream notifications travel the same connection via
// router.Table.Update.
package control

import (
	"io"
	"net"
	"net/netip"
	"sync"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/runZeroInc/tcpintercept/pkg/router"
	"github.com/runZeroInc/tcpintercept/pkg/stats"
	"github.com/runZeroInc/tcpintercept/pkg/wire"
)

// Server is a running control-plane listener.
type Server struct {
	ln       net.Listener
	router   *router.Table
	counters *stats.Counters
	single   bool

	wg sync.WaitGroup
}

// Listen binds addr and starts accepting replay-client connections. Each
// accepted connection is handled on its own goroutine until the returned
// Server is closed or the connection's peer closes it.
func Listen(addr netip.AddrPort, rt *router.Table, counters *stats.Counters, single bool) (*Server, error) {
	ln, err := net.ListenTCP("tcp", net.TCPAddrFromAddrPort(addr))
	if err != nil {
		return nil, err
	}

	s := &Server{ln: ln, router: rt, counters: counters, single: single}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Close stops accepting new connections. Connections already accepted run
// to completion (they exit on their own read error/EOF).
func (s *Server) Close() error {
	err := s.ln.Close()
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}

		tcpConn, ok := conn.(*net.TCPConn)
		if ok {
			if err := tcpConn.SetNoDelay(true); err != nil {
				logrus.WithError(err).Warn("control: failed to set TCP_NODELAY")
			}
		}

		id := xid.New().String()
		logrus.WithField("conn", id).Info("control: accepted replay client")
		go s.serve(conn, id)
	}
}

func (s *Server) serve(conn net.Conn, id string) {
	sc := wrapConnStats(conn, id)
	defer func() {
		sc.Close()
		logrus.WithField("conn", id).Info("control: closed replay client")
	}()

	buf := make([]byte, wire.MsgClientSize)
	log := logrus.WithField("conn", id)

	for {
		if _, err := io.ReadFull(sc, buf); err != nil {
			if err != io.EOF {
				log.WithError(err).Info("control: read error, closing")
			}
			return
		}

		msg, err := wire.Decode(buf)
		if err != nil {
			// Unreachable given buf is always exactly MsgClientSize,
			// but decode errors are treated the same as a read error.
			log.WithError(err).Warn("control: malformed message, closing")
			return
		}

		key := router.Key{ClientIP: msg.ClientIP, ClientPort: msg.ClientPort}

		switch msg.Type {
		case wire.ClientAdd:
			s.router.Add(key, conn)
			s.counters.AddRouterItem()
			log.WithField("client", key).Debug("control: client added")
		case wire.ClientDel:
			s.router.Del(key)
			log.WithField("client", key).Debug("control: client deleted")
		default:
			// Unknown type: silently ignored per protocol contract.
		}
	}
}
