package control

import (
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

// connStats wraps an accepted replay-client connection to track basic byte
// counters and lifecycle timestamps for its control-plane traffic, logged
// once the connection closes. It only sees bytes that cross this wrapper:
// the routing table is handed the unwrapped connection, so upstream
// notifications written by router.Table.Update never pass through it and
// are not counted in sentBytes.
type connStats struct {
	net.Conn
	id        string
	openedAt  time.Time
	recvBytes int64
	sentBytes int64
}

func wrapConnStats(conn net.Conn, id string) *connStats {
	return &connStats{Conn: conn, id: id, openedAt: time.Now()}
}

func (c *connStats) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	c.recvBytes += int64(n)
	return n, err
}

func (c *connStats) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	c.sentBytes += int64(n)
	return n, err
}

func (c *connStats) Close() error {
	logrus.WithFields(logrus.Fields{
		"conn":       c.id,
		"duration":   time.Since(c.openedAt),
		"recv_bytes": c.recvBytes,
		"sent_bytes": c.sentBytes,
	}).Debug("control: connection stats")
	return c.Conn.Close()
}
