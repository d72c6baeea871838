// Command replayclientstub is a minimal standalone control-protocol client:
// it dials an interceptd control listener and emits a CLIENT_ADD or
// CLIENT_DEL frame for manual testing of the wire protocol. It is not part
// of the production core.
package main

import (
	"fmt"
	"net"
	"net/netip"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/runZeroInc/tcpintercept/pkg/wire"
)

func main() {
	if len(os.Args) != 5 {
		fmt.Fprintf(os.Stderr, "Usage: %s <server-addr> add|del <client-ip> <client-port>\n", os.Args[0])
		os.Exit(1)
	}

	serverAddr := os.Args[1]
	action := os.Args[2]
	clientIP := os.Args[3]
	clientPort := os.Args[4]

	var msgType wire.MsgType
	switch action {
	case "add":
		msgType = wire.ClientAdd
	case "del":
		msgType = wire.ClientDel
	default:
		logrus.Fatalf("unknown action %q, want add or del", action)
	}

	addr, err := netip.ParseAddr(clientIP)
	if err != nil {
		logrus.Fatalf("invalid client IP %q: %v", clientIP, err)
	}

	var port uint16
	if _, err := fmt.Sscanf(clientPort, "%d", &port); err != nil {
		logrus.Fatalf("invalid client port %q: %v", clientPort, err)
	}

	conn, err := net.Dial("tcp", serverAddr)
	if err != nil {
		logrus.Fatalf("dial %s: %v", serverAddr, err)
	}
	defer conn.Close()

	msg := wire.ClientMsg{ClientIP: addr, ClientPort: port, Type: msgType}
	if _, err := conn.Write(wire.Encode(msg)); err != nil {
		logrus.Fatalf("write: %v", err)
	}

	logrus.Infof("sent %s for %s:%d to %s", action, addr, port, serverAddr)
}
