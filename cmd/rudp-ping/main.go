// Rudp-ping is a tick-loop client for the reliable datagram layer.
//
// It opens a connection to a server, sends a keepalive every interval
// until the tick budget runs out or the connection dies, and reports the
// smoothed round-trip estimate.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/rudp/internal/conn"
	"github.com/1ureka/rudp/internal/protocol"
	"github.com/1ureka/rudp/internal/transport"
	"github.com/1ureka/rudp/internal/util"
)

var version = "dev"

// logDispatcher reports whatever the server sends back.
type logDispatcher struct{}

func (logDispatcher) DispatchPacket(c *conn.Connection, pkt *protocol.Packet) {
	switch pkt.Header.Proto {
	case protocol.ProtoData:
		util.LogDebug("echo %d from %s: %d bytes", pkt.Header.SeqNum, c.Peer(), len(pkt.Payload))
	default:
		util.LogDebug("packet %d (proto %d) from %s", pkt.Header.SeqNum, pkt.Header.Proto, c.Peer())
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	addr := flag.String("addr", "localhost:13999", "Server address")
	ticks := flag.Int("ticks", 10, "Number of keepalive ticks to send")
	interval := flag.Duration("interval", 50*time.Millisecond, "Delay between ticks")
	payload := flag.String("payload", "", "Optional data payload to send each tick instead of a ping")
	budget := flag.Int("budget", 2, "Resend budget for data payloads")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Rudp-ping — v%s", version))
	pterm.Println()

	sock, err := transport.Listen(ctx, ":0", logDispatcher{}, transport.Options{}, transport.StateLogger{})
	if err != nil {
		util.LogError("failed to open socket: %v", err)
		os.Exit(1)
	}
	defer sock.Close()

	c, err := sock.Connection(*addr)
	if err != nil {
		util.LogError("failed to open connection: %v", err)
		os.Exit(1)
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for tick := 0; tick < *ticks; tick++ {
		if c.IsDead() {
			util.LogWarning("connection with %s is dead, stopping", c.Peer())
			break
		}

		if *payload != "" {
			c.Submit([]byte(*payload), *budget)
		} else {
			c.Ping()
		}
		util.LogDebug("tick %d", tick)

		select {
		case <-ticker.C:
		case <-ctx.Done():
			util.LogInfo("interrupted")
			return
		}
	}

	util.LogInfo("done, smoothed RTT with %s is %v", c.Peer(), c.RTT())
}
