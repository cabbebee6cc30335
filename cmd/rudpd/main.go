// Rudpd is a reliable-datagram echo daemon.
//
// It maintains one reliable connection per peer over a shared UDP socket,
// echoes every data payload back through the connection it arrived on, and
// answers keepalive pings so the sender's acks keep flowing.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/pterm/pterm"

	"github.com/1ureka/rudp/internal/config"
	"github.com/1ureka/rudp/internal/conn"
	"github.com/1ureka/rudp/internal/protocol"
	"github.com/1ureka/rudp/internal/transport"
	"github.com/1ureka/rudp/internal/util"
)

var version = "dev"

// echoDispatcher receives drained packets in sequence order. It runs on
// the goroutine owning the connection, so replying through c directly is
// safe.
type echoDispatcher struct{}

func (echoDispatcher) DispatchPacket(c *conn.Connection, pkt *protocol.Packet) {
	switch pkt.Header.Proto {
	case protocol.ProtoPing:
		// Answer with a keepalive of our own so the sender's ack fields
		// come back and its RTT estimate converges.
		util.LogDebug("ping %d from %s", pkt.Header.SeqNum, c.Peer())
		c.Ping()
	case protocol.ProtoData:
		c.Submit(pkt.Payload, 1)
	default:
		util.LogWarning("packet %d from %s has unknown protocol %d", pkt.Header.SeqNum, c.Peer(), pkt.Header.Proto)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	configPath := flag.String("config", "", "Path to YAML config file")
	addr := flag.String("addr", "", "UDP listen address (overrides config)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if *debugMode || cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Rudpd — v%s", version))
	pterm.Println()

	sock, err := transport.Listen(ctx, cfg.ListenAddr, echoDispatcher{}, transport.Options{
		WindowSize:    cfg.WindowSize,
		InboxSize:     cfg.InboxSize,
		IdleTimeout:   cfg.IdleTimeout(),
		PruneInterval: cfg.PruneInterval(),
	}, transport.StateLogger{})
	if err != nil {
		util.LogError("failed to start socket: %v", err)
		os.Exit(1)
	}

	util.StartStatsReporter(ctx)
	util.LogInfo("listening on %s", sock.LocalAddr())

	<-ctx.Done()

	if err := sock.Close(); err != nil {
		util.LogError("socket close: %v", err)
		os.Exit(1)
	}
	util.LogInfo("shutdown complete")
}
