package transport

import (
	"net"

	"github.com/1ureka/rudp/internal/conn"
	"github.com/1ureka/rudp/internal/util"
)

// EventKind discriminates socket state events.
type EventKind int

const (
	EventConnect        EventKind = iota // first contact with a new peer
	EventPeerDisconnect                  // idle connection pruned
	EventBadPacketSize                   // datagram outside the valid size bounds
	EventError                           // send or receive error on the socket
	EventShutdown                        // socket closing
)

// Event is one socket state change. Fields beyond Kind are populated
// according to the kind: Conn for Connect/PeerDisconnect/Error, Addr and
// Size for BadPacketSize, Err for Error.
type Event struct {
	Kind EventKind
	Conn *conn.Connection
	Addr *net.UDPAddr
	Size int
	Err  error
}

// Observer receives socket state events. Callbacks run on socket
// goroutines and must not block.
type Observer interface {
	OnEvent(Event)
}

// StateLogger is an Observer that reports every event through the process
// logger.
type StateLogger struct{}

// OnEvent implements Observer.
func (StateLogger) OnEvent(ev Event) {
	switch ev.Kind {
	case EventConnect:
		util.LogInfo("connection established with %s", ev.Conn.Peer())
	case EventPeerDisconnect:
		util.LogInfo("peer %s disconnected", ev.Conn.Peer())
	case EventBadPacketSize:
		util.LogError("received packet with bad size %d from %s", ev.Size, ev.Addr)
	case EventError:
		util.LogError("error on connection with %s: %v", ev.Conn.Peer(), ev.Err)
	case EventShutdown:
		util.LogInfo("socket is shutting down")
	}
}
