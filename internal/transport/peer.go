package transport

import (
	"context"
	"net"
	"time"

	"github.com/1ureka/rudp/internal/conn"
	"github.com/1ureka/rudp/internal/protocol"
)

// peer is the serialized execution context for one connection: a single
// goroutine owns the Connection and applies every inbound packet and
// submit request in order, so the engine runs without locks.
type peer struct {
	sock *Socket
	conn *conn.Connection

	inbox  chan *protocol.Packet
	submit chan submitReq

	ctx    context.Context
	cancel context.CancelFunc
}

type submitReq struct {
	proto   uint16
	payload []byte
	budget  int
}

func newPeer(s *Socket, raddr *net.UDPAddr) *peer {
	ctx, cancel := context.WithCancel(s.ctx)
	p := &peer{
		sock:   s,
		inbox:  make(chan *protocol.Packet, s.opts.InboxSize),
		submit: make(chan submitReq, s.opts.InboxSize),
		ctx:    ctx,
		cancel: cancel,
	}
	p.conn = conn.New(raddr, &peerSender{p}, s.opts.WindowSize)
	return p
}

// run is the owning goroutine. It exits when the socket shuts down or
// when the connection has been dead for a full sweep interval; an idle
// connection is first marked dead and removed only if it stays silent,
// since any received packet revives it.
func (p *peer) run() {
	defer p.sock.wg.Done()
	defer p.cancel()

	sweep := time.NewTicker(p.sock.opts.PruneInterval)
	defer sweep.Stop()

	for {
		select {
		case pkt := <-p.inbox:
			p.conn.OnReceive(pkt)
			p.conn.Drain(p.sock.dispatcher)

		case req := <-p.submit:
			if req.proto == protocol.ProtoPing {
				p.conn.Ping()
			} else {
				p.conn.Submit(req.payload, req.budget)
			}

		case <-sweep.C:
			if time.Since(p.conn.LastRecvTime()) < p.sock.opts.IdleTimeout {
				continue
			}
			if p.conn.IsDead() {
				p.sock.removePeer(p.conn.Peer().String())
				p.sock.notify(Event{Kind: EventPeerDisconnect, Conn: p.conn})
				p.conn.LogStats()
				return
			}
			p.conn.MarkDead(true)

		case <-p.ctx.Done():
			return
		}
	}
}

// enqueue hands a submit request to the owning goroutine, blocking for
// backpressure. It returns silently once the peer is gone.
func (p *peer) enqueue(req submitReq) {
	select {
	case p.submit <- req:
	case <-p.ctx.Done():
	}
}

// peerSender adapts the shared socket to the engine's DatagramSender and
// reports write failures to the observers. It is only invoked from the
// peer's own goroutine, so socket writes need no further arbitration.
type peerSender struct {
	p *peer
}

func (ps *peerSender) SendDatagram(data []byte, raddr *net.UDPAddr) error {
	_, err := ps.p.sock.udp.WriteToUDP(data, raddr)
	if err != nil {
		ps.p.sock.notify(Event{Kind: EventError, Conn: ps.p.conn, Err: err})
	}
	return err
}

// ---------------------------------------------------------------------------
// Caller-facing handle
// ---------------------------------------------------------------------------

// Conn is the handle for one peer connection. Its methods forward work
// onto the goroutine owning the connection and are safe to call from any
// goroutine.
type Conn struct {
	p *peer
}

// Submit sends payload reliably with the given resend budget.
func (h *Conn) Submit(payload []byte, resendBudget int) {
	h.p.enqueue(submitReq{proto: protocol.ProtoData, payload: payload, budget: resendBudget})
}

// Ping sends an empty keepalive packet.
func (h *Conn) Ping() {
	h.p.enqueue(submitReq{proto: protocol.ProtoPing})
}

// Peer returns the remote address.
func (h *Conn) Peer() *net.UDPAddr { return h.p.conn.Peer() }

// IsDead reports whether the connection has been marked inactive.
func (h *Conn) IsDead() bool { return h.p.conn.IsDead() }

// RTT returns the smoothed round-trip estimate.
func (h *Conn) RTT() time.Duration { return h.p.conn.RTT() }

// Done returns a channel closed once the connection is pruned or the
// socket shuts down.
func (h *Conn) Done() <-chan struct{} { return h.p.ctx.Done() }
