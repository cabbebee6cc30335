package conn

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/1ureka/rudp/internal/protocol"
	"github.com/1ureka/rudp/internal/util"
)

// Engine tuning constants.
const (
	DefaultWindowSize = 1024 // slots in each packet store

	initialRTT      = 50 * time.Millisecond
	ackTimeout      = 2 * time.Second // resident longer than this ⇒ undelivered
	ackSeqNumCutoff = 256             // older than peerAck-256 ⇒ undelivered
)

// DatagramSender transmits one encoded datagram to a peer. Implementations
// are invoked only from the goroutine that owns the connection and report
// failures synchronously; the connection applies its resend-budget rule to
// failed sends, the sender must not retry on its own.
type DatagramSender interface {
	SendDatagram(data []byte, peer *net.UDPAddr) error
}

// PacketDispatcher consumes drained packets, one call per packet, in
// sequence order.
type PacketDispatcher interface {
	DispatchPacket(c *Connection, pkt *protocol.Packet)
}

// Connection is the per-peer protocol engine. It stamps outgoing packets
// with sequence numbers and ack fields, retires sent packets against the
// peer's acks, estimates RTT, resends or drops packets judged undelivered,
// and hands received packets to the dispatcher in order.
//
// A Connection is not safe for concurrent use: every method except IsDead,
// MarkDead and RTT must be called from the single goroutine that owns the
// connection (see internal/transport). Loss, duplication, reordering and
// buffer overrun are normal protocol conditions handled through counters
// and resends, never through errors.
type Connection struct {
	peer   *net.UDPAddr
	sender DatagramSender
	dead   atomic.Bool

	nextSeq protocol.SeqNum
	ack     AckWindow
	sent    *SentPacketStore
	recv    *ReceivedPacketStore

	rttNanos atomic.Int64
	recvTime time.Time

	sentCount int
	recvCount int
	ackdCount int
	lostCount int

	now func() time.Time
}

// New creates a connection for peer with the given store capacity.
// windowSize ≤ 0 selects DefaultWindowSize.
func New(peer *net.UDPAddr, sender DatagramSender, windowSize int) *Connection {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	c := &Connection{
		peer:   peer,
		sender: sender,
		sent:   NewSentPacketStore(windowSize),
		recv:   NewReceivedPacketStore(windowSize),
		now:    time.Now,
	}
	c.rttNanos.Store(int64(initialRTT))
	c.recvTime = c.now()
	return c
}

// Peer returns the remote address this connection serves.
func (c *Connection) Peer() *net.UDPAddr { return c.peer }

// IsDead reports whether the pruning layer has marked this connection
// inactive. The flag only informs retention decisions — a dead connection
// keeps processing packets until it is actually removed.
func (c *Connection) IsDead() bool { return c.dead.Load() }

// MarkDead sets or clears the dead flag.
func (c *Connection) MarkDead(dead bool) { c.dead.Store(dead) }

// RTT returns the smoothed round-trip estimate.
func (c *Connection) RTT() time.Duration { return time.Duration(c.rttNanos.Load()) }

// LastRecvTime returns when the last packet arrived from the peer.
func (c *Connection) LastRecvTime() time.Time { return c.recvTime }

// Stats returns the cumulative counters: packets sent (including resends),
// received, acknowledged by the peer, and dropped with an exhausted budget.
func (c *Connection) Stats() (sent, received, acked, lost int) {
	return c.sentCount, c.recvCount, c.ackdCount, c.lostCount
}

// Submit stamps payload with the next sequence number and the current ack
// fields, records it in the sent store, and transmits it. resendBudget is
// the number of retransmissions permitted if the packet is judged
// undelivered. Payloads over protocol.MaxPayloadSize cannot fit a datagram
// and are dropped outright, since the receiver's size gate would discard
// every transmission anyway.
func (c *Connection) Submit(payload []byte, resendBudget int) {
	if len(payload) > protocol.MaxPayloadSize {
		util.LogError("dropping %d-byte payload for %s, cap is %d bytes", len(payload), c.peer, protocol.MaxPayloadSize)
		c.lostCount++
		util.Stats.AddLost()
		return
	}
	c.send(protocol.New(protocol.ProtoData, payload), resendBudget, true)
}

// Ping transmits an empty keepalive packet. Keepalives are never
// retransmitted — the next tick supersedes them.
func (c *Connection) Ping() {
	c.send(protocol.New(protocol.ProtoPing, nil), 0, true)
}

type outgoing struct {
	pkt    *protocol.Packet
	budget int
}

// send transmits pkt plus any packets displaced along the way. Evicted and
// failed packets re-enter the work queue with a decremented budget instead
// of recursing, so a resend storm cannot grow the stack. Budgets strictly
// decrease on every requeue, which bounds the loop.
func (c *Connection) send(pkt *protocol.Packet, budget int, fresh bool) {
	if fresh {
		pkt.Header.SeqNum = c.nextSeq
		c.nextSeq++
	}

	queue := []outgoing{{pkt, budget}}
	for len(queue) > 0 {
		out := queue[0]
		queue = queue[1:]

		if evicted := c.sent.Store(out.pkt, out.budget, c.ack); evicted != nil {
			util.LogWarning("send buffer full on connection with %s", c.peer)
			queue = c.requeue(queue, *evicted)
		}

		seq := out.pkt.Header.SeqNum
		c.sentCount++
		util.Stats.AddSent(protocol.HeaderSize + len(out.pkt.Payload))

		if err := c.sender.SendDatagram(protocol.Encode(out.pkt), c.peer); err != nil {
			util.LogError("sending packet %d to %s failed: %v", seq, c.peer, err)
			if c.sent.Contains(seq) {
				queue = c.requeue(queue, c.sent.Release(seq))
			}
		}
	}
}

// requeue applies the resend-budget rule to a displaced entry: resend with
// one attempt fewer, or drop and count the packet as lost.
func (c *Connection) requeue(queue []outgoing, e SentEntry) []outgoing {
	if e.ResendBudget > 0 {
		return append(queue, outgoing{e.Packet, e.ResendBudget - 1})
	}
	c.lostCount++
	util.Stats.AddLost()
	util.LogDebug("dropping packet %d for %s, resend budget exhausted", e.Packet.Header.SeqNum, c.peer)
	return queue
}

// OnReceive feeds one decoded packet from the transport into the engine:
// the local ack window records the receipt, the peer's ack fields retire
// sent packets, and the packet is buffered for ordered dispatch. Receiving
// anything revives a connection the pruner has marked dead.
func (c *Connection) OnReceive(pkt *protocol.Packet) {
	c.recvTime = c.now()
	c.recvCount++
	c.dead.Store(false)
	util.Stats.AddRecv(protocol.HeaderSize + len(pkt.Payload))

	c.ack.UpdateForSeqNum(pkt.Header.SeqNum)
	c.processPeerAcks(pkt.Header.Ack, pkt.Header.AckBits)

	if old := c.recv.Insert(pkt); old != nil {
		if old.Header.SeqNum == pkt.Header.SeqNum {
			util.LogDebug("received packet %d duplicate from %s", pkt.Header.SeqNum, c.peer)
		} else {
			util.LogError("recv buffer full, discarding old packet %d from %s", old.Header.SeqNum, c.peer)
			util.Stats.AddLost()
		}
	}
}

// processPeerAcks retires every sent packet the peer's ack fields report
// received, then expires the stale prefix of the sent store oldest-first:
// an entry is judged undelivered once its seq is definitively outside the
// peer's visible window, or once it has sat unconfirmed past the ack
// timeout. The loop stops at the first entry that passes both tests.
func (c *Connection) processPeerAcks(peerAck protocol.SeqNum, peerAckBits uint32) {
	peer := AckWindow{Latest: peerAck, Bits: peerAckBits}
	peer.ForEachAckedSeqNum(c.confirmDelivery)

	minTime := c.now().Add(-ackTimeout)
	minSeq := peerAck - ackSeqNumCutoff

	for !c.sent.IsEmpty() {
		if protocol.IsMoreRecent(c.sent.OldestSeqNum(), minSeq) || c.sent.OldestTime().Before(minTime) {
			c.removeUndelivered(c.sent.OldestSeqNum())
		} else {
			break
		}
	}
}

// confirmDelivery retires one acknowledged packet and folds the observed
// round trip into the running estimate.
func (c *Connection) confirmDelivery(seq protocol.SeqNum) {
	if !c.sent.Contains(seq) {
		return
	}
	e := c.sent.Release(seq)

	observed := c.now().Sub(e.SentAt)
	avg := (9*time.Duration(c.rttNanos.Load()) + observed) / 10
	c.rttNanos.Store(int64(avg))

	c.ackdCount++
	util.Stats.AddAcked()
	util.LogDebug("acknowledged packet %d for peer %s, RTT %v, average %v", seq, c.peer, observed, avg)
}

// removeUndelivered releases a packet judged undelivered and applies the
// resend-budget rule to it.
func (c *Connection) removeUndelivered(seq protocol.SeqNum) {
	if !c.sent.Contains(seq) {
		return
	}
	e := c.sent.Release(seq)
	if e.ResendBudget > 0 {
		c.send(e.Packet, e.ResendBudget-1, false)
		return
	}
	c.lostCount++
	util.Stats.AddLost()
	util.LogDebug("dropping packet %d for %s, resend budget exhausted", seq, c.peer)
}

// Drain hands every buffered received packet to the dispatcher, oldest
// first, until the receive store is empty. The dispatcher runs on the
// owning goroutine, so it may submit replies on this connection directly.
func (c *Connection) Drain(d PacketDispatcher) {
	for {
		pkt := c.recv.RemoveOldest()
		if pkt == nil {
			return
		}
		d.DispatchPacket(c, pkt)
	}
}

// LogStats reports the lifetime counters; the transport calls this when
// the connection is pruned.
func (c *Connection) LogStats() {
	util.LogInfo("stats for %s: sent %d packets, confirmed %d of them, received %d packets, dropped %d, latest RTT %v",
		c.peer, c.sentCount, c.ackdCount, c.recvCount, c.lostCount, c.RTT())
}
