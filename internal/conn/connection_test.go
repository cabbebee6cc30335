package conn

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/1ureka/rudp/internal/protocol"
)

// captureSender records every successfully transmitted packet and can be
// told to fail the next few sends.
type captureSender struct {
	packets  []*protocol.Packet
	failNext int
}

func (m *captureSender) SendDatagram(data []byte, _ *net.UDPAddr) error {
	if m.failNext > 0 {
		m.failNext--
		return errors.New("link down")
	}
	pkt, err := protocol.Decode(data)
	if err != nil {
		return err
	}
	m.packets = append(m.packets, pkt)
	return nil
}

// collectDispatcher records drained packets in dispatch order.
type collectDispatcher struct {
	seqs     []protocol.SeqNum
	payloads [][]byte
}

func (d *collectDispatcher) DispatchPacket(_ *Connection, pkt *protocol.Packet) {
	d.seqs = append(d.seqs, pkt.Header.SeqNum)
	d.payloads = append(d.payloads, pkt.Payload)
}

func testAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

// newTestConn builds a connection with an adjustable clock shared by the
// engine and its sent store.
func newTestConn(sender DatagramSender, windowSize int, clock *time.Time) *Connection {
	c := New(testAddr(9999), sender, windowSize)
	c.now = func() time.Time { return *clock }
	c.sent.now = c.now
	return c
}

func TestSubmitStampsSequentialSeqNums(t *testing.T) {
	sender := &captureSender{}
	clock := time.Unix(1000, 0)
	c := newTestConn(sender, 64, &clock)

	for i := 0; i < 3; i++ {
		c.Submit([]byte{byte(i)}, 0)
	}

	if len(sender.packets) != 3 {
		t.Fatalf("transmitted %d packets, want 3", len(sender.packets))
	}
	for i, pkt := range sender.packets {
		if pkt.Header.SeqNum != protocol.SeqNum(i) {
			t.Errorf("packet %d has seq %d, want %d", i, pkt.Header.SeqNum, i)
		}
		if pkt.Header.Proto != protocol.ProtoData {
			t.Errorf("packet %d has proto %d, want ProtoData", i, pkt.Header.Proto)
		}
	}
	if c.sent.Len() != 3 {
		t.Errorf("sent store holds %d entries, want 3", c.sent.Len())
	}
}

// A payload that cannot fit a datagram is refused up front: no sequence
// number is consumed and nothing reaches the wire.
func TestSubmitRejectsOversizedPayload(t *testing.T) {
	sender := &captureSender{}
	clock := time.Unix(1000, 0)
	c := newTestConn(sender, 64, &clock)

	c.Submit(make([]byte, protocol.MaxPayloadSize+1), 3)

	if len(sender.packets) != 0 {
		t.Fatalf("transmitted %d packets, want 0", len(sender.packets))
	}
	if !c.sent.IsEmpty() {
		t.Error("rejected payload resident in the sent store")
	}
	_, _, _, lost := c.Stats()
	if lost != 1 {
		t.Errorf("lost = %d, want 1", lost)
	}

	// The cap itself still fits.
	c.Submit(make([]byte, protocol.MaxPayloadSize), 0)
	if len(sender.packets) != 1 || sender.packets[0].Header.SeqNum != 0 {
		t.Error("full-size payload not transmitted as seq 0")
	}
}

// One observed RTT of 150ms against the initial 50ms estimate must yield
// (9*50 + 150) / 10 = 60ms.
func TestRTTSmoothing(t *testing.T) {
	sender := &captureSender{}
	clock := time.Unix(1000, 0)
	c := newTestConn(sender, 64, &clock)

	c.Submit([]byte("probe"), 0) // seq 0
	clock = clock.Add(150 * time.Millisecond)

	// Peer packet acknowledging seq 0.
	ack := protocol.New(protocol.ProtoPing, nil)
	ack.Header.SeqNum = 0
	ack.Header.Ack = 0
	c.OnReceive(ack)

	if got := c.RTT(); got != 60*time.Millisecond {
		t.Errorf("RTT = %v, want 60ms", got)
	}
	if !c.sent.IsEmpty() {
		t.Error("acknowledged packet still resident")
	}
	_, _, acked, _ := c.Stats()
	if acked != 1 {
		t.Errorf("acked = %d, want 1", acked)
	}
}

// A packet with resend budget 2 that is never acknowledged is retransmitted
// exactly twice after timing out, then dropped for good.
func TestResendBudgetExhaustion(t *testing.T) {
	sender := &captureSender{}
	clock := time.Unix(1000, 0)
	c := newTestConn(sender, 64, &clock)
	c.nextSeq = 100 // keep clear of the peer's default ack of 0

	c.Submit([]byte("stubborn"), 2)

	// Each peer packet carries an ack field that covers nothing we sent,
	// so only the 2-second timeout can expire the entry.
	for step := protocol.SeqNum(1); step <= 3; step++ {
		clock = clock.Add(2500 * time.Millisecond)
		pkt := protocol.New(protocol.ProtoPing, nil)
		pkt.Header.SeqNum = step
		c.OnReceive(pkt)
	}

	var transmissions int
	for _, pkt := range sender.packets {
		if pkt.Header.SeqNum == 100 {
			transmissions++
		}
	}
	if transmissions != 3 {
		t.Errorf("seq 100 transmitted %d times, want 3 (original + 2 resends)", transmissions)
	}
	if !c.sent.IsEmpty() {
		t.Error("dropped packet still resident")
	}
	_, _, _, lost := c.Stats()
	if lost != 1 {
		t.Errorf("lost = %d, want 1", lost)
	}
}

// Eviction with a spent budget drops the displaced packet instead of
// cascading through the ring.
func TestSendBufferOverflowDrops(t *testing.T) {
	sender := &captureSender{}
	clock := time.Unix(1000, 0)
	c := newTestConn(sender, 4, &clock)

	for i := 0; i < 5; i++ {
		c.Submit([]byte{byte(i)}, 0)
	}

	if c.sent.Len() != 4 {
		t.Errorf("sent store holds %d entries, want 4", c.sent.Len())
	}
	if c.sent.Contains(0) {
		t.Error("displaced seq 0 still resident")
	}
	_, _, _, lost := c.Stats()
	if lost != 1 {
		t.Errorf("lost = %d, want 1", lost)
	}
}

// A transport write failure consumes one unit of resend budget.
func TestSendFailureRetries(t *testing.T) {
	sender := &captureSender{failNext: 1}
	clock := time.Unix(1000, 0)
	c := newTestConn(sender, 64, &clock)

	c.Submit([]byte("flaky"), 1)

	if len(sender.packets) != 1 {
		t.Fatalf("delivered %d packets, want 1 (second attempt)", len(sender.packets))
	}
	if !c.sent.Contains(0) {
		t.Error("retried packet not resident")
	}
	sent, _, _, lost := c.Stats()
	if sent != 2 {
		t.Errorf("sent = %d, want 2 (failed attempt counts)", sent)
	}
	if lost != 0 {
		t.Errorf("lost = %d, want 0", lost)
	}
}

// A write failure with no budget left drops the packet.
func TestSendFailureExhaustsBudget(t *testing.T) {
	sender := &captureSender{failNext: 2}
	clock := time.Unix(1000, 0)
	c := newTestConn(sender, 64, &clock)

	c.Submit([]byte("doomed"), 1)

	if len(sender.packets) != 0 {
		t.Fatalf("delivered %d packets, want 0", len(sender.packets))
	}
	if !c.sent.IsEmpty() {
		t.Error("dropped packet still resident")
	}
	_, _, _, lost := c.Stats()
	if lost != 1 {
		t.Errorf("lost = %d, want 1", lost)
	}
}

// Once the peer's ack advances more than 256 past a resident packet, the
// entry is expired immediately: no clock advance is needed, and a leftover
// resend budget is burned in the same pass because the peer's ack fields
// can never reach back that far again.
func TestSeqNumCutoffExpiry(t *testing.T) {
	sender := &captureSender{}
	clock := time.Unix(1000, 0)
	c := newTestConn(sender, 64, &clock)

	c.Submit([]byte("left behind"), 0) // seq 0
	c.Submit([]byte("retried"), 1)     // seq 1

	pkt := protocol.New(protocol.ProtoPing, nil)
	pkt.Header.SeqNum = 1
	pkt.Header.Ack = 300 // covers nothing we sent, cutoff is 300-256 = 44
	c.OnReceive(pkt)

	if !c.sent.IsEmpty() {
		t.Errorf("sent store still holds %d entries past the cutoff", c.sent.Len())
	}
	var retransmissions int
	for _, p := range sender.packets {
		if p.Header.SeqNum == 1 {
			retransmissions++
		}
	}
	if retransmissions != 2 {
		t.Errorf("seq 1 transmitted %d times, want 2 (budget spent on the spot)", retransmissions)
	}
	_, _, acked, lost := c.Stats()
	if acked != 0 {
		t.Errorf("acked = %d, want 0", acked)
	}
	if lost != 2 {
		t.Errorf("lost = %d, want 2", lost)
	}
}

// A packet the peer's latest ack skipped is still confirmed through the
// lookback bits: Ack=5 with bit 3 set acknowledges seq 1 and nothing else.
func TestAckBitsConfirmDelivery(t *testing.T) {
	sender := &captureSender{}
	clock := time.Unix(1000, 0)
	c := newTestConn(sender, 64, &clock)

	c.Submit([]byte("still in flight"), 0) // seq 0
	c.Submit([]byte("confirmed"), 0)       // seq 1
	clock = clock.Add(100 * time.Millisecond)

	pkt := protocol.New(protocol.ProtoPing, nil)
	pkt.Header.SeqNum = 1
	pkt.Header.Ack = 5
	pkt.Header.AckBits = 1 << 3 // seq 5-(3+1) = 1
	c.OnReceive(pkt)

	if c.sent.Contains(1) {
		t.Error("seq 1 still resident after being acknowledged through the bits")
	}
	if !c.sent.Contains(0) {
		t.Error("seq 0 was released without an acknowledgment")
	}
	_, _, acked, lost := c.Stats()
	if acked != 1 {
		t.Errorf("acked = %d, want 1", acked)
	}
	if lost != 0 {
		t.Errorf("lost = %d, want 0", lost)
	}
	// The bit-confirmed round trip feeds the estimate: (9*50 + 100) / 10.
	if got := c.RTT(); got != 55*time.Millisecond {
		t.Errorf("RTT = %v, want 55ms", got)
	}
}

func TestReceiveRevivesDeadConnection(t *testing.T) {
	clock := time.Unix(1000, 0)
	c := newTestConn(&captureSender{}, 64, &clock)

	c.MarkDead(true)
	pkt := protocol.New(protocol.ProtoPing, nil)
	pkt.Header.SeqNum = 1
	c.OnReceive(pkt)

	if c.IsDead() {
		t.Error("connection still dead after receiving a packet")
	}
}

func TestDuplicateReceiptCountedOnce(t *testing.T) {
	clock := time.Unix(1000, 0)
	c := newTestConn(&captureSender{}, 64, &clock)

	for i := 0; i < 2; i++ {
		pkt := protocol.New(protocol.ProtoData, []byte("dup"))
		pkt.Header.SeqNum = 7
		c.OnReceive(pkt)
	}

	d := &collectDispatcher{}
	c.Drain(d)
	if len(d.seqs) != 1 {
		t.Errorf("dispatched %d packets, want 1", len(d.seqs))
	}
	_, received, _, _ := c.Stats()
	if received != 2 {
		t.Errorf("received = %d, want 2 (duplicates still count as traffic)", received)
	}
}

// linkSender decodes outgoing datagrams and hands them to the other side,
// simulating a lossless in-process link.
type linkSender struct {
	deliver func(*protocol.Packet)
}

func (l *linkSender) SendDatagram(data []byte, _ *net.UDPAddr) error {
	pkt, err := protocol.Decode(data)
	if err != nil {
		return err
	}
	l.deliver(pkt)
	return nil
}

// ackingDispatcher records what it receives and answers every data packet
// with a keepalive so the sender's packets get acknowledged.
type ackingDispatcher struct {
	collectDispatcher
}

func (d *ackingDispatcher) DispatchPacket(c *Connection, pkt *protocol.Packet) {
	d.collectDispatcher.DispatchPacket(c, pkt)
	c.Ping()
}

// Two linked connections: A submits seq 0..4, B acknowledges everything.
// Afterwards A's sent store is empty with 5 confirmations, and B saw the
// payloads in order.
func TestEndToEndAcknowledgment(t *testing.T) {
	aSender := &linkSender{}
	bSender := &linkSender{}

	a := New(testAddr(1), aSender, 64)
	b := New(testAddr(2), bSender, 64)

	received := &ackingDispatcher{}
	discard := &collectDispatcher{}

	aSender.deliver = func(pkt *protocol.Packet) {
		b.OnReceive(pkt)
		b.Drain(received)
	}
	bSender.deliver = func(pkt *protocol.Packet) {
		a.OnReceive(pkt)
		a.Drain(discard)
	}

	payloads := []string{"alpha", "bravo", "charlie", "delta", "echo"}
	for _, p := range payloads {
		a.Submit([]byte(p), 1)
	}

	if !a.sent.IsEmpty() {
		t.Errorf("A still has %d unacknowledged packets", a.sent.Len())
	}
	_, _, acked, lost := a.Stats()
	if acked != 5 {
		t.Errorf("A acked = %d, want 5", acked)
	}
	if lost != 0 {
		t.Errorf("A lost = %d, want 0", lost)
	}

	if len(received.seqs) != 5 {
		t.Fatalf("B dispatched %d packets, want 5", len(received.seqs))
	}
	for i := range payloads {
		if received.seqs[i] != protocol.SeqNum(i) {
			t.Errorf("B dispatch position %d has seq %d, want %d", i, received.seqs[i], i)
		}
		if string(received.payloads[i]) != payloads[i] {
			t.Errorf("B dispatch position %d has payload %q, want %q", i, received.payloads[i], payloads[i])
		}
	}
}
