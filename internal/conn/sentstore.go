package conn

import (
	"fmt"
	"time"

	"github.com/1ureka/rudp/internal/protocol"
)

// SentEntry is one in-flight packet awaiting acknowledgment. It lives in
// exactly one slot of a SentPacketStore.
type SentEntry struct {
	Packet       *protocol.Packet
	ResendBudget int // retransmissions still permitted
	SentAt       time.Time
}

// SentPacketStore is a bounded ring of in-flight packets, keyed by
// seqNum mod capacity. A slot holds at most one entry; storing into an
// occupied slot evicts the occupant, which the caller must resend or drop.
// The oldest resident entry is tracked with a running cursor advanced in
// sequence order rather than a scan.
type SentPacketStore struct {
	slots  []SentEntry
	live   []bool
	count  int
	oldest protocol.SeqNum // valid while count > 0

	now func() time.Time
}

// NewSentPacketStore creates an empty store with the given slot count.
func NewSentPacketStore(capacity int) *SentPacketStore {
	return &SentPacketStore{
		slots: make([]SentEntry, capacity),
		live:  make([]bool, capacity),
		now:   time.Now,
	}
}

func (s *SentPacketStore) slot(seq protocol.SeqNum) int {
	return int(seq) % len(s.slots)
}

// Store stamps pkt's peer-ack fields from ack, records it with the given
// resend budget, and returns the evicted prior occupant of the slot, if
// any. Overwriting silently would leak an unconfirmed in-flight packet,
// so the caller must resend or drop the returned entry.
func (s *SentPacketStore) Store(pkt *protocol.Packet, budget int, ack AckWindow) *SentEntry {
	pkt.Header.Ack = ack.Latest
	pkt.Header.AckBits = ack.Bits

	seq := pkt.Header.SeqNum
	i := s.slot(seq)

	var evicted *SentEntry
	if s.live[i] {
		prev := s.removeAt(i)
		evicted = &prev
	}

	s.slots[i] = SentEntry{Packet: pkt, ResendBudget: budget, SentAt: s.now()}
	s.live[i] = true
	s.count++
	if s.count == 1 || protocol.IsMoreRecent(seq, s.oldest) {
		// seq is behind the current oldest (or is the only resident).
		s.oldest = seq
	}
	return evicted
}

// Contains reports whether the packet with the given sequence number is
// still awaiting acknowledgment.
func (s *SentPacketStore) Contains(seq protocol.SeqNum) bool {
	i := s.slot(seq)
	return s.live[i] && s.slots[i].Packet.Header.SeqNum == seq
}

// Release removes and returns the entry for seq. Callers must check
// Contains first; releasing an absent entry is a contract violation.
func (s *SentPacketStore) Release(seq protocol.SeqNum) SentEntry {
	if !s.Contains(seq) {
		panic(fmt.Sprintf("conn: release of absent sent packet %d", seq))
	}
	return s.removeAt(s.slot(seq))
}

// OldestSeqNum returns the sequence number of the oldest resident entry.
// The store must not be empty.
func (s *SentPacketStore) OldestSeqNum() protocol.SeqNum {
	if s.count == 0 {
		panic("conn: OldestSeqNum on empty sent store")
	}
	return s.oldest
}

// OldestTime returns the send timestamp of the oldest resident entry.
// The store must not be empty.
func (s *SentPacketStore) OldestTime() time.Time {
	if s.count == 0 {
		panic("conn: OldestTime on empty sent store")
	}
	return s.slots[s.slot(s.oldest)].SentAt
}

// IsEmpty reports whether no packets are awaiting acknowledgment.
func (s *SentPacketStore) IsEmpty() bool { return s.count == 0 }

// Len returns the number of resident entries.
func (s *SentPacketStore) Len() int { return s.count }

// removeAt clears slot i and moves the oldest cursor past the removed
// entry when it was the oldest.
func (s *SentPacketStore) removeAt(i int) SentEntry {
	e := s.slots[i]
	s.slots[i] = SentEntry{}
	s.live[i] = false
	s.count--
	if s.count > 0 && e.Packet.Header.SeqNum == s.oldest {
		s.advanceOldest()
	}
	return e
}

// advanceOldest walks the cursor forward in sequence order until it lands
// on the next resident entry. count must be > 0, which guarantees the walk
// terminates within one lap of the sequence space.
func (s *SentPacketStore) advanceOldest() {
	for {
		s.oldest++
		if i := s.slot(s.oldest); s.live[i] && s.slots[i].Packet.Header.SeqNum == s.oldest {
			return
		}
	}
}
