package conn

import "github.com/1ureka/rudp/internal/protocol"

// ReceivedPacketStore is a bounded ring of packets received but not yet
// handed to the dispatcher, keyed by seqNum mod capacity. Duplicates are
// detected and never overwrite the first arrival; draining removes entries
// in strictly increasing sequence order.
type ReceivedPacketStore struct {
	slots  []*protocol.Packet
	count  int
	oldest protocol.SeqNum // valid while count > 0
}

// NewReceivedPacketStore creates an empty store with the given slot count.
func NewReceivedPacketStore(capacity int) *ReceivedPacketStore {
	return &ReceivedPacketStore{slots: make([]*protocol.Packet, capacity)}
}

func (r *ReceivedPacketStore) slot(seq protocol.SeqNum) int {
	return int(seq) % len(r.slots)
}

// Insert stores pkt and returns nil, or returns the resident packet when
// it cannot store cleanly: a same-seq resident signals a duplicate (the
// first arrival stays untouched); a different-seq resident signals a
// window overrun (the old occupant is evicted — data loss).
func (r *ReceivedPacketStore) Insert(pkt *protocol.Packet) *protocol.Packet {
	seq := pkt.Header.SeqNum
	i := r.slot(seq)
	old := r.slots[i]
	if old != nil {
		if old.Header.SeqNum == seq {
			return old
		}
		r.removeAt(i)
	}

	r.slots[i] = pkt
	r.count++
	if r.count == 1 || protocol.IsMoreRecent(seq, r.oldest) {
		r.oldest = seq
	}
	return old
}

// RemoveOldest removes and returns the resident packet with the lowest
// sequence number, or nil when the store is empty. Repeated calls drain
// the store in strictly increasing sequence order.
func (r *ReceivedPacketStore) RemoveOldest() *protocol.Packet {
	if r.count == 0 {
		return nil
	}
	return r.removeAt(r.slot(r.oldest))
}

// IsEmpty reports whether no packets are awaiting dispatch.
func (r *ReceivedPacketStore) IsEmpty() bool { return r.count == 0 }

// Len returns the number of resident packets.
func (r *ReceivedPacketStore) Len() int { return r.count }

func (r *ReceivedPacketStore) removeAt(i int) *protocol.Packet {
	pkt := r.slots[i]
	r.slots[i] = nil
	r.count--
	if r.count > 0 && pkt.Header.SeqNum == r.oldest {
		r.advanceOldest()
	}
	return pkt
}

// advanceOldest walks the cursor forward in sequence order to the next
// resident packet. count must be > 0.
func (r *ReceivedPacketStore) advanceOldest() {
	for {
		r.oldest++
		if i := r.slot(r.oldest); r.slots[i] != nil && r.slots[i].Header.SeqNum == r.oldest {
			return
		}
	}
}
