// Package conn implements the per-peer protocol engine for reliable
// delivery over an unreliable datagram transport: the acknowledgment
// window, the sent and received packet ring buffers, RTT estimation, and
// the resend/timeout policy tying them together.
package conn

import "github.com/1ureka/rudp/internal/protocol"

// ackBitCount is the lookback depth of the receipt mask.
const ackBitCount = 32

// AckWindow tracks the most recent sequence number received from a peer
// plus a bitmask of the 32 receipts preceding it: bit i set means
// Latest-(i+1) was received. Every outgoing header carries a copy, so a
// single lost datagram cannot strand a sent packet unconfirmed — the next
// header re-confirms it as long as it is within the lookback.
type AckWindow struct {
	Latest protocol.SeqNum
	Bits   uint32
}

// UpdateForSeqNum records receipt of seq. A more recent seq shifts the
// window forward; one at or behind Latest but within the lookback sets the
// matching bit; anything older goes unrecorded.
func (w *AckWindow) UpdateForSeqNum(seq protocol.SeqNum) {
	switch {
	case protocol.IsMoreRecent(w.Latest, seq):
		gap := protocol.Distance(w.Latest, seq)
		if gap >= ackBitCount {
			// Jumped past the whole lookback: every recorded receipt is
			// stale, so the mask restarts at the new latest.
			w.Bits = 0
		} else {
			w.Bits = w.Bits<<uint(gap) | 1<<uint(gap-1)
		}
		w.Latest = seq

	case seq == w.Latest:
		// Duplicate of the latest receipt, already represented.

	default:
		if back := protocol.Distance(seq, w.Latest); back <= ackBitCount {
			w.Bits |= 1 << uint(back-1)
		}
	}
}

// ForEachAckedSeqNum invokes fn once for Latest and once for each set
// bit's sequence number. Order is unspecified; the callback only drives
// delivery confirmation, which is order-insensitive.
func (w AckWindow) ForEachAckedSeqNum(fn func(protocol.SeqNum)) {
	fn(w.Latest)
	for i := 0; i < ackBitCount; i++ {
		if w.Bits&(1<<uint(i)) != 0 {
			fn(w.Latest - protocol.SeqNum(i+1))
		}
	}
}
