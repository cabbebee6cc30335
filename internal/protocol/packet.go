// Package protocol defines the wire format of the reliable datagram layer:
// the fixed reliability header, the packet structure, and wraparound-safe
// sequence number arithmetic.
package protocol

// Protocol identifiers carried in the header's Proto field.
const (
	ProtoPing uint16 = 0x01 // keepalive tick, empty payload
	ProtoData uint16 = 0x02 // application payload
)

// HeaderSize is the fixed header size: SeqNum(2) + Proto(2) + Ack(2) + AckBits(4).
const HeaderSize = 10

// MaxDatagramSize bounds a whole datagram (header + payload). The transport
// rejects anything larger before it reaches a connection.
const MaxDatagramSize = 512

// MaxPayloadSize is the most payload a single packet can carry.
const MaxPayloadSize = MaxDatagramSize - HeaderSize

// Header is the reliability header preceding every payload.
type Header struct {
	SeqNum  SeqNum // sender's packet sequence number
	Proto   uint16 // discriminates payload kind
	Ack     SeqNum // latest seq the sender has received from its peer
	AckBits uint32 // receipt mask for the 32 seqs preceding Ack
}

// Packet owns a header plus opaque payload bytes. An outstanding packet is
// referenced by at most one store slot plus any in-progress send, never by
// two slots.
type Packet struct {
	Header  Header
	Payload []byte
}

// New creates an unstamped packet. The connection fills in the sequence
// number on submission and the ack fields on every store.
func New(proto uint16, payload []byte) *Packet {
	return &Packet{Header: Header{Proto: proto}, Payload: payload}
}
