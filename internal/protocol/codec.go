package protocol

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Encode serializes a packet into a datagram ready for transmission.
func Encode(pkt *Packet) []byte {
	buf := make([]byte, HeaderSize+len(pkt.Payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(pkt.Header.SeqNum))
	binary.BigEndian.PutUint16(buf[2:4], pkt.Header.Proto)
	binary.BigEndian.PutUint16(buf[4:6], uint16(pkt.Header.Ack))
	binary.BigEndian.PutUint32(buf[6:10], pkt.Header.AckBits)
	copy(buf[HeaderSize:], pkt.Payload)
	return buf
}

// Decode deserializes a datagram into a packet. The payload is copied out
// of data, so the caller may reuse its read buffer.
func Decode(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, errors.Errorf("datagram too short: %d bytes (need at least %d)", len(data), HeaderSize)
	}
	pkt := &Packet{
		Header: Header{
			SeqNum:  SeqNum(binary.BigEndian.Uint16(data[0:2])),
			Proto:   binary.BigEndian.Uint16(data[2:4]),
			Ack:     SeqNum(binary.BigEndian.Uint16(data[4:6])),
			AckBits: binary.BigEndian.Uint32(data[6:10]),
		},
	}
	if len(data) > HeaderSize {
		pkt.Payload = make([]byte, len(data)-HeaderSize)
		copy(pkt.Payload, data[HeaderSize:])
	}
	return pkt, nil
}
