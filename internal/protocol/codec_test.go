package protocol

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		pkt  *Packet
	}{
		{
			name: "ping with no payload",
			pkt:  &Packet{Header: Header{SeqNum: 1, Proto: ProtoPing, Ack: 0, AckBits: 0}},
		},
		{
			name: "data with payload and acks",
			pkt: &Packet{
				Header:  Header{SeqNum: 42, Proto: ProtoData, Ack: 40, AckBits: 0xDEADBEEF},
				Payload: []byte("hello world"),
			},
		},
		{
			name: "wrapped sequence numbers",
			pkt: &Packet{
				Header:  Header{SeqNum: 65535, Proto: ProtoData, Ack: 65530, AckBits: 0xFFFFFFFF},
				Payload: []byte{0x00},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data := Encode(tc.pkt)
			if want := HeaderSize + len(tc.pkt.Payload); len(data) != want {
				t.Fatalf("encoded length = %d, want %d", len(data), want)
			}

			decoded, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if decoded.Header != tc.pkt.Header {
				t.Errorf("header mismatch: got %+v, want %+v", decoded.Header, tc.pkt.Header)
			}
			if !bytes.Equal(decoded.Payload, tc.pkt.Payload) {
				t.Errorf("payload mismatch: got %q, want %q", decoded.Payload, tc.pkt.Payload)
			}
		})
	}
}

func TestDecodeTooShort(t *testing.T) {
	if _, err := Decode(make([]byte, HeaderSize-1)); err == nil {
		t.Error("Decode accepted a datagram shorter than the header")
	}
}

// Decode must copy the payload so the transport can reuse its read buffer.
func TestDecodeCopiesPayload(t *testing.T) {
	pkt := &Packet{Header: Header{SeqNum: 3, Proto: ProtoData}, Payload: []byte("abc")}
	data := Encode(pkt)

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	data[HeaderSize] = 'X'
	if decoded.Payload[0] != 'a' {
		t.Error("decoded payload aliases the input buffer")
	}
}
