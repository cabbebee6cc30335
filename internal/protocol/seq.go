package protocol

// SeqNum is a 16-bit cyclic packet sequence number. Comparisons are never
// absolute — recency is defined by the signed forward distance, which bounds
// the usable in-flight window to half the sequence space.
type SeqNum uint16

// Distance returns the forward cyclic distance from a to b, wrapping at
// 65536. The result is in [-32768, 32767].
func Distance(a, b SeqNum) int {
	return int(int16(b - a))
}

// IsMoreRecent reports whether b is more recent than a, i.e. b is reachable
// from a by a positive forward step of at most 32767.
func IsMoreRecent(a, b SeqNum) bool {
	return int16(b-a) > 0
}
