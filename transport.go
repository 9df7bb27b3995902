package sfu

// Transport is the boundary to the packet layer the embedder owns
// (ICE/DTLS/SRTP termination and sockets live behind it). Sends are
// non-blocking: an implementation that cannot accept bytes right now
// returns ErrWouldBlock and the core drops the packet, which is acceptable
// for RTP and documented for RTCP. Implementations must copy data before
// returning; the core does not keep the slice alive.
type Transport interface {
	SendRtp(data []byte) error
	SendRtcp(data []byte) error
}
