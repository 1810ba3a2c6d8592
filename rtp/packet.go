package rtp

import (
	"bytes"

	pionrtp "github.com/pion/rtp"
)

const (
	PayloadTypePCMU = 0
	// SamplesPerPacket is 20ms of 8kHz audio.
	SamplesPerPacket = 160
	HeaderSize       = 12
)

// PCMU silence.
var silence = bytes.Repeat([]byte{0xFF}, SamplesPerPacket)

// Packetizer produces consecutive PCMU silence packets for one stream.
type Packetizer struct {
	seq  uint16
	ts   uint32
	ssrc uint32
}

func NewPacketizer(seq uint16, ts uint32, ssrc uint32) *Packetizer {
	return &Packetizer{seq: seq, ts: ts, ssrc: ssrc}
}

// Next returns the next packet and advances sequence (mod 2^16) and
// timestamp (mod 2^32).
func (p *Packetizer) Next() []byte {
	pkt := pionrtp.Packet{
		Header: pionrtp.Header{
			Version:        2,
			PayloadType:    PayloadTypePCMU,
			SequenceNumber: p.seq,
			Timestamp:      p.ts,
			SSRC:           p.ssrc,
		},
		Payload: silence,
	}
	// Marshal only fails for malformed extensions, which are never set.
	b, _ := pkt.Marshal()
	p.seq++
	p.ts += SamplesPerPacket
	return b
}

func (p *Packetizer) Sequence() uint16  { return p.seq }
func (p *Packetizer) Timestamp() uint32 { return p.ts }
func (p *Packetizer) SSRC() uint32      { return p.ssrc }
