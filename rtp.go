package media

import (
	"sync"
	"time"

	"github.com/pion/rtp"
)

// Re-export pion/rtp types for convenience
type (
	// RTPPacket is an alias to pion's rtp.Packet
	RTPPacket = rtp.Packet

	// RTPHeader is an alias to pion's rtp.Header
	RTPHeader = rtp.Header
)

// RTPPacketizer segments encoded frames into RTP packets.
type RTPPacketizer interface {
	// Packetize converts an encoded frame to RTP packets.
	Packetize(frame *EncodedFrame) ([]*RTPPacket, error)

	// PacketizeToBytes converts an encoded frame to raw RTP packet bytes.
	PacketizeToBytes(frame *EncodedFrame) ([][]byte, error)

	SetSSRC(ssrc uint32)
	SSRC() uint32
	PayloadType() uint8
	SetPayloadType(pt uint8)
	MTU() int
	SetMTU(mtu int)
}

// RTPDepacketizer reassembles RTP packets into encoded frames.
type RTPDepacketizer interface {
	// Depacketize processes an RTP packet and returns a complete frame if available.
	// Returns nil if the frame is not yet complete.
	Depacketize(packet *RTPPacket) (*EncodedFrame, error)

	// DepacketizeBytes processes raw RTP packet bytes.
	DepacketizeBytes(data []byte) (*EncodedFrame, error)

	// Reset clears any buffered partial frames.
	Reset()
}

// RTPWriter is an interface for writing RTP packets.
type RTPWriter interface {
	// WriteRTP writes an RTP packet.
	WriteRTP(packet *RTPPacket) error
}

// Default MTU for RTP packets (UDP safe)
const DefaultMTU = 1200

const rtpHeaderSize = 12

// rtpStream holds the per-SSRC state shared by the packetizers.
type rtpStream struct {
	mu          sync.Mutex
	ssrc        uint32
	payloadType uint8
	mtu         int
	sequencer   rtp.Sequencer
}

func (s *rtpStream) init(ssrc uint32, payloadType uint8, mtu int) {
	if mtu <= rtpHeaderSize+2 {
		mtu = DefaultMTU
	}
	s.ssrc, s.payloadType, s.mtu = ssrc, payloadType, mtu
	s.sequencer = rtp.NewRandomSequencer()
}

// header returns the next packet header. s.mu must be held.
func (s *rtpStream) header(marker bool, timestamp uint32) rtp.Header {
	return rtp.Header{
		Version:        2,
		Marker:         marker,
		PayloadType:    s.payloadType,
		SequenceNumber: s.sequencer.NextSequenceNumber(),
		Timestamp:      timestamp,
		SSRC:           s.ssrc,
	}
}

func (s *rtpStream) SetSSRC(ssrc uint32)     { s.mu.Lock(); s.ssrc = ssrc; s.mu.Unlock() }
func (s *rtpStream) SSRC() uint32            { s.mu.Lock(); defer s.mu.Unlock(); return s.ssrc }
func (s *rtpStream) PayloadType() uint8      { s.mu.Lock(); defer s.mu.Unlock(); return s.payloadType }
func (s *rtpStream) SetPayloadType(pt uint8) { s.mu.Lock(); s.payloadType = pt; s.mu.Unlock() }
func (s *rtpStream) MTU() int                { s.mu.Lock(); defer s.mu.Unlock(); return s.mtu }

// SetMTU changes the packet size limit; values too small to carry a
// fragment are ignored.
func (s *rtpStream) SetMTU(mtu int) {
	if mtu <= rtpHeaderSize+2 {
		return
	}
	s.mu.Lock()
	s.mtu = mtu
	s.mu.Unlock()
}

func marshalPackets(packets []*RTPPacket, err error) ([][]byte, error) {
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(packets))
	for i, pkt := range packets {
		if out[i], err = pkt.Marshal(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// rtpTimestamp converts a presentation timestamp to RTP clock units.
func rtpTimestamp(ts time.Duration, clockRate uint32) uint32 {
	return uint32(int64(ts) * int64(clockRate) / int64(time.Second))
}

// rtpDuration converts RTP clock units back to a duration.
func rtpDuration(ts uint32, clockRate uint32) time.Duration {
	if clockRate == 0 {
		return 0
	}
	return time.Duration(int64(ts) * int64(time.Second) / int64(clockRate))
}

// IsRTPTimestampOlder returns true if ts1 is older than or equal to ts2,
// handling 32-bit wraparound correctly per RTP timestamp comparison rules.
func IsRTPTimestampOlder(ts1, ts2 uint32) bool {
	if ts1 == ts2 {
		return true
	}
	// ts1 is older if (ts2 - ts1) < 2^31
	diff := ts2 - ts1
	return diff < 0x80000000
}
