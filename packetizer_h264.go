package media

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/pion/rtp"
)

// H264Packetizer splits Annex-B access units from the encode accelerator
// into RTP packets, RFC 6184 packetization mode 1. Parameter sets travel
// together in one STAP-A and NAL units larger than the MTU are cut into
// FU-A fragments. Access unit delimiters are dropped.
type H264Packetizer struct {
	rtpStream
}

// NewH264Packetizer creates a new H.264 RTP packetizer.
func NewH264Packetizer(ssrc uint32, payloadType uint8, mtu int) *H264Packetizer {
	p := &H264Packetizer{}
	p.init(ssrc, payloadType, mtu)
	return p
}

// Packetize converts an Annex-B access unit into RTP packets. The marker
// bit is set on the last packet only.
func (p *H264Packetizer) Packetize(frame *EncodedFrame) ([]*RTPPacket, error) {
	if len(frame.Data) == 0 {
		return nil, nil
	}
	nalus, err := scanAnnexB(frame.Data)
	if err != nil {
		return nil, err
	}
	if len(nalus) == 0 {
		return nil, fmt.Errorf("%w: no NAL units in %d bytes", ErrMalformedBitstream, len(frame.Data))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	maxPayload := p.mtu - rtpHeaderSize

	var payloads [][]byte
	var stap []byte
	flush := func() {
		if stap != nil {
			payloads = append(payloads, stap)
			stap = nil
		}
	}
	for _, n := range nalus {
		switch {
		case n.nalType == nalTypeAUD:
			continue
		case (n.nalType == nalTypeSPS || n.nalType == nalTypePPS) && 3+len(n.payload) <= maxPayload:
			if stap != nil && len(stap)+2+len(n.payload) > maxPayload {
				flush()
			}
			stap = appendSTAPA(stap, n.payload)
			continue
		}
		flush()
		if len(n.payload) <= maxPayload {
			payloads = append(payloads, n.payload)
		} else {
			payloads = append(payloads, fragmentFUA(n.payload, maxPayload)...)
		}
	}
	flush()

	ts := rtpTimestamp(frame.Timestamp, VideoCodecH264.ClockRate())
	packets := make([]*RTPPacket, len(payloads))
	for i, payload := range payloads {
		packets[i] = &RTPPacket{Header: p.header(i == len(payloads)-1, ts), Payload: payload}
	}
	return packets, nil
}

// PacketizeToBytes converts an encoded H.264 frame to raw RTP packet bytes.
func (p *H264Packetizer) PacketizeToBytes(frame *EncodedFrame) ([][]byte, error) {
	return marshalPackets(p.Packetize(frame))
}

// appendSTAPA adds nal to a STAP-A payload, starting one when stap is nil.
// The STAP-A NRI is the highest NRI of its units.
func appendSTAPA(stap, nal []byte) []byte {
	if stap == nil {
		stap = []byte{nalTypeSTAPA}
	}
	if nri := nal[0] & 0x60; nri > stap[0]&0x60 {
		stap[0] = nri | nalTypeSTAPA
	}
	stap = binary.BigEndian.AppendUint16(stap, uint16(len(nal)))
	return append(stap, nal...)
}

// fragmentFUA cuts nal into FU-A payloads of at most maxPayload bytes.
func fragmentFUA(nal []byte, maxPayload int) [][]byte {
	indicator := nal[0]&0x60 | nalTypeFUA
	nalType := nal[0] & 0x1F
	body := nal[1:]
	chunk := maxPayload - 2

	var out [][]byte
	for off := 0; off < len(body); off += chunk {
		end := min(off+chunk, len(body))
		header := nalType
		if off == 0 {
			header |= 0x80
		}
		if end == len(body) {
			header |= 0x40
		}
		payload := make([]byte, 0, 2+end-off)
		payload = append(payload, indicator, header)
		out = append(out, append(payload, body[off:end]...))
	}
	return out
}

// H264Depacketizer reassembles H.264 access units from RTP packets into
// Annex-B, the form Decode expects.
type H264Depacketizer struct {
	mu          sync.Mutex
	frameData   []byte
	fuaBuffer   []byte
	fragmenting bool
	timestamp   uint32
	started     bool
	frameType   FrameType
}

// NewH264Depacketizer creates a new H.264 RTP depacketizer.
func NewH264Depacketizer() *H264Depacketizer {
	return &H264Depacketizer{}
}

// Depacketize consumes one packet and returns the access unit it completes,
// or nil while the marker bit has not been seen. A timestamp change drops
// whatever is buffered for the previous access unit.
func (d *H264Depacketizer) Depacketize(pkt *rtp.Packet) (*EncodedFrame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(pkt.Payload) == 0 {
		return nil, nil
	}
	if d.started && d.timestamp != pkt.Timestamp {
		d.resetLocked()
	}
	d.timestamp, d.started = pkt.Timestamp, true

	switch nalType := pkt.Payload[0] & 0x1F; {
	case nalType >= 1 && nalType <= 23:
		d.appendNALU(pkt.Payload)
	case nalType == nalTypeSTAPA:
		if err := d.depacketizeSTAPA(pkt.Payload[1:]); err != nil {
			return nil, err
		}
	case nalType == nalTypeFUA:
		if err := d.depacketizeFUA(pkt.Payload); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unsupported RTP NAL type %d", ErrMalformedBitstream, nalType)
	}

	if !pkt.Marker || len(d.frameData) == 0 {
		return nil, nil
	}
	frame := &EncodedFrame{
		Data:      append([]byte(nil), d.frameData...),
		FrameType: d.frameType,
		Timestamp: rtpDuration(d.timestamp, VideoCodecH264.ClockRate()),
	}
	d.frameData = d.frameData[:0]
	d.frameType = FrameTypeUnknown
	return frame, nil
}

// appendNALU adds one complete NAL unit to the access unit.
func (d *H264Depacketizer) appendNALU(nal []byte) {
	if nal[0]&0x1F == nalTypeIDR {
		d.frameType = FrameTypeKey
	} else if d.frameType != FrameTypeKey {
		d.frameType = FrameTypeDelta
	}
	d.frameData = append(d.frameData, 0, 0, 0, 1)
	d.frameData = append(d.frameData, nal...)
}

func (d *H264Depacketizer) depacketizeSTAPA(body []byte) error {
	for len(body) > 0 {
		if len(body) < 2 {
			return fmt.Errorf("%w: truncated STAP-A", ErrMalformedBitstream)
		}
		size := int(binary.BigEndian.Uint16(body))
		body = body[2:]
		if size == 0 || size > len(body) {
			return fmt.Errorf("%w: STAP-A unit of %d bytes in %d", ErrMalformedBitstream, size, len(body))
		}
		d.appendNALU(body[:size])
		body = body[size:]
	}
	return nil
}

func (d *H264Depacketizer) depacketizeFUA(payload []byte) error {
	if len(payload) < 2 {
		return fmt.Errorf("%w: FU-A packet too short", ErrMalformedBitstream)
	}
	indicator, header := payload[0], payload[1]

	if header&0x80 != 0 {
		d.fuaBuffer = append(d.fuaBuffer[:0], indicator&0xE0|header&0x1F)
		d.fragmenting = true
	}
	if !d.fragmenting {
		// Lost the start fragment; wait for the next one.
		return nil
	}
	d.fuaBuffer = append(d.fuaBuffer, payload[2:]...)
	if header&0x40 != 0 {
		d.appendNALU(d.fuaBuffer)
		d.fuaBuffer = d.fuaBuffer[:0]
		d.fragmenting = false
	}
	return nil
}

// DepacketizeBytes processes raw RTP packet bytes.
func (d *H264Depacketizer) DepacketizeBytes(data []byte) (*EncodedFrame, error) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(data); err != nil {
		return nil, err
	}
	return d.Depacketize(&pkt)
}

// Reset clears any buffered partial frames.
func (d *H264Depacketizer) Reset() {
	d.mu.Lock()
	d.resetLocked()
	d.started = false
	d.mu.Unlock()
}

func (d *H264Depacketizer) resetLocked() {
	d.frameData = d.frameData[:0]
	d.fuaBuffer = d.fuaBuffer[:0]
	d.fragmenting = false
	d.frameType = FrameTypeUnknown
}
