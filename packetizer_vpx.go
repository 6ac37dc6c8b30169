package media

import (
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

// VPXPacketizer implements RTPPacketizer for VP8 and VP9 using pion's
// payloaders.
type VPXPacketizer struct {
	rtpStream
	codec     VideoCodec
	payloader rtp.Payloader
}

// NewVPXPacketizer creates a packetizer for codec, which must be VP8 or VP9.
func NewVPXPacketizer(codec VideoCodec, ssrc uint32, pt uint8, mtu int) (*VPXPacketizer, error) {
	var payloader rtp.Payloader
	switch codec {
	case VideoCodecVP8:
		payloader = &codecs.VP8Payloader{EnablePictureID: true}
	case VideoCodecVP9:
		payloader = &codecs.VP9Payloader{}
	default:
		return nil, ErrCodecNotSupported
	}
	p := &VPXPacketizer{codec: codec, payloader: payloader}
	p.init(ssrc, pt, mtu)
	return p, nil
}

// Packetize converts an encoded frame to RTP packets.
func (p *VPXPacketizer) Packetize(frame *EncodedFrame) ([]*RTPPacket, error) {
	if len(frame.Data) == 0 {
		return nil, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	payloads := p.payloader.Payload(uint16(p.mtu-rtpHeaderSize), frame.Data)
	ts := rtpTimestamp(frame.Timestamp, p.codec.ClockRate())
	packets := make([]*RTPPacket, len(payloads))
	for i, payload := range payloads {
		packets[i] = &RTPPacket{Header: p.header(i == len(payloads)-1, ts), Payload: payload}
	}
	return packets, nil
}

// PacketizeToBytes converts an encoded frame to raw RTP packet bytes.
func (p *VPXPacketizer) PacketizeToBytes(frame *EncodedFrame) ([][]byte, error) {
	return marshalPackets(p.Packetize(frame))
}
