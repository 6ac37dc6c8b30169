package media

import (
	"bytes"
	"testing"
	"time"

	"github.com/pion/rtp"
)

func TestH264Packetizer(t *testing.T) {
	pkt := NewH264Packetizer(12345, 102, 1200)

	frame := &EncodedFrame{
		Data:      concat(testSPS, testPPS, testIDR),
		FrameType: FrameTypeKey,
		Timestamp: time.Second,
	}

	packets, err := pkt.Packetize(frame)
	if err != nil {
		t.Fatalf("Packetize failed: %v", err)
	}
	if len(packets) != 2 {
		t.Fatalf("got %d packets, want STAP-A and IDR", len(packets))
	}

	for i, p := range packets {
		if p.Header.SSRC != 12345 {
			t.Errorf("SSRC = %d, want 12345", p.Header.SSRC)
		}
		if p.Header.PayloadType != 102 {
			t.Errorf("PayloadType = %d, want 102", p.Header.PayloadType)
		}
		if p.Header.Timestamp != 90000 {
			t.Errorf("Timestamp = %d, want 90000", p.Header.Timestamp)
		}
		if want := i == len(packets)-1; p.Header.Marker != want {
			t.Errorf("packet %d marker = %v", i, p.Header.Marker)
		}
		if i > 0 && p.Header.SequenceNumber != packets[i-1].Header.SequenceNumber+1 {
			t.Errorf("sequence gap at packet %d", i)
		}
	}
	if got := packets[0].Payload[0] & 0x1F; got != nalTypeSTAPA {
		t.Errorf("first payload NAL type %d, want STAP-A", got)
	}
	if want := concat([]byte{0x78, 0, 5}, testSPS[4:], []byte{0, 4}, testPPS[4:]); !bytes.Equal(packets[0].Payload, want) {
		t.Errorf("STAP-A payload %x, want %x", packets[0].Payload, want)
	}
	if !bytes.Equal(packets[1].Payload, testIDR[4:]) {
		t.Errorf("IDR payload %x", packets[1].Payload)
	}
}

func TestH264PacketizerDropsAUD(t *testing.T) {
	pkt := NewH264Packetizer(1, 102, 1200)
	packets, err := pkt.Packetize(&EncodedFrame{Data: concat(nalu(0x09, 0xf0), testSlice)})
	if err != nil {
		t.Fatal(err)
	}
	if len(packets) != 1 || !bytes.Equal(packets[0].Payload, testSlice[4:]) {
		t.Fatalf("packets %v", packets)
	}
}

func TestH264PacketizerFragmentsLargeNAL(t *testing.T) {
	pkt := NewH264Packetizer(1, 102, 200)

	idr := make([]byte, 1000)
	idr[0] = 0x65
	for i := 1; i < len(idr); i++ {
		idr[i] = byte(i)
	}
	frame := &EncodedFrame{Data: append([]byte{0, 0, 0, 1}, idr...), FrameType: FrameTypeKey}

	packets, err := pkt.Packetize(frame)
	if err != nil {
		t.Fatal(err)
	}
	if len(packets) < 5 {
		t.Fatalf("got %d packets for a 1000 byte NAL at MTU 200", len(packets))
	}
	for i, p := range packets {
		if len(p.Payload)+12 > 200 {
			t.Errorf("packet %d is %d bytes", i, len(p.Payload)+12)
		}
		if p.Payload[0]&0x1F != nalTypeFUA {
			t.Errorf("packet %d is not FU-A", i)
		}
	}
	if packets[0].Payload[1]&0x80 == 0 {
		t.Error("first fragment lacks the start bit")
	}
	if last := packets[len(packets)-1]; last.Payload[1]&0x40 == 0 || !last.Header.Marker {
		t.Error("last fragment lacks the end bit or marker")
	}
}

func TestH264PacketizerRejectsEmptyAnnexB(t *testing.T) {
	pkt := NewH264Packetizer(1, 102, 1200)
	if packets, err := pkt.Packetize(&EncodedFrame{}); err != nil || packets != nil {
		t.Errorf("empty frame: %v, %v", packets, err)
	}
	if _, err := pkt.Packetize(&EncodedFrame{Data: []byte{0, 0, 0, 1}}); err == nil {
		t.Error("frame without NAL units accepted")
	}
}

func TestH264DepacketizerRoundTrip(t *testing.T) {
	pkt := NewH264Packetizer(7, 102, 100)
	depkt := NewH264Depacketizer()

	big := make([]byte, 400)
	big[0] = 0x65
	for i := 1; i < len(big); i++ {
		big[i] = byte(i * 7)
	}
	frames := []*EncodedFrame{
		{Data: concat(testSPS, testPPS, nalu(big[0], big[1:]...)), FrameType: FrameTypeKey, Timestamp: 0},
		{Data: testSlice, FrameType: FrameTypeDelta, Timestamp: 33 * time.Millisecond},
	}

	for i, in := range frames {
		raw, err := pkt.PacketizeToBytes(in)
		if err != nil {
			t.Fatal(err)
		}
		var out *EncodedFrame
		for _, b := range raw {
			f, err := depkt.DepacketizeBytes(b)
			if err != nil {
				t.Fatalf("frame %d: %v", i, err)
			}
			if f != nil {
				out = f
			}
		}
		if out == nil {
			t.Fatalf("frame %d not reassembled", i)
		}
		if !bytes.Equal(out.Data, in.Data) {
			t.Errorf("frame %d data mismatch", i)
		}
		if out.FrameType != in.FrameType {
			t.Errorf("frame %d type %s, want %s", i, out.FrameType, in.FrameType)
		}
	}
}

func TestH264DepacketizerSTAPA(t *testing.T) {
	sps, pps := testSPS[4:], testPPS[4:]
	payload := []byte{24}
	payload = append(payload, byte(len(sps)>>8), byte(len(sps)))
	payload = append(payload, sps...)
	payload = append(payload, byte(len(pps)>>8), byte(len(pps)))
	payload = append(payload, pps...)

	depkt := NewH264Depacketizer()
	f, err := depkt.Depacketize(&rtp.Packet{Header: rtp.Header{Timestamp: 3000, Marker: true}, Payload: payload})
	if err != nil {
		t.Fatal(err)
	}
	if f == nil || !bytes.Equal(f.Data, concat(testSPS, testPPS)) {
		t.Fatalf("STAP-A frame %v", f)
	}
}

func TestPacketizeToBytes(t *testing.T) {
	pkt := NewH264Packetizer(12345, 102, 1200)

	raw, err := pkt.PacketizeToBytes(&EncodedFrame{Data: testSlice, Timestamp: time.Second})
	if err != nil {
		t.Fatalf("PacketizeToBytes failed: %v", err)
	}
	if len(raw) == 0 {
		t.Fatal("No packet bytes produced")
	}

	// Verify we can parse them back
	for _, data := range raw {
		var p rtp.Packet
		if err := p.Unmarshal(data); err != nil {
			t.Fatalf("Unmarshal failed: %v", err)
		}
		if p.Header.SSRC != 12345 {
			t.Errorf("SSRC mismatch after round-trip")
		}
	}
}

func TestVP9Packetizer(t *testing.T) {
	pkt, err := NewVPXPacketizer(VideoCodecVP9, 99, 98, 300)
	if err != nil {
		t.Fatal(err)
	}
	packets, err := pkt.Packetize(&EncodedFrame{Data: make([]byte, 1000), FrameType: FrameTypeKey})
	if err != nil {
		t.Fatal(err)
	}
	if len(packets) < 4 {
		t.Fatalf("got %d packets", len(packets))
	}
	if !packets[len(packets)-1].Header.Marker {
		t.Error("Last packet should have marker bit set")
	}
	if _, err := NewVPXPacketizer(VideoCodecH264, 1, 96, 0); err == nil {
		t.Error("H264 accepted by the VPX packetizer")
	}
}

func TestRTPTimestamp(t *testing.T) {
	if got := rtpTimestamp(time.Second, 90000); got != 90000 {
		t.Errorf("rtpTimestamp(1s) = %d", got)
	}
	if got := rtpDuration(45000, 90000); got != 500*time.Millisecond {
		t.Errorf("rtpDuration(45000) = %s", got)
	}
	if got := rtpDuration(1, 0); got != 0 {
		t.Errorf("rtpDuration with no clock = %s", got)
	}
}

func TestIsRTPTimestampOlder(t *testing.T) {
	tests := []struct {
		a, b uint32
		want bool
	}{
		{100, 200, true},
		{200, 100, false},
		{100, 100, true},
		{0xFFFFFF00, 0x100, true}, // wraparound
		{0x100, 0xFFFFFF00, false},
	}
	for _, tt := range tests {
		if got := IsRTPTimestampOlder(tt.a, tt.b); got != tt.want {
			t.Errorf("IsRTPTimestampOlder(%#x, %#x) = %v", tt.a, tt.b, got)
		}
	}
}

func BenchmarkH264Packetize(b *testing.B) {
	pkt := NewH264Packetizer(12345, 102, 1200)

	idr := make([]byte, 10000)
	idr[0] = 0x65
	frame := &EncodedFrame{
		Data:      nalu(idr[0], idr[1:]...),
		FrameType: FrameTypeKey,
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		frame.Timestamp = time.Duration(i) * 33 * time.Millisecond
		if _, err := pkt.Packetize(frame); err != nil {
			b.Fatal(err)
		}
	}
}
