package media

import "fmt"

// H264 NAL unit types
const (
	nalTypeSlice       = 1
	nalTypeIDR         = 5
	nalTypeSEI         = 6
	nalTypeSPS         = 7
	nalTypePPS         = 8
	nalTypeAUD         = 9
	nalTypeEOSeq       = 10
	nalTypeEOStream    = 11
	nalTypeReserved14  = 14
	nalTypeReserved18  = 18
	nalTypeSTAPA       = 24 // Single-time aggregation packet
	nalTypeFUA         = 28 // Fragmentation Unit A
	annexBStartCodeLen = 3
)

// FragmentSplitter cuts host bitstream buffers into the units the codec
// device consumes.
type FragmentSplitter interface {
	// AdvanceFrameFragment returns how many leading bytes of data belong to
	// the current frame. When PartialFramePending reports true afterwards
	// the frame may continue in the next call.
	AdvanceFrameFragment(data []byte) (endpos int, err error)
	PartialFramePending() bool
	Reset()
}

// NewFragmentSplitter returns the splitter for a profile's codec family.
func NewFragmentSplitter(profile VideoCodecProfile) (FragmentSplitter, error) {
	switch profile.Codec() {
	case VideoCodecH264:
		return &h264Splitter{}, nil
	case VideoCodecVP8, VideoCodecVP9:
		return passthroughSplitter{}, nil
	default:
		return nil, fmt.Errorf("%w: no splitter for %s", ErrProfileNotSupported, profile)
	}
}

// passthroughSplitter treats each buffer as exactly one frame.
type passthroughSplitter struct{}

func (passthroughSplitter) AdvanceFrameFragment(data []byte) (int, error) { return len(data), nil }
func (passthroughSplitter) PartialFramePending() bool                     { return false }
func (passthroughSplitter) Reset()                                        {}

// h264Splitter finds access unit boundaries in an Annex-B stream. A frame
// is the NAL units leading up to a picture (AUD, SEI, SPS, PPS) plus the
// slices of that picture. It ends where the next picture's first slice or
// the next leading NAL unit begins.
type h264Splitter struct {
	// partialFramePending is set while the current frame has bytes that
	// have not been closed by a boundary.
	partialFramePending bool
	// pictureStarted is set once the current frame carries a slice.
	pictureStarted bool
}

func (s *h264Splitter) PartialFramePending() bool { return s.partialFramePending }

func (s *h264Splitter) Reset() { s.partialFramePending, s.pictureStarted = false, false }

func (s *h264Splitter) AdvanceFrameFragment(data []byte) (int, error) {
	nalus, err := scanAnnexB(data)
	if err != nil {
		return 0, err
	}

	endpos := 0
	for _, n := range nalus {
		boundary, slice := false, false
		switch n.nalType {
		case nalTypeSlice, nalTypeIDR:
			if len(n.payload) < 2 {
				return 0, fmt.Errorf("%w: truncated slice at %d", ErrMalformedBitstream, n.start)
			}
			slice = true
			// first_mb_in_slice is ue(v) coded from the first payload bit; a
			// zero value is a single '1' bit, so the byte is >= 0x80.
			boundary = n.payload[1] >= 0x80
		case nalTypeSEI, nalTypeSPS, nalTypePPS, nalTypeAUD, nalTypeEOSeq, nalTypeEOStream:
			boundary = true
		default:
			boundary = n.nalType >= nalTypeReserved14 && n.nalType <= nalTypeReserved18
		}

		if boundary && s.pictureStarted {
			// This NALU starts the next frame.
			s.Reset()
			return endpos, nil
		}
		endpos = n.end
		s.partialFramePending = true
		if slice {
			s.pictureStarted = true
		}
	}
	return endpos, nil
}

// annexBNALU locates one NAL unit inside a buffer.
type annexBNALU struct {
	start   int // offset of the first payload byte (the NAL header)
	end     int // offset one past the last payload byte
	nalType byte
	payload []byte
}

// scanAnnexB splits data on 0x000001 start codes. Zero bytes in front of a
// start code belong to the start code, so every NALU but the last ends at
// its last non-zero byte. The last NALU runs to the end of the buffer.
func scanAnnexB(data []byte) ([]annexBNALU, error) {
	var starts []int
	for i := 0; i+annexBStartCodeLen <= len(data); i++ {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			starts = append(starts, i)
			i += annexBStartCodeLen - 1
		}
	}
	if len(starts) == 0 {
		for _, b := range data {
			if b != 0 {
				return nil, fmt.Errorf("%w: no start code in %d bytes", ErrMalformedBitstream, len(data))
			}
		}
		return nil, nil
	}
	for _, b := range data[:starts[0]] {
		if b != 0 {
			return nil, fmt.Errorf("%w: garbage before first start code", ErrMalformedBitstream)
		}
	}

	nalus := make([]annexBNALU, 0, len(starts))
	for i, sc := range starts {
		begin := sc + annexBStartCodeLen
		end := len(data)
		if i+1 < len(starts) {
			end = starts[i+1]
			for end > begin && data[end-1] == 0 {
				end--
			}
		}
		if end <= begin {
			return nil, fmt.Errorf("%w: empty NAL unit at %d", ErrMalformedBitstream, begin)
		}
		header := data[begin]
		if header&0x80 != 0 {
			return nil, fmt.Errorf("%w: forbidden_zero_bit set at %d", ErrMalformedBitstream, begin)
		}
		nalus = append(nalus, annexBNALU{
			start:   begin,
			end:     end,
			nalType: header & 0x1F,
			payload: data[begin:end],
		})
	}
	return nalus, nil
}

// parseAnnexBNALUnits returns the NAL unit payloads (header included) of an
// Annex-B buffer, skipping malformed input.
func parseAnnexBNALUnits(data []byte) [][]byte {
	nalus, err := scanAnnexB(data)
	if err != nil {
		return nil
	}
	out := make([][]byte, len(nalus))
	for i, n := range nalus {
		out[i] = n.payload
	}
	return out
}
