package media

// VideoCodec identifies the video codec family.
type VideoCodec int

const (
	VideoCodecUnknown VideoCodec = iota
	VideoCodecVP8
	VideoCodecVP9
	VideoCodecH264
)

func (c VideoCodec) String() string {
	switch c {
	case VideoCodecVP8:
		return "VP8"
	case VideoCodecVP9:
		return "VP9"
	case VideoCodecH264:
		return "H264"
	default:
		return "Unknown"
	}
}

// MimeType returns the MIME type for this codec.
func (c VideoCodec) MimeType() string {
	switch c {
	case VideoCodecVP8:
		return "video/VP8"
	case VideoCodecVP9:
		return "video/VP9"
	case VideoCodecH264:
		return "video/H264"
	default:
		return ""
	}
}

// ClockRate returns the RTP clock rate for this codec.
func (c VideoCodec) ClockRate() uint32 {
	// All video codecs use 90kHz clock
	return 90000
}

// DefaultPayloadType returns a typical payload type for this codec.
// Note: Actual payload type is negotiated via SDP.
func (c VideoCodec) DefaultPayloadType() uint8 {
	switch c {
	case VideoCodecVP8:
		return 96
	case VideoCodecVP9:
		return 98
	case VideoCodecH264:
		return 102
	default:
		return 96
	}
}

// VideoCodecProfile is a codec plus profile pair as negotiated with the
// platform codec device.
type VideoCodecProfile int

const (
	ProfileUnknown VideoCodecProfile = iota
	H264ProfileBaseline
	H264ProfileMain
	H264ProfileExtended
	H264ProfileHigh
	VP8ProfileAny
	VP9Profile0 // 8-bit, 4:2:0
	VP9Profile1 // 8-bit, 4:2:2 or 4:4:4
	VP9Profile2 // 10/12-bit, 4:2:0
	VP9Profile3 // 10/12-bit, 4:2:2 or 4:4:4
)

func (p VideoCodecProfile) String() string {
	switch p {
	case H264ProfileBaseline:
		return "h264 baseline"
	case H264ProfileMain:
		return "h264 main"
	case H264ProfileExtended:
		return "h264 extended"
	case H264ProfileHigh:
		return "h264 high"
	case VP8ProfileAny:
		return "vp8"
	case VP9Profile0:
		return "vp9 profile0"
	case VP9Profile1:
		return "vp9 profile1"
	case VP9Profile2:
		return "vp9 profile2"
	case VP9Profile3:
		return "vp9 profile3"
	default:
		return "unknown"
	}
}

// Codec returns the codec family of the profile.
func (p VideoCodecProfile) Codec() VideoCodec {
	switch p {
	case H264ProfileBaseline, H264ProfileMain, H264ProfileExtended, H264ProfileHigh:
		return VideoCodecH264
	case VP8ProfileAny:
		return VideoCodecVP8
	case VP9Profile0, VP9Profile1, VP9Profile2, VP9Profile3:
		return VideoCodecVP9
	default:
		return VideoCodecUnknown
	}
}

// H264ProfileIDC returns the profile_idc syntax element for H.264 profiles,
// or 0 for anything else.
func (p VideoCodecProfile) H264ProfileIDC() uint8 {
	switch p {
	case H264ProfileBaseline:
		return 66
	case H264ProfileMain:
		return 77
	case H264ProfileExtended:
		return 88
	case H264ProfileHigh:
		return 100
	default:
		return 0
	}
}

// SupportedProfile describes one profile a codec device can handle.
type SupportedProfile struct {
	Profile       VideoCodecProfile
	MinResolution Size
	MaxResolution Size
	MaxFramerate  uint32 // encoder only, frames per second
	Encrypted     bool
}

// OutputMode selects who allocates decoder output memory.
type OutputMode int

const (
	// OutputModeAllocate lets the decoder synthesise DMABUF backed frames.
	OutputModeAllocate OutputMode = iota
	// OutputModeImport expects the host to import DMABUFs per picture.
	OutputModeImport
)

func (m OutputMode) String() string {
	switch m {
	case OutputModeAllocate:
		return "allocate"
	case OutputModeImport:
		return "import"
	default:
		return "unknown"
	}
}
