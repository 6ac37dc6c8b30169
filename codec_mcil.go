package media

import (
	"errors"
	"fmt"
	"syscall"
)

// Profile ids understood by libstream_mcil. They follow the platform's
// MCIL_PROFILE_* numbering, not ours.
var mcilProfileIDs = map[VideoCodecProfile]int32{
	H264ProfileBaseline: 1,
	H264ProfileMain:     2,
	H264ProfileExtended: 3,
	H264ProfileHigh:     4,
	VP8ProfileAny:       11,
	VP9Profile0:         12,
	VP9Profile1:         13,
	VP9Profile2:         14,
	VP9Profile3:         15,
}

func mcilProfileID(p VideoCodecProfile) (int32, bool) {
	id, ok := mcilProfileIDs[p]
	return id, ok
}

func mcilProfileFromID(id int32) VideoCodecProfile {
	for p, v := range mcilProfileIDs {
		if v == id {
			return p
		}
	}
	return ProfileUnknown
}

// Events raised by libstream_mcil through the shared callback.
const (
	mcilEventBufferReady       = 1 // a0: inputs consumed, a1: outputs ready
	mcilEventResolutionChanged = 2
	mcilEventFlushDone         = 3 // a0: 1 on success (encoder)
	mcilEventResetDone         = 4
	mcilEventError             = 5 // a0: negative errno
	mcilEventInputDone         = 6 // a0: frame token (encoder)
	mcilEventOutputReady       = 7 // encoder
)

// mcilError turns a libstream_mcil return code into an error. Codes are
// negative errno values.
func mcilError(op string, rc int32) error {
	if rc >= 0 {
		return nil
	}
	errno := syscall.Errno(-rc)
	switch errno {
	case syscall.EAGAIN:
		return fmt.Errorf("mcil %s: %w", op, ErrNoFreeBuffer)
	case syscall.EINVAL:
		return fmt.Errorf("mcil %s: %w: %v", op, ErrInvalidArgument, errno)
	case syscall.EBADMSG:
		return fmt.Errorf("mcil %s: %w: %v", op, ErrMalformedBitstream, errno)
	case syscall.ENOTSUP:
		return fmt.Errorf("mcil %s: %w", op, ErrProfileNotSupported)
	case syscall.ENODEV:
		return fmt.Errorf("mcil %s: %w", op, ErrDeviceNotFound)
	default:
		return fmt.Errorf("mcil %s: %w: %v", op, ErrPlatformFailure, errno)
	}
}

// mcilEventErr is the error carried by an error event.
func mcilEventErr(code int32) error {
	if code >= 0 {
		code = -int32(syscall.EIO)
	}
	err := mcilError("event", code)
	if errors.Is(err, ErrNoFreeBuffer) {
		return fmt.Errorf("mcil event: %w", ErrPlatformFailure)
	}
	return err
}
