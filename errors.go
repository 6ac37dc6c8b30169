package media

import "errors"

// AcceleratorError is the error code surfaced to the host through
// NotifyError. Each value is itself an error so it can be matched with
// errors.Is after wrapping.
type AcceleratorError int

const (
	ErrIllegalState AcceleratorError = iota + 1
	ErrInvalidArgument
	ErrUnreadableInput
	ErrPlatformFailure
	ErrMalformedBitstream
	ErrDecoder
	ErrEncoder
)

func (e AcceleratorError) Error() string {
	switch e {
	case ErrIllegalState:
		return "illegal state"
	case ErrInvalidArgument:
		return "invalid argument"
	case ErrUnreadableInput:
		return "unreadable input"
	case ErrPlatformFailure:
		return "platform failure"
	case ErrMalformedBitstream:
		return "malformed bitstream"
	case ErrDecoder:
		return "decoder error"
	case ErrEncoder:
		return "encoder error"
	default:
		return "unknown accelerator error"
	}
}

// Configuration errors returned synchronously from Initialize.
var (
	ErrEncryptedUnsupported = errors.New("encrypted content is not supported")
	ErrInvalidOutputMode    = errors.New("invalid output mode")
	ErrProfileNotSupported  = errors.New("profile not supported by codec device")
	ErrAlreadyInitialized   = errors.New("already initialized")
	ErrDeviceNotFound       = errors.New("codec device not available")
	ErrBufferTooSmall       = errors.New("buffer too small")
	ErrCodecNotSupported    = errors.New("codec not supported")
)

// Transient device conditions. They are never surfaced to the host.
var (
	ErrNoFreeBuffer = errors.New("no free buffer")
	ErrWouldBlock   = errors.New("operation would block")
)

// acceleratorCode extracts the AcceleratorError carried by err, defaulting
// to fallback.
func acceleratorCode(err error, fallback AcceleratorError) AcceleratorError {
	var code AcceleratorError
	if errors.As(err, &code) {
		return code
	}
	return fallback
}
