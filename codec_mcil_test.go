package media

import (
	"errors"
	"syscall"
	"testing"
)

func TestMCILProfileIDs(t *testing.T) {
	seen := map[int32]VideoCodecProfile{}
	for p, id := range mcilProfileIDs {
		if other, dup := seen[id]; dup {
			t.Fatalf("id %d used by %s and %s", id, p, other)
		}
		seen[id] = p
		got, ok := mcilProfileID(p)
		if !ok || got != id {
			t.Errorf("mcilProfileID(%s) = %d, %v", p, got, ok)
		}
		if back := mcilProfileFromID(id); back != p {
			t.Errorf("mcilProfileFromID(%d) = %s, want %s", id, back, p)
		}
	}
	if _, ok := mcilProfileID(ProfileUnknown); ok {
		t.Error("unknown profile has an id")
	}
	if p := mcilProfileFromID(99); p != ProfileUnknown {
		t.Errorf("id 99 maps to %s", p)
	}
}

func TestMCILError(t *testing.T) {
	tests := []struct {
		rc   int32
		want error
	}{
		{-int32(syscall.EAGAIN), ErrNoFreeBuffer},
		{-int32(syscall.EINVAL), ErrInvalidArgument},
		{-int32(syscall.EBADMSG), ErrMalformedBitstream},
		{-int32(syscall.ENOTSUP), ErrProfileNotSupported},
		{-int32(syscall.ENODEV), ErrDeviceNotFound},
		{-int32(syscall.EIO), ErrPlatformFailure},
	}
	for _, tt := range tests {
		err := mcilError("decode", tt.rc)
		if !errors.Is(err, tt.want) {
			t.Errorf("mcilError(%d) = %v, want %v", tt.rc, err, tt.want)
		}
	}
	if err := mcilError("decode", 0); err != nil {
		t.Errorf("rc 0: %v", err)
	}
	if err := mcilError("decode", 5); err != nil {
		t.Errorf("rc 5: %v", err)
	}
}

func TestMCILEventErr(t *testing.T) {
	if err := mcilEventErr(-int32(syscall.EAGAIN)); !errors.Is(err, ErrPlatformFailure) {
		t.Errorf("EAGAIN event: %v", err)
	}
	if err := mcilEventErr(0); !errors.Is(err, ErrPlatformFailure) {
		t.Errorf("zero event: %v", err)
	}
	if err := mcilEventErr(-int32(syscall.EBADMSG)); acceleratorCode(err, ErrPlatformFailure) != ErrMalformedBitstream {
		t.Errorf("EBADMSG event: %v", err)
	}
}
