package media

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newTestPlatform(t *testing.T) (*PlatformContext, *fakeDecoderDevice, *fakeEncoderDevice) {
	t.Helper()
	dec, enc := newFakeDecoderDevice(), newFakeEncoderDevice()
	registry := NewDeviceRegistry()
	registry.RegisterDecoder(ProviderCustom, DecoderDeviceFactory{
		New:      func() (DecoderDevice, error) { return dec, nil },
		Profiles: dec.SupportedProfiles,
	})
	registry.RegisterEncoder(ProviderCustom, EncoderDeviceFactory{
		New:      func() (EncoderDevice, error) { return enc, nil },
		Profiles: enc.SupportedProfiles,
	})

	cfg := DefaultPlatformConfig()
	cfg.Clock = newManualClock()
	cfg.LoggerFactory = testLoggerFactory()
	cfg.EGL = newFakeEGL()
	pc := NewPlatformContext(cfg, newRecordingCompositor(true), registry)
	t.Cleanup(pc.Close)
	return pc, dec, enc
}

func TestPlatformContextAccelerators(t *testing.T) {
	pc, dec, enc := newTestPlatform(t)

	if diff := cmp.Diff(dec.SupportedProfiles(), pc.GetSupportedDecodeProfiles()); diff != "" {
		t.Errorf("decode profiles (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(enc.SupportedProfiles(), pc.GetSupportedEncodeProfiles()); diff != "" {
		t.Errorf("encode profiles (-want +got):\n%s", diff)
	}

	client := NewTaskRunner("client", newManualClock(), testLoggerFactory())
	t.Cleanup(client.Stop)

	vda, err := pc.NewDecodeAccelerator(ProviderAuto, client)
	if err != nil {
		t.Fatalf("NewDecodeAccelerator: %v", err)
	}
	t.Cleanup(vda.Destroy)
	vea, err := pc.NewEncodeAccelerator(ProviderCustom, client)
	if err != nil {
		t.Fatalf("NewEncodeAccelerator: %v", err)
	}
	t.Cleanup(vea.Destroy)
	if n := pc.Registry().DevicesCreated(); n != 2 {
		t.Errorf("devices created %d, want 2", n)
	}

	if _, err := pc.NewDecodeAccelerator(ProviderMCIL, client); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("unregistered provider: %v", err)
	}
}

func TestPlatformContextWidgets(t *testing.T) {
	pc, _, _ := newTestPlatform(t)

	if err := pc.RegisterWidget("w1", 1, Rect{Width: 1920, Height: 1080}); err != nil {
		t.Fatal(err)
	}
	if err := pc.RegisterWidget("w1", 2, Rect{Width: 1920, Height: 1080}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("duplicate widget: %v", err)
	}

	pc.OnWidgetClosed("w1")
	settle(t, pc.providerRunner, pc.ui)
	if err := pc.RegisterWidget("w1", 3, Rect{Width: 1280, Height: 720}); err != nil {
		t.Fatalf("re-register after close: %v", err)
	}

	pc.Close()
	if err := pc.RegisterWidget("w2", 4, Rect{}); !errors.Is(err, ErrIllegalState) {
		t.Fatalf("register after Close: %v", err)
	}
	// Second Close is a no-op.
	pc.Close()
}
