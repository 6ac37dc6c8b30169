// Package media implements the webOS hardware video pipeline: decode and
// encode accelerators over the platform codec device (libstream_mcil), and
// the foreign video windows that place hardware-decoded video on the
// compositor's overlay plane.
//
// Key pieces include:
//   - VideoDecodeAccelerator and VideoEncodeAccelerator (VDA/VEA)
//   - an H.264 splitter that frames the elementary stream into access units
//   - EGLImageFactory for importing decoded pixmaps as textures
//   - ForeignVideoWindowManager, one per widget, driving the compositor
//   - VideoWindowProvider and VideoWindowController for window lifecycle,
//     rate-limited geometry and overlay-pass visibility
//   - PlatformContext tying the above to a device registry
//   - RTP packetizers and bitstream sinks for encoder output, with PLI/FIR
//     feedback mapped to forced key frames
//   - FillPattern, synthetic I420 pictures for exercising the encoder
//
// # Architecture
//
//	Decode: bitstream -> H264Splitter -> VDA -> DecoderDevice -> Picture -> EGLImageFactory
//	Encode: VideoFrame -> ImageProcessor -> VEA -> EncoderDevice -> BitstreamSink -> RTP
//	Windows: VideoWindowProvider -> ForeignVideoWindowManager -> Compositor
//
// All components are single-threaded actors. Each owns a TaskRunner and
// client callbacks are posted to the runner the client supplied.
//
// # Native Libraries
//
// Bindings load libstream_mcil, the foreign window library and EGL/GLES
// through purego, so the package builds with CGO_ENABLED=0. Each library
// has its own override (STREAM_MCIL_LIB_PATH, STREAM_FOREIGN_LIB_PATH,
// MEDIA_EGL_LIB_PATH, MEDIA_GLES_LIB_PATH) and MEDIA_SDK_LIB_PATH names a
// directory searched for all of them. Off Linux no codec device is
// registered and hosts register their own through DeviceRegistry.
package media
