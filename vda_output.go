package media

import "errors"

type pictureState int

const (
	pictureFree pictureState = iota
	pictureAtCodec
	pictureAtClient
	pictureAwaitingImport
	pictureAwaitingFence
)

func (s pictureState) String() string {
	switch s {
	case pictureFree:
		return "free"
	case pictureAtCodec:
		return "at-codec"
	case pictureAtClient:
		return "at-client"
	case pictureAwaitingImport:
		return "awaiting-import"
	case pictureAwaitingFence:
		return "awaiting-fence"
	default:
		return "unknown"
	}
}

// outputRecord is one device output slot; its index in
// VideoDecodeAccelerator.outputs is the device slot index.
type outputRecord struct {
	pictureID int32
	textureID uint32
	image     EGLImage
	pixmap    *NativePixmapHandle
	fence     GLFence
	state     pictureState
	// cleared is set once the picture has been shown to the client.
	cleared bool
}

type pendingPicture struct {
	picture Picture
	cleared bool
}

func (d *VideoDecodeAccelerator) resolutionChangedTask() {
	switch d.state {
	case DecoderStateUninitialized, DecoderStateError, DecoderStateDestroying:
		return
	case DecoderStateFlushing, DecoderStateResetting:
		d.log.Debugf("deferring resolution change until %s completes", d.state)
		d.resChangePending = true
		return
	}
	d.startResolutionChange()
}

func (d *VideoDecodeAccelerator) startResolutionChange() {
	if len(d.outputs) > 0 {
		d.state = DecoderStateChangingResolution
		d.dequeueOutputs()
		d.sendPictureReady()
		if err := d.device.ReleaseOutputBuffers(); err != nil {
			d.log.Errorf("release output buffers: %v", err)
			d.setErrorState(acceleratorCode(err, ErrPlatformFailure))
			return
		}
		d.destroyOutputBuffers()
	}
	d.announceFormat()
}

// announceFormat asks the client for picture buffers matching the device's
// current output format.
func (d *VideoDecodeAccelerator) announceFormat() {
	format, err := d.device.OutputFormat()
	if err != nil {
		d.log.Errorf("output format: %v", err)
		d.setErrorState(acceleratorCode(err, ErrPlatformFailure))
		return
	}
	pixelFormat := d.clientConfig.OutputPixelFormat
	if pixelFormat == PixelFormatUnknown {
		pixelFormat = format.PixelFormat
	}
	visible := format.VisibleRect
	if visible.IsEmpty() {
		visible = RectFromSize(format.CodedSize)
	}
	count := max(format.MinBufferCount, 1) + d.config.ExtraOutputBuffers

	d.outputFormat = format
	d.outputFormat.VisibleRect = visible
	d.outputPixelFormat = pixelFormat
	d.requestedPictures = count
	d.outputsReady = false
	d.state = DecoderStateAwaitingPictureBuffers
	d.log.Infof("requesting %d %s picture buffers coded=%s visible=%s", count, pixelFormat, format.CodedSize, visible)

	coded := format.CodedSize
	d.postClient(func(c VideoDecodeAcceleratorClient) {
		c.ProvidePictureBuffersWithVisibleRect(count, pixelFormat, 1, coded, visible, GLTextureExternalOES)
	})
}

func (d *VideoDecodeAccelerator) assignPictureBuffersTask(buffers []PictureBuffer) {
	if d.state == DecoderStateError || d.state == DecoderStateDestroying {
		return
	}
	if d.state != DecoderStateAwaitingPictureBuffers || len(d.outputs) > 0 {
		d.log.Errorf("unexpected picture buffer assignment in state %s", d.state)
		d.setErrorState(ErrIllegalState)
		return
	}
	if len(buffers) < d.requestedPictures {
		d.log.Errorf("got %d picture buffers, requested %d", len(buffers), d.requestedPictures)
		d.setErrorState(ErrInvalidArgument)
		return
	}
	coded := d.outputFormat.CodedSize
	seen := make(map[int32]bool, len(buffers))
	for _, b := range buffers {
		if b.Size.Width < coded.Width || b.Size.Height < coded.Height {
			d.log.Errorf("picture buffer %d is %s, need %s", b.ID, b.Size, coded)
			d.setErrorState(ErrInvalidArgument)
			return
		}
		if seen[b.ID] {
			d.log.Errorf("duplicate picture buffer id %d", b.ID)
			d.setErrorState(ErrInvalidArgument)
			return
		}
		seen[b.ID] = true
	}

	for i, b := range buffers {
		rec := &outputRecord{pictureID: b.ID, state: pictureAwaitingImport}
		if len(b.TextureIDs) > 0 {
			rec.textureID = b.TextureIDs[0]
		}
		d.outputs = append(d.outputs, rec)
		d.outputWaitMap[b.ID] = i
	}
	d.log.Debugf("assigned %d picture buffers", len(buffers))

	if d.config.OutputMode != OutputModeAllocate {
		return
	}
	for i, rec := range d.outputs {
		pixmap, err := d.device.AllocateOutputBuffer(i, d.outputPixelFormat, coded)
		if err != nil {
			d.log.Errorf("allocate output %d: %v", i, err)
			d.setErrorState(acceleratorCode(err, ErrPlatformFailure))
			return
		}
		rec.pixmap = pixmap
		d.createImageForPicture(i)
	}
}

func (d *VideoDecodeAccelerator) importBufferTask(pictureID int32, format PixelFormat, handle GpuMemoryBufferHandle) {
	if d.state == DecoderStateError || d.state == DecoderStateDestroying {
		handle.Pixmap.Close()
		return
	}
	if d.config.OutputMode != OutputModeImport {
		handle.Pixmap.Close()
		d.log.Errorf("import for picture %d in %s mode", pictureID, d.config.OutputMode)
		d.setErrorState(ErrIllegalState)
		return
	}
	_, hasFourCC := format.DRMFourCC()
	slot, known := d.outputWaitMap[pictureID]
	switch {
	case format != d.outputPixelFormat, !hasFourCC:
		d.log.Warnf("import for picture %d has format %s, want %s", pictureID, format, d.outputPixelFormat)
	case !handle.Pixmap.Valid():
		d.log.Warnf("import for picture %d has no usable planes", pictureID)
	case !known:
		d.log.Warnf("import for unknown or already imported picture %d", pictureID)
	default:
		rec := d.outputs[slot]
		rec.pixmap.Close()
		rec.pixmap = handle.Pixmap
		d.createImageForPicture(slot)
		return
	}
	handle.Pixmap.Close()
	d.notifyInputError(ErrInvalidArgument)
}

// createImageForPicture wraps the slot's pixmap in an EGLImage on the client
// runner, which owns the GL context, and reports back to the decode runner.
func (d *VideoDecodeAccelerator) createImageForPicture(slot int) {
	rec := d.outputs[slot]
	dup, err := rec.pixmap.Dup()
	if err != nil {
		d.log.Errorf("dup pixmap for picture %d: %v", rec.pictureID, err)
		d.setErrorState(ErrPlatformFailure)
		return
	}
	gen := d.pictureGen
	id := rec.pictureID
	texture := rec.textureID
	format := d.outputPixelFormat
	coded := d.outputFormat.CodedSize

	posted := d.clientRunner.PostTask(func() {
		defer dup.Close()
		if !d.clientToken.Valid() {
			return
		}
		image := EGLNoImage
		var err error
		if d.images != nil && texture != 0 {
			image, err = d.images.Create(d.config.Display, texture, coded, slot, format, dup)
		}
		d.decodeRunner.PostTask(func() {
			if !d.decodeToken.Valid() {
				d.destroyImages([]EGLImage{image})
				return
			}
			d.assignEGLImageTask(gen, id, image, err)
		})
	})
	if !posted {
		dup.Close()
	}
}

func (d *VideoDecodeAccelerator) assignEGLImageTask(gen uint64, pictureID int32, image EGLImage, err error) {
	slot, ok := d.outputWaitMap[pictureID]
	if gen != d.pictureGen || !ok || d.state == DecoderStateError || d.state == DecoderStateDestroying {
		d.log.Debugf("discarding stale image for picture %d", pictureID)
		d.destroyImages([]EGLImage{image})
		return
	}
	if err != nil {
		d.log.Errorf("image for picture %d: %v", pictureID, err)
		d.setErrorState(acceleratorCode(err, ErrPlatformFailure))
		return
	}
	delete(d.outputWaitMap, pictureID)
	rec := d.outputs[slot]
	rec.image = image
	rec.state = pictureFree
	d.pictureToSlot[pictureID] = slot

	if len(d.outputWaitMap) == 0 && d.state == DecoderStateAwaitingPictureBuffers {
		d.outputsReady = true
		d.state = DecoderStateDecoding
		d.log.Debugf("all %d picture buffers ready", len(d.outputs))
		if d.resetPending {
			d.resetPending = false
			d.finishReset()
			return
		}
	}
	d.enqueueOutputs()
	d.scheduleDecode()
}

func (d *VideoDecodeAccelerator) reusePictureBufferTask(pictureID int32, fence GLFence) {
	closeFence := func() {
		if fence != nil {
			fence.Close()
		}
	}
	if d.state == DecoderStateError || d.state == DecoderStateDestroying {
		closeFence()
		return
	}
	slot, ok := d.pictureToSlot[pictureID]
	if !ok {
		// Pictures dismissed by a resolution change can still come back.
		d.log.Debugf("reuse of unknown picture %d ignored", pictureID)
		closeFence()
		return
	}
	rec := d.outputs[slot]
	if rec.state != pictureAtClient {
		d.log.Warnf("reuse of picture %d in state %s", pictureID, rec.state)
		closeFence()
		d.notifyInputError(ErrInvalidArgument)
		return
	}
	if fence != nil {
		rec.fence = fence
		rec.state = pictureAwaitingFence
		d.awaitingFence = append(d.awaitingFence, slot)
		if !d.fencePoll.Pending() {
			d.fencePoll.Schedule(d.decodeRunner, d.config.FencePollInterval, d.pollFences)
		}
		return
	}
	rec.state = pictureFree
	d.enqueueOutputs()
}

// pollFences returns pictures to the codec once their fences have
// signaled, oldest first.
func (d *VideoDecodeAccelerator) pollFences() {
	for len(d.awaitingFence) > 0 {
		rec := d.outputs[d.awaitingFence[0]]
		if !rec.fence.Signaled() {
			break
		}
		rec.fence.Close()
		rec.fence = nil
		rec.state = pictureFree
		d.awaitingFence = d.awaitingFence[1:]
	}
	d.enqueueOutputs()
	if len(d.awaitingFence) > 0 {
		d.fencePoll.Schedule(d.decodeRunner, d.config.FencePollInterval, d.pollFences)
	}
}

// enqueueOutputs hands every free picture to the device.
func (d *VideoDecodeAccelerator) enqueueOutputs() {
	switch d.state {
	case DecoderStateUninitialized, DecoderStateResetting, DecoderStateChangingResolution,
		DecoderStateError, DecoderStateDestroying:
		return
	}
	for i, rec := range d.outputs {
		if rec.state != pictureFree {
			continue
		}
		var pixmap *NativePixmapHandle
		if d.config.OutputMode == OutputModeImport {
			pixmap = rec.pixmap
		}
		if err := d.device.QueueOutput(i, pixmap); err != nil {
			if errors.Is(err, ErrNoFreeBuffer) || errors.Is(err, ErrWouldBlock) {
				return
			}
			d.log.Errorf("queue output %d: %v", i, err)
			d.setErrorState(acceleratorCode(err, ErrPlatformFailure))
			return
		}
		rec.state = pictureAtCodec
	}
}

// dequeueOutputs collects decoded pictures into the pending queue.
func (d *VideoDecodeAccelerator) dequeueOutputs() {
	for d.state != DecoderStateError {
		out, ok, err := d.device.DequeueOutput()
		if err != nil {
			d.log.Errorf("dequeue output: %v", err)
			d.setErrorState(acceleratorCode(err, ErrPlatformFailure))
			return
		}
		if !ok {
			return
		}
		if out.Index < 0 || out.Index >= len(d.outputs) {
			d.log.Warnf("device returned unknown output slot %d", out.Index)
			continue
		}
		rec := d.outputs[out.Index]
		if rec.state != pictureAtCodec {
			d.log.Warnf("device returned output slot %d in state %s", out.Index, rec.state)
			continue
		}
		if d.state == DecoderStateResetting {
			rec.state = pictureFree
			continue
		}
		rec.state = pictureAtClient
		visible := out.VisibleRect
		if visible.IsEmpty() {
			visible = d.outputFormat.VisibleRect
		}
		d.pendingPictures = append(d.pendingPictures, pendingPicture{
			picture: Picture{
				PictureBufferID: rec.pictureID,
				BitstreamID:     out.BitstreamID,
				VisibleRect:     visible,
				Overlay:         d.mediaLayerID != "",
			},
			cleared: rec.cleared,
		})
		rec.cleared = true
	}
}

// sendPictureReady delivers pending pictures in decode order. A picture
// shown for the first time is acknowledged by the client runner before
// later pictures follow, unless the decoder is draining.
func (d *VideoDecodeAccelerator) sendPictureReady() {
	sendNow := d.resetPending
	switch d.state {
	case DecoderStateResetting, DecoderStateFlushing, DecoderStateChangingResolution:
		sendNow = true
	}
	for len(d.pendingPictures) > 0 {
		p := d.pendingPictures[0]
		switch {
		case p.cleared && d.pictureClearingCount == 0:
			d.postClient(func(c VideoDecodeAcceleratorClient) { c.PictureReady(p.picture) })
		case !p.cleared || sendNow:
			d.pictureClearingCount++
			d.postClient(func(c VideoDecodeAcceleratorClient) {
				c.PictureReady(p.picture)
				d.decodeRunner.PostTask(d.decodeToken.Bind(d.pictureClearedTask))
			})
		default:
			return
		}
		d.pendingPictures = d.pendingPictures[1:]
	}
}

func (d *VideoDecodeAccelerator) pictureClearedTask() {
	d.pictureClearingCount--
	d.sendPictureReady()
}

// destroyOutputBuffers drops every picture buffer and tells the client to
// dismiss them.
func (d *VideoDecodeAccelerator) destroyOutputBuffers() {
	ids := make([]int32, 0, len(d.outputs))
	for _, rec := range d.outputs {
		ids = append(ids, rec.pictureID)
	}
	images := d.releaseOutputRecords()
	d.postClient(func(c VideoDecodeAcceleratorClient) {
		d.destroyImagesNow(images)
		for _, id := range ids {
			c.DismissPictureBuffer(id)
		}
	})
}

// releaseOutputRecords closes fences and pixmaps, forgets every record and
// returns the images still to be destroyed on the client runner.
func (d *VideoDecodeAccelerator) releaseOutputRecords() []EGLImage {
	d.pictureGen++
	d.fencePoll.Cancel()
	d.awaitingFence = nil
	var images []EGLImage
	for _, rec := range d.outputs {
		if rec.fence != nil {
			rec.fence.Close()
		}
		rec.pixmap.Close()
		if rec.image != EGLNoImage {
			images = append(images, rec.image)
		}
	}
	d.outputs = nil
	clear(d.pictureToSlot)
	clear(d.outputWaitMap)
	d.outputsReady = false
	return images
}

// destroyImages posts image destruction to the client runner.
func (d *VideoDecodeAccelerator) destroyImages(images []EGLImage) {
	if d.images == nil || len(images) == 0 {
		return
	}
	d.clientRunner.PostTask(func() { d.destroyImagesNow(images) })
}

func (d *VideoDecodeAccelerator) destroyImagesNow(images []EGLImage) {
	if d.images == nil {
		return
	}
	for _, image := range images {
		if image == EGLNoImage {
			continue
		}
		if err := d.images.Destroy(d.config.Display, image); err != nil {
			d.log.Warnf("destroy image: %v", err)
		}
	}
}
