package bus

import "corenes/internal/emuerr"

// VideoSink receives completed frames from the PPU. Submissions happen
// once per frame, at vblank, from whatever goroutine is driving Step.
type VideoSink interface {
	// SubmitFrame delivers one RGBA frame, 256*240*4 bytes, row-major.
	SubmitFrame(rgba []byte)
	// SetFPS reports the measured frame rate for on-screen display.
	SetFPS(fps uint32)
	// ShowMessage requests a transient on-screen message.
	ShowMessage(text string, durationMillis uint32)
}

// AudioSink receives PCM samples produced by the APU.
type AudioSink interface {
	// SampleRate reports the rate the sink wants samples delivered at.
	SampleRate() uint32
	// SubmitSample delivers one sample in [-1, 1].
	SubmitSample(sample float32)
	// Reset is called when the emulator resets or loads a new game, so
	// the sink can drop any buffered audio tied to the old stream.
	Reset()
}

// FrameCallback is notified of frame boundaries and emulation faults.
type FrameCallback interface {
	OnFrameComplete()
	OnError(kind emuerr.Kind)
}

// SetVideoSink installs the video sink used at end-of-frame. Pass nil to
// stop delivering frames (e.g. during turbo mode).
func (b *Bus) SetVideoSink(sink VideoSink) { b.videoSink = sink }

// SetAudioSink installs the audio sink used at end-of-frame.
func (b *Bus) SetAudioSink(sink AudioSink) { b.audioSink = sink }

// SetFrameCallback installs the frame/error callback.
func (b *Bus) SetFrameCallback(cb FrameCallback) { b.frameCallback = cb }

// SetTurbo enables or disables turbo mode. While enabled, the bus still
// computes PPU/APU state every frame (mapper IRQs keep working) but
// skips delivering video and audio to their sinks.
func (b *Bus) SetTurbo(enabled bool) {
	b.turboEnabled = enabled
	b.turboFramesSkipped = 0
}

// IsTurbo reports whether turbo mode is active.
func (b *Bus) IsTurbo() bool { return b.turboEnabled }

// SetTurboSkipFrames configures how many consecutive frames turbo mode
// skips video/audio submission for before showing one. n <= 0 resets
// it to the default.
func (b *Bus) SetTurboSkipFrames(n int) {
	if n <= 0 {
		n = turboSkipFramesDefault
	}
	b.turboSkipFrames = n
}

// deliverFrame pushes the current framebuffer/audio to their sinks
// unless turbo mode is suppressing output, then notifies the frame
// callback. Called from handleFrameComplete, once per completed frame.
func (b *Bus) deliverFrame() {
	skip := b.turboEnabled && b.turboFramesSkipped < b.turboSkipFrames
	if skip {
		b.turboFramesSkipped++
	} else if b.turboEnabled {
		b.turboFramesSkipped = 0
	}

	if !skip {
		if b.videoSink != nil {
			frame := b.PPU.GetFrameBuffer()
			b.videoSink.SubmitFrame(rgbaBytes(frame[:]))
		}
		if b.audioSink != nil && !b.turboEnabled {
			for _, s := range b.APU.GetSamples() {
				b.audioSink.SubmitSample(s)
			}
		}
	}

	if b.frameCallback != nil {
		b.frameCallback.OnFrameComplete()
	}
}

// notifyFault reports a newly observed emulation fault to the frame
// callback, classifying it the way the rest of the system does.
func (b *Bus) notifyFault(err error) {
	if b.frameCallback != nil {
		b.frameCallback.OnError(emuerr.KindOf(err))
	}
}

// turboSkipFramesDefault is the default number of consecutive frames
// turbo mode skips video (and audio) submission for.
const turboSkipFramesDefault = 20

// rgbaBytes converts the PPU's packed 0xAARRGGBB framebuffer into the
// flat byte-per-channel layout VideoSink implementations expect.
func rgbaBytes(frame []uint32) []byte {
	out := make([]byte, len(frame)*4)
	for i, px := range frame {
		out[i*4+0] = uint8(px >> 16) // R
		out[i*4+1] = uint8(px >> 8)  // G
		out[i*4+2] = uint8(px)       // B
		out[i*4+3] = 0xFF            // A
	}
	return out
}
