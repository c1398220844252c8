package app

import (
	"sync"

	"corenes/internal/emuerr"
)

// appSinks bridges the bus's push-style VideoSink/AudioSink/
// FrameCallback interfaces to the application's window, audio device,
// and fault handling. One instance is shared by all three roles since
// they all need to reach back into the same Application.
type appSinks struct {
	app *Application

	mu        sync.Mutex
	frame     [256 * 240]uint32
	haveFrame bool
	samples   []float32
}

func newAppSinks(app *Application) *appSinks {
	return &appSinks{app: app}
}

// SubmitFrame implements bus.VideoSink. rgba is packed row-major RGBA;
// the window wants a packed 0xAARRGGBB uint32 per pixel instead, so it
// is repacked here rather than pushed through unconverted.
func (s *appSinks) SubmitFrame(rgba []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(rgba) / 4
	if n > len(s.frame) {
		n = len(s.frame)
	}
	for i := 0; i < n; i++ {
		r := uint32(rgba[i*4+0])
		g := uint32(rgba[i*4+1])
		b := uint32(rgba[i*4+2])
		s.frame[i] = 0xFF000000 | r<<16 | g<<8 | b
	}
	s.haveFrame = true
}

// latestFrame returns the most recently submitted frame, and whether
// one has been submitted yet.
func (s *appSinks) latestFrame() ([256 * 240]uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame, s.haveFrame
}

// SetFPS implements bus.VideoSink.
func (s *appSinks) SetFPS(fps uint32) {
	s.app.currentFPS = float64(fps)
}

// ShowMessage implements bus.VideoSink. The graphics backends don't yet
// carry an on-screen toast surface, so this just logs; the hook exists
// so callers (and future backends) have somewhere to send it.
func (s *appSinks) ShowMessage(text string, durationMillis uint32) {
	s.app.log.Infof("%s", text)
}

// SampleRate implements bus.AudioSink.
func (s *appSinks) SampleRate() uint32 {
	if s.app.config != nil {
		return uint32(s.app.config.Audio.SampleRate)
	}
	return 44100
}

// SubmitSample implements bus.AudioSink. Samples accumulate until the
// frame callback flushes them to the audio device in one batch, since
// audio.Device queues in chunks rather than per-sample.
func (s *appSinks) SubmitSample(sample float32) {
	s.mu.Lock()
	s.samples = append(s.samples, sample)
	s.mu.Unlock()
}

// Reset implements bus.AudioSink.
func (s *appSinks) Reset() {
	s.mu.Lock()
	s.samples = s.samples[:0]
	s.mu.Unlock()
}

// OnFrameComplete implements bus.FrameCallback.
func (s *appSinks) OnFrameComplete() {
	s.mu.Lock()
	samples := s.samples
	s.samples = nil
	s.mu.Unlock()

	if len(samples) > 0 && s.app.audioDevice != nil {
		s.app.audioDevice.QueueSamples(samples)
	}
}

// OnError implements bus.FrameCallback. The core has already set its
// own fault (bus.Err) and the emulation goroutine is exiting; this just
// surfaces it to the application and stops the render loop from
// pretending the game is still running.
func (s *appSinks) OnError(kind emuerr.Kind) {
	var cause error
	if s.app.bus != nil {
		cause = s.app.bus.Err()
	}
	s.app.log.Errorf("emulation fault (%s): %v", kind, cause)
	s.app.running = false
}
