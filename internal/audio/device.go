// Package audio provides the host audio output collaborator. The core
// emulator only ever produces float32 PCM samples (see bus.GetAudioSamples);
// this package is the one place that knows how to get them onto real
// speakers.
package audio

import (
	"io"
	"sync"

	"github.com/hajimehoshi/ebiten/v2/audio"
)

// Device streams NES APU samples to the host's audio output. It wraps
// ebiten's audio package, which in turn drives github.com/ebitengine/oto/v3
// under the hood; the core never imports either directly.
type Device struct {
	context *audio.Context
	player  *audio.Player
	stream  *sampleStream

	mu      sync.Mutex
	volume  float64
	enabled bool
}

// Config configures a Device.
type Config struct {
	SampleRate int
	Volume     float32
	Enabled    bool
}

// NewDevice creates an audio device at the given sample rate. Playback
// starts immediately; silence is emitted until the first QueueSamples call.
func NewDevice(cfg Config) (*Device, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 44100
	}
	ctx := audio.NewContext(cfg.SampleRate)

	stream := newSampleStream(cfg.SampleRate)
	player, err := ctx.NewPlayer(stream)
	if err != nil {
		return nil, err
	}
	player.SetBufferSize(0) // use ebiten's default low-latency buffer

	d := &Device{
		context: ctx,
		player:  player,
		stream:  stream,
		volume:  float64(cfg.Volume),
		enabled: cfg.Enabled,
	}
	d.player.SetVolume(d.volume)
	d.player.Play()
	return d, nil
}

// QueueSamples appends mono float32 samples in [-1, 1] to the playback
// buffer. Called once per emulated frame from the application's audio
// pump, mirroring how frameBuffer is pushed to the video sink.
func (d *Device) QueueSamples(samples []float32) {
	d.mu.Lock()
	enabled := d.enabled
	d.mu.Unlock()
	if !enabled || len(samples) == 0 {
		return
	}
	d.stream.write(samples)
}

// SetVolume adjusts playback volume in [0, 1].
func (d *Device) SetVolume(volume float32) {
	d.mu.Lock()
	d.volume = float64(volume)
	d.mu.Unlock()
	d.player.SetVolume(d.volume)
}

// SetEnabled mutes or unmutes output without tearing down the player.
// Muted samples are dropped rather than buffered, so re-enabling doesn't
// play back a backlog.
func (d *Device) SetEnabled(enabled bool) {
	d.mu.Lock()
	d.enabled = enabled
	d.mu.Unlock()
	if !enabled {
		d.stream.drain()
	}
}

// Close stops playback and releases the player.
func (d *Device) Close() error {
	return d.player.Close()
}

// sampleStream adapts a float32 sample queue to the io.Reader ebiten's
// audio.Player expects (16-bit little-endian stereo PCM).
type sampleStream struct {
	sampleRate int

	mu  sync.Mutex
	buf []byte
}

func newSampleStream(sampleRate int) *sampleStream {
	return &sampleStream{sampleRate: sampleRate}
}

func (s *sampleStream) write(samples []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sample := range samples {
		if sample > 1 {
			sample = 1
		} else if sample < -1 {
			sample = -1
		}
		v := int16(sample * 32767)
		lo := byte(v)
		hi := byte(v >> 8)
		// duplicate mono sample to both channels
		s.buf = append(s.buf, lo, hi, lo, hi)
	}
}

func (s *sampleStream) drain() {
	s.mu.Lock()
	s.buf = s.buf[:0]
	s.mu.Unlock()
}

// Read implements io.Reader. When the queue underruns it emits silence
// rather than blocking, since the emulator's frame cadence and the audio
// callback's pull cadence aren't synchronized.
func (s *sampleStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	if n < len(p) {
		for i := n; i < len(p); i++ {
			p[i] = 0
		}
		n = len(p)
	}
	return n, nil
}

var _ io.Reader = (*sampleStream)(nil)
