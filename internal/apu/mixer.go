package apu

// MixerUnit combines the five channel outputs into a stream of output
// samples at the host's target sample rate. It runs the non-linear NES
// mixer formula every CPU cycle and averages the results over each
// output sample's cycle span (a running sum, not nearest-neighbor
// dropping), so a sample reflects everything that happened in its span
// rather than whatever channel state happened to be live on the one CPU
// cycle a naive implementation would sample.
type MixerUnit struct {
	sampleRate      int
	cpuFrequency    float64
	cyclesPerSample float64
	cycleAccumulator float64

	runningSum   float64
	samplesInSum int

	out []float32
}

const cpuFrequencyNTSC = 1789773.0

func newMixerUnit(sampleRate int) MixerUnit {
	return MixerUnit{
		sampleRate:      sampleRate,
		cpuFrequency:    cpuFrequencyNTSC,
		cyclesPerSample: cpuFrequencyNTSC / float64(sampleRate),
		out:             make([]float32, 0, 4096),
	}
}

func (m *MixerUnit) reset() {
	m.cycleAccumulator = 0
	m.runningSum = 0
	m.samplesInSum = 0
	m.out = m.out[:0]
}

// accumulate mixes the channel outputs for the CPU cycle just executed
// into the running sum, emitting an averaged output sample whenever the
// cycle span for the current sample rate has elapsed.
func (m *MixerUnit) accumulate(pulse1, pulse2, triangle, noise, dmc uint8) {
	m.runningSum += mixFormula(pulse1, pulse2, triangle, noise, dmc)
	m.samplesInSum++
	m.cycleAccumulator++

	if m.cycleAccumulator < m.cyclesPerSample {
		return
	}
	m.cycleAccumulator -= m.cyclesPerSample

	avg := m.runningSum / float64(m.samplesInSum)
	m.runningSum = 0
	m.samplesInSum = 0

	m.out = append(m.out, float32(avg))
}

// drain returns and clears the samples produced since the last call.
func (m *MixerUnit) drain() []float32 {
	samples := make([]float32, len(m.out))
	copy(samples, m.out)
	m.out = m.out[:0]
	return samples
}

// mixFormula applies the NES's non-linear DAC mixing formula, returning a
// value in roughly [-1, 1].
func mixFormula(pulse1, pulse2, triangle, noise, dmc uint8) float64 {
	pulseSum := float64(pulse1) + float64(pulse2)
	var pulseOut float64
	if pulseSum != 0 {
		pulseOut = 95.88 / ((8128.0 / pulseSum) + 100.0)
	}

	tndSum := (float64(triangle) / 8227.0) + (float64(noise) / 12241.0) + (float64(dmc) / 22638.0)
	var tndOut float64
	if tndSum != 0 {
		tndOut = 159.79 / ((1.0 / tndSum) + 100.0)
	}

	return (pulseOut+tndOut)/30.0 - 1.0
}
