package audiopipeline

import "time"

const int16Max = 32767.0

// Config governs one room's transform chain and VAD.
type Config struct {
	SourceSampleRateHz int
	TargetSampleRateHz int // default 24000
	Stereo             bool

	NormalizeEnabled  bool
	TargetOutputLevel float64 // RMS target in [0,1]
	MaxGain           float64 // default 3.0

	NoiseGateThreshold float64 // fraction of int16 max, e.g. 0.01

	EnergyThreshold   float64 // RMS [0,1] speech/silence cutoff
	SpeechThreshold   float64 // speechProbability cutoff
	PrefixPaddingMs   int     // pre-trigger audio retained, default 300
	SilenceDurationMs int     // debounce before a speech->silence transition ends speech, default 500
}

func (c Config) targetRate() int {
	if c.TargetSampleRateHz <= 0 {
		return 24000
	}
	return c.TargetSampleRateHz
}

func (c Config) maxGain() float64 {
	if c.MaxGain <= 0 {
		return 3.0
	}
	return c.MaxGain
}

func (c Config) prefixPadding() time.Duration {
	if c.PrefixPaddingMs <= 0 {
		return 300 * time.Millisecond
	}
	return time.Duration(c.PrefixPaddingMs) * time.Millisecond
}

func (c Config) silenceDuration() time.Duration {
	if c.SilenceDurationMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.SilenceDurationMs) * time.Millisecond
}

// Callbacks are invoked by the Pipeline as VAD state and occupancy change.
type Callbacks struct {
	OnSpeechStart  func(peerID string, prefix []int16)
	OnAudioChunk   func(peerID string, samples []int16)
	OnSpeechEnd    func(peerID string)
	OnRoomOccupied func()
}
