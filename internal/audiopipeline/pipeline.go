// Package audiopipeline implements the Mixed-Audio Input transform chain
// (C8): downmix, resample, normalize, noise gate, and per-peer voice
// activity detection ahead of delivery to the realtime provider.
package audiopipeline

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type vadState int

const (
	stateSilence vadState = iota
	stateSpeech
)

// peerVAD tracks one peer's voice-activity state machine, including the
// rolling prefix buffer retained so speech onset is never clipped.
type peerVAD struct {
	state  vadState
	prefix []int16 // ring buffer of recent samples, capped at prefixPadding duration

	// silenceAccum tracks how long speech has been absent since the last
	// detected speech frame, used to debounce the speech->silence
	// transition by silenceDurationMs rather than reacting to a single
	// quiet frame.
	silenceAccum time.Duration
}

// Pipeline applies the transform chain to incoming audio for one room and
// drives per-peer VAD, emitting Callbacks as state transitions occur. A
// Pipeline drops all audio while its room has zero non-AI peers present.
type Pipeline struct {
	mu     sync.Mutex
	cfg    Config
	cb     Callbacks
	logger zerolog.Logger

	peers    map[string]*peerVAD
	occupied bool

	prefixCapSamples int
}

// New constructs a Pipeline for one room.
func New(cfg Config, cb Callbacks, logger zerolog.Logger) *Pipeline {
	sampleRate := cfg.targetRate()
	capSamples := int(cfg.prefixPadding().Seconds() * float64(sampleRate))
	return &Pipeline{
		cfg:              cfg,
		cb:               cb,
		logger:           logger.With().Str("component", "audio_pipeline").Logger(),
		peers:            make(map[string]*peerVAD),
		prefixCapSamples: capSamples,
	}
}

// SetOccupied updates whether the room currently holds any non-AI peer.
// Audio is dropped at ingress while unoccupied; the transition into
// occupied fires OnRoomOccupied exactly once per transition.
func (p *Pipeline) SetOccupied(occupied bool) {
	p.mu.Lock()
	wasOccupied := p.occupied
	p.occupied = occupied
	p.mu.Unlock()

	if occupied && !wasOccupied && p.cb.OnRoomOccupied != nil {
		p.cb.OnRoomOccupied()
	}
}

// Ingest applies the transform chain to raw samples from peerID and
// advances that peer's VAD state machine. Audio is silently dropped if
// the room is not currently occupied by any non-AI peer.
func (p *Pipeline) Ingest(peerID string, raw []int16) {
	p.mu.Lock()
	occupied := p.occupied
	p.mu.Unlock()
	if !occupied {
		return
	}

	transformed := p.transform(raw)
	if len(transformed) == 0 {
		return
	}
	p.advanceVAD(peerID, transformed)
}

// transform runs the mandated chain: downmix -> resample -> normalize ->
// noise gate, in that exact order.
func (p *Pipeline) transform(raw []int16) []int16 {
	samples := downmix(raw, p.cfg.Stereo)
	samples = resample(samples, p.cfg.SourceSampleRateHz, p.cfg.targetRate())
	if p.cfg.NormalizeEnabled {
		samples = normalize(samples, p.cfg.TargetOutputLevel, p.cfg.maxGain())
	}
	if p.cfg.NoiseGateThreshold > 0 {
		samples = noiseGate(samples, p.cfg.NoiseGateThreshold)
	}
	return samples
}

func (p *Pipeline) stateFor(peerID string) *peerVAD {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.peers[peerID]
	if !ok {
		v = &peerVAD{state: stateSilence}
		p.peers[peerID] = v
	}
	return v
}

// advanceVAD computes speech probability per the mandated formula and
// drives the silence/speech state machine, invoking callbacks on
// transitions and forwarding audio chunks while speech is active.
func (p *Pipeline) advanceVAD(peerID string, samples []int16) {
	v := p.stateFor(peerID)

	amplitude := rms(samples)
	speechProbability := amplitude / (2 * p.cfg.EnergyThreshold)
	if speechProbability > 1 {
		speechProbability = 1
	}
	isSpeech := amplitude > p.cfg.EnergyThreshold && speechProbability > p.cfg.SpeechThreshold

	frameDuration := time.Duration(float64(len(samples))/float64(p.cfg.targetRate())*1000) * time.Millisecond

	p.mu.Lock()
	switch v.state {
	case stateSilence:
		if isSpeech {
			v.state = stateSpeech
			v.silenceAccum = 0
			prefix := v.prefix
			v.prefix = nil
			p.mu.Unlock()
			if p.cb.OnSpeechStart != nil {
				p.cb.OnSpeechStart(peerID, prefix)
			}
			if p.cb.OnAudioChunk != nil {
				p.cb.OnAudioChunk(peerID, samples)
			}
			return
		}
		v.prefix = appendCapped(v.prefix, samples, p.prefixCapSamples)
		p.mu.Unlock()

	case stateSpeech:
		if !isSpeech {
			v.silenceAccum += frameDuration
			if v.silenceAccum < p.cfg.silenceDuration() {
				p.mu.Unlock()
				if p.cb.OnAudioChunk != nil {
					p.cb.OnAudioChunk(peerID, samples)
				}
				return
			}
			v.state = stateSilence
			v.silenceAccum = 0
			p.mu.Unlock()
			if p.cb.OnSpeechEnd != nil {
				p.cb.OnSpeechEnd(peerID)
			}
			return
		}
		v.silenceAccum = 0
		p.mu.Unlock()
		if p.cb.OnAudioChunk != nil {
			p.cb.OnAudioChunk(peerID, samples)
		}
	default:
		p.mu.Unlock()
	}
}

// RemovePeer drops VAD state for a peer that has left the room.
func (p *Pipeline) RemovePeer(peerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.peers, peerID)
}

// appendCapped appends chunk to buf, retaining only the most recent cap
// samples (a fixed-size trailing window).
func appendCapped(buf, chunk []int16, cap int) []int16 {
	buf = append(buf, chunk...)
	if len(buf) > cap {
		buf = buf[len(buf)-cap:]
	}
	return buf
}
