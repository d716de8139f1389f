// Package summarizer implements the Summarization Service (C10): a
// background ticker that periodically condenses each room's recent
// transcript into a structured TranscriptSummary via an LLM call.
package summarizer

import "time"

// Config bundles the tunables read from internal/config.SummarizerConfig.
type Config struct {
	EntryThreshold int           // default 30
	TimeThreshold  time.Duration // default 10 minutes
	TickInterval   time.Duration // default 30s
	Model          string        // default "gpt-4o-mini"
	RequestTimeout time.Duration // default 30s
}

func (c Config) entryThreshold() int {
	if c.EntryThreshold <= 0 {
		return 30
	}
	return c.EntryThreshold
}

func (c Config) timeThreshold() time.Duration {
	if c.TimeThreshold <= 0 {
		return 10 * time.Minute
	}
	return c.TimeThreshold
}

func (c Config) tickInterval() time.Duration {
	if c.TickInterval <= 0 {
		return 30 * time.Second
	}
	return c.TickInterval
}

func (c Config) model() string {
	if c.Model == "" {
		return "gpt-4o-mini"
	}
	return c.Model
}

func (c Config) requestTimeout() time.Duration {
	if c.RequestTimeout <= 0 {
		return 30 * time.Second
	}
	return c.RequestTimeout
}

// structuredSummary is the JSON shape requested from the LLM.
type structuredSummary struct {
	Summary      string   `json:"summary"`
	BulletPoints []string `json:"bulletPoints"`
	Topics       []string `json:"topics"`
	Decisions    []string `json:"decisions"`
	ActionItems  []string `json:"actionItems"`
}
