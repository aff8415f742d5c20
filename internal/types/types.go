// Package types provides shared type definitions for the application.
package types

// Source identifies who produced a transcript entry.
type Source string

const (
	SourceUser  Source = "user"
	SourceModel Source = "model"
)

// TranscriptEntry is one utterance in the conversation log.
type TranscriptEntry struct {
	ID     string `json:"id"`
	Source Source `json:"source"`
	Text   string `json:"text"`
	Lang   string `json:"lang,omitempty"` // ISO 639-1, set once the turn closes
}

// VoiceStatus represents the status of one voice session.
type VoiceStatus struct {
	State          string `json:"state"`
	Label          string `json:"label"`
	Provider       string `json:"provider"`
	ActiveSources  int    `json:"activeSources"`
	TranscriptSize int    `json:"transcriptSize"`
	LatencyMs      int64  `json:"latencyMs,omitempty"` // Response latency sample, 0 when idle
}

// ServerStatus is returned by the status endpoint.
type ServerStatus struct {
	ActiveSessions int           `json:"activeSessions"`
	Provider       string        `json:"provider"`
	Version        string        `json:"version"`
	Uptime         string        `json:"uptime"`
	Sessions       []VoiceStatus `json:"sessions"`
}
