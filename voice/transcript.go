package voice

import (
	"github.com/google/uuid"

	"github.com/joan6141318-ai/Moon-sub000/internal/types"
)

// Transcript accumulates streaming transcript fragments into a log.
//
// Within a turn a fragment extends the last entry when it comes from the same
// source; otherwise it opens a new entry. A turn boundary is never merged
// across.
type Transcript struct {
	entries []types.TranscriptEntry

	user  string // user text of the open turn
	model string // model text of the open turn

	turnOpen  bool
	turnStart int // index of the first entry of the open turn
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// Add records a fragment from source and returns the index of the entry it
// landed in. Empty fragments are ignored and return -1.
func (t *Transcript) Add(source types.Source, text string) int {
	if text == "" {
		return -1
	}

	switch source {
	case types.SourceUser:
		t.user += text
	case types.SourceModel:
		t.model += text
	}

	if !t.turnOpen {
		t.turnOpen = true
		t.turnStart = len(t.entries)
	}

	if n := len(t.entries); n > t.turnStart && t.entries[n-1].Source == source {
		t.entries[n-1].Text += text
		return n - 1
	}

	t.entries = append(t.entries, types.TranscriptEntry{
		ID:     uuid.NewString(),
		Source: source,
		Text:   text,
	})
	return len(t.entries) - 1
}

// TurnResult describes a closed turn.
type TurnResult struct {
	UserText  string
	ModelText string
	Start     int // index of the first entry of the turn
	End       int // one past the last entry of the turn
}

// CompleteTurn closes the open turn and resets both accumulators.
func (t *Transcript) CompleteTurn() TurnResult {
	res := TurnResult{
		UserText:  t.user,
		ModelText: t.model,
		Start:     len(t.entries),
		End:       len(t.entries),
	}
	if t.turnOpen {
		res.Start = t.turnStart
	}
	t.user = ""
	t.model = ""
	t.turnOpen = false
	return res
}

// SetLang tags entry i with a language code.
func (t *Transcript) SetLang(i int, lang string) {
	if i >= 0 && i < len(t.entries) {
		t.entries[i].Lang = lang
	}
}

// Entry returns entry i.
func (t *Transcript) Entry(i int) types.TranscriptEntry {
	return t.entries[i]
}

// Entries returns a copy of the log.
func (t *Transcript) Entries() []types.TranscriptEntry {
	out := make([]types.TranscriptEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of entries.
func (t *Transcript) Len() int {
	return len(t.entries)
}

// Pending returns the open turn's accumulated text per side.
func (t *Transcript) Pending() (user, model string) {
	return t.user, t.model
}

// Reset clears the log and accumulators.
func (t *Transcript) Reset() {
	t.entries = nil
	t.user = ""
	t.model = ""
	t.turnOpen = false
	t.turnStart = 0
}
