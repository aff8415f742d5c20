// Package audio provides the PCM primitives shared by the capture and
// playback paths: wire formats, transcoding, framing and device interfaces.
package audio

import (
	"errors"
	"fmt"
	"time"
)

const (
	// InputSampleRate is the microphone rate expected by the remote session.
	InputSampleRate = 16000
	// OutputSampleRate is the rate of model audio returned by the session.
	OutputSampleRate = 24000
	// FrameSize is the number of samples per outbound chunk.
	FrameSize = 4096
	// Channels is the channel count on both directions.
	Channels = 1
)

// InputMIMEType describes outbound chunks.
var InputMIMEType = MIMEType(InputSampleRate)

// Sentinel errors.
var (
	ErrOddLength     = errors.New("audio: pcm16 payload has odd length")
	ErrEmpty         = errors.New("audio: empty payload")
	ErrInvalidFormat = errors.New("audio: invalid format")
)

// MIMEType returns the descriptor for 16-bit PCM at the given rate.
func MIMEType(sampleRate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", sampleRate)
}

// Chunk is one outbound frame of little-endian PCM16 bytes.
type Chunk struct {
	Data     []byte
	MIMEType string
}

// NewChunk converts float samples to a PCM16 chunk at InputSampleRate.
func NewChunk(samples []float32) Chunk {
	return Chunk{
		Data:     FloatToPCM16(samples),
		MIMEType: InputMIMEType,
	}
}

// Base64 returns the transport-safe representation of the chunk data.
func (c Chunk) Base64() string {
	return Encode(c.Data)
}

// Samples returns the number of samples carried by the chunk.
func (c Chunk) Samples() int {
	return len(c.Data) / 2
}

// DurationOf returns the play time of n samples at rate.
func DurationOf(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(rate)
}
