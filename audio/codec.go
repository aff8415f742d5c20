package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Encode returns the standard base64 encoding of b.
func Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// Decode reverses Encode.
func Decode(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return b, nil
}

// FloatToPCM16 scales samples in [-1, 1] to little-endian int16.
// Out of range values are clamped.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

func floatToInt16(s float32) int16 {
	v := math.Round(float64(s) * 32768)
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	case math.IsNaN(v):
		return 0
	}
	return int16(v)
}

// PCM16ToFloat converts little-endian int16 bytes to samples in [-1, 1).
func PCM16ToFloat(b []byte) ([]float32, error) {
	if len(b)%2 != 0 {
		return nil, ErrOddLength
	}
	out := make([]float32, len(b)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(b[i*2:]))) / 32768
	}
	return out, nil
}

// Buffer is a decoded, playable block of audio.
// Data holds one slice per channel.
type Buffer struct {
	SampleRate int
	Data       [][]float32
}

// Channels returns the channel count.
func (b *Buffer) Channels() int { return len(b.Data) }

// Len returns the number of sample frames.
func (b *Buffer) Len() int {
	if len(b.Data) == 0 {
		return 0
	}
	return len(b.Data[0])
}

// Duration returns the play time of the buffer.
func (b *Buffer) Duration() time.Duration {
	return DurationOf(b.Len(), b.SampleRate)
}

// Mono returns the first channel.
func (b *Buffer) Mono() []float32 {
	if len(b.Data) == 0 {
		return nil
	}
	return b.Data[0]
}

// DecodeAudioData turns interleaved PCM16 bytes into a Buffer.
func DecodeAudioData(data []byte, sampleRate, channels int) (*Buffer, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("%w: rate %d channels %d", ErrInvalidFormat, sampleRate, channels)
	}
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if len(data)%(2*channels) != 0 {
		return nil, fmt.Errorf("%w: %d bytes for %d channels", ErrOddLength, len(data), channels)
	}

	samples, err := PCM16ToFloat(data)
	if err != nil {
		return nil, err
	}

	frames := len(samples) / channels
	buf := &Buffer{
		SampleRate: sampleRate,
		Data:       make([][]float32, channels),
	}
	for ch := range buf.Data {
		buf.Data[ch] = make([]float32, frames)
	}
	for i, s := range samples {
		buf.Data[i%channels][i/channels] = s
	}
	return buf, nil
}
