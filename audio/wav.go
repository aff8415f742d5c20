package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// wavHeader is the canonical 44-byte PCM WAV header.
type wavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

// EncodeWAV wraps mono float samples as a 16-bit PCM WAV file.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d", ErrInvalidFormat, sampleRate)
	}

	pcm := FloatToPCM16(samples)
	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + len(pcm)),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * 2,
		BlockAlign:    2,
		BitsPerSample: 16,
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("write wav header: %w", err)
	}
	buf.WriteString("data")
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(pcm))); err != nil {
		return nil, fmt.Errorf("write data size: %w", err)
	}
	buf.Write(pcm)
	return buf.Bytes(), nil
}

// DecodeWAV reads a 16-bit PCM WAV file and returns mono samples and the
// sample rate. Multi-channel input is downmixed. Chunks other than "fmt "
// and "data" are skipped.
func DecodeWAV(data []byte) ([]float32, int, error) {
	if len(data) < 12 {
		return nil, 0, fmt.Errorf("%w: wav too short (%d bytes)", ErrInvalidFormat, len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidFormat)
	}

	r := bytes.NewReader(data[12:])
	var (
		channels, bits uint16
		rate           uint32
		haveFmt        bool
	)
	for {
		var id [4]byte
		var size uint32
		if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
			if err == io.EOF {
				return nil, 0, fmt.Errorf("%w: no data chunk", ErrInvalidFormat)
			}
			return nil, 0, fmt.Errorf("read chunk id: %w", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return nil, 0, fmt.Errorf("read chunk size: %w", err)
		}

		switch string(id[:]) {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, 0, fmt.Errorf("read fmt chunk: %w", err)
			}
			if size < 16 {
				return nil, 0, fmt.Errorf("%w: short fmt chunk", ErrInvalidFormat)
			}
			if format := binary.LittleEndian.Uint16(body[0:2]); format != 1 {
				return nil, 0, fmt.Errorf("%w: audio format %d, want PCM", ErrInvalidFormat, format)
			}
			channels = binary.LittleEndian.Uint16(body[2:4])
			rate = binary.LittleEndian.Uint32(body[4:8])
			bits = binary.LittleEndian.Uint16(body[14:16])
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, 0, fmt.Errorf("%w: data before fmt", ErrInvalidFormat)
			}
			if bits != 16 {
				return nil, 0, fmt.Errorf("%w: %d-bit samples, want 16", ErrInvalidFormat, bits)
			}
			if channels == 0 || rate == 0 {
				return nil, 0, fmt.Errorf("%w: channels %d rate %d", ErrInvalidFormat, channels, rate)
			}
			n := min(int(size), r.Len())
			pcm := make([]byte, n-n%2)
			if _, err := io.ReadFull(r, pcm); err != nil {
				return nil, 0, fmt.Errorf("read data chunk: %w", err)
			}
			samples, err := PCM16ToFloat(pcm)
			if err != nil {
				return nil, 0, err
			}
			return Downmix(samples, int(channels)), int(rate), nil
		default:
			if _, err := r.Seek(int64(size+size%2), io.SeekCurrent); err != nil {
				return nil, 0, fmt.Errorf("skip chunk %q: %w", id[:], err)
			}
		}
		if size%2 == 1 && string(id[:]) == "fmt " {
			_, _ = r.ReadByte()
		}
	}
}
