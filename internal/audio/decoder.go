package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

var (
	ErrEmptyPayload     = errors.New("audio: empty payload")
	ErrMalformedPayload = errors.New("audio: malformed payload")
)

// Buffer holds decoded, de-interleaved samples ready for playback.
type Buffer struct {
	SampleRate int
	Channels   [][]float32
}

func (b *Buffer) Frames() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// DecodePCM16 turns interleaved little-endian 16-bit PCM into a Buffer.
func DecodePCM16(pcm []byte, sampleRate, channels int) (*Buffer, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("%w: rate %d channels %d", ErrMalformedPayload, sampleRate, channels)
	}
	if len(pcm) == 0 {
		return nil, ErrEmptyPayload
	}
	frameBytes := 2 * channels
	if len(pcm)%frameBytes != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of %d-byte frames", ErrMalformedPayload, len(pcm), frameBytes)
	}

	samples := Int16ToFloat32(PCMBytesToInt16(pcm))
	frames := len(samples) / channels

	buf := &Buffer{
		SampleRate: sampleRate,
		Channels:   make([][]float32, channels),
	}
	for ch := range buf.Channels {
		data := make([]float32, frames)
		for i := 0; i < frames; i++ {
			data[i] = samples[i*channels+ch]
		}
		buf.Channels[ch] = data
	}
	return buf, nil
}

// DecodeBase64PCM16 decodes an inline audio payload as sent by the model.
func DecodeBase64PCM16(data string, sampleRate, channels int) (*Buffer, error) {
	if data == "" {
		return nil, ErrEmptyPayload
	}
	pcm, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return DecodePCM16(pcm, sampleRate, channels)
}
