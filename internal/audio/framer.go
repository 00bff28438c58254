package audio

import (
	"encoding/base64"
	"strconv"
	"strings"
)

const (
	InputSampleRate  = 16000
	OutputSampleRate = 24000
)

// Blob is the transport envelope for a chunk of inline media.
type Blob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

func PCMMimeType(sampleRate int) string {
	return "audio/pcm;rate=" + strconv.Itoa(sampleRate)
}

// SampleRateFromMimeType reads the rate parameter of a PCM mime type such as
// "audio/pcm;rate=24000", returning fallback when it is absent or invalid.
func SampleRateFromMimeType(mimeType string, fallback int) int {
	for _, param := range strings.Split(mimeType, ";")[1:] {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(key, "rate") {
			continue
		}
		if rate, err := strconv.Atoi(value); err == nil && rate > 0 {
			return rate
		}
	}
	return fallback
}

// EncodePCM16 packs normalized samples as little-endian 16-bit PCM.
// The result is always exactly 2*len(samples) bytes.
func EncodePCM16(samples []float32) []byte {
	return Int16ToPCMBytes(Float32ToInt16(samples))
}

// FramePCM quantizes a captured block and wraps it for the realtime input stream.
func FramePCM(samples []float32) Blob {
	return Blob{
		MimeType: PCMMimeType(InputSampleRate),
		Data:     base64.StdEncoding.EncodeToString(EncodePCM16(samples)),
	}
}
