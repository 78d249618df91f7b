package audio

import (
	"mime"
	"strings"

	"sakhivox/pkg/audioconv"
)

// Encoder turns captured PCM into an uploadable container.
type Encoder interface {
	MimeType() string
	Encode(samples []int16, sampleRate int) ([]byte, error)
}

// WAV is the uncompressed fallback every transcriber accepts.
type WAV struct{}

func (WAV) MimeType() string { return "audio/wav" }

func (WAV) Encode(samples []int16, sampleRate int) ([]byte, error) {
	return audioconv.EncodeWAV(samples, sampleRate)
}

// Negotiate picks the first encoder (callers list compressed ones first)
// whose type the service accepts, or WAV when nothing matches.
func Negotiate(encoders []Encoder, accepts []string) Encoder {
	for _, e := range encoders {
		for _, a := range accepts {
			if sameType(e.MimeType(), a) {
				return e
			}
		}
	}
	return WAV{}
}

func sameType(a, b string) bool {
	ta, _, errA := mime.ParseMediaType(a)
	tb, _, errB := mime.ParseMediaType(b)
	if errA != nil || errB != nil {
		return strings.EqualFold(a, b)
	}
	if ta == tb {
		return true
	}
	wav := func(t string) bool { return t == "audio/wav" || t == "audio/x-wav" || t == "audio/wave" }
	return wav(ta) && wav(tb)
}
