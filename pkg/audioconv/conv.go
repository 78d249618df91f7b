// Package audioconv decodes synthesized speech (wav, mp3, ogg/vorbis,
// ogg/opus) into mono float32 PCM.
package audioconv

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"time"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	popus "github.com/pekim/opus"
)

var ErrUnsupported = errors.New("unsupported audio format")

// PCM is mono audio with samples in [-1, 1].
type PCM struct {
	Samples    []float32
	SampleRate int
}

func (p PCM) Duration() time.Duration {
	if p.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(p.Samples)) * time.Second / time.Duration(p.SampleRate)
}

type Options struct {
	SampleRate int // resample to this rate; 0 keeps the source rate
	MaxSamples int // 0 = no limit
}

// Decode picks a decoder from the MIME type, falling back to sniffing the
// leading bytes when the type is missing or generic.
func Decode(data []byte, mimeType string, opt Options) (PCM, error) {
	if len(data) == 0 {
		return PCM{}, errors.New("empty audio")
	}

	var (
		p   PCM
		err error
	)
	switch kind(data, mimeType) {
	case "wav":
		p, err = decodeWAV(bytes.NewReader(data))
	case "mp3":
		p, err = decodeMP3(bytes.NewReader(data))
	case "ogg":
		p, err = decodeOggVorbis(bytes.NewReader(data))
		if err != nil {
			var e2 error
			if p, e2 = decodeOggOpus(bytes.NewReader(data)); e2 != nil {
				return PCM{}, fmt.Errorf("cannot decode ogg as vorbis (%v) or opus (%w)", err, e2)
			}
			err = nil
		}
	default:
		return PCM{}, fmt.Errorf("%w: %q", ErrUnsupported, mimeType)
	}
	if err != nil {
		return PCM{}, err
	}

	if opt.SampleRate > 0 && p.SampleRate != opt.SampleRate {
		p.Samples = resampleLinear(p.Samples, p.SampleRate, opt.SampleRate)
		p.SampleRate = opt.SampleRate
	}
	if opt.MaxSamples > 0 && len(p.Samples) > opt.MaxSamples {
		p.Samples = p.Samples[:opt.MaxSamples]
	}
	return p, nil
}

func kind(data []byte, mimeType string) string {
	base, _, _ := mime.ParseMediaType(mimeType)
	switch base {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "wav"
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/ogg", "audio/opus", "audio/vorbis":
		return "ogg"
	}

	// quick sniff
	switch {
	case bytes.HasPrefix(data, []byte("RIFF")):
		return "wav"
	case bytes.HasPrefix(data, []byte("OggS")):
		return "ogg"
	case bytes.HasPrefix(data, []byte("ID3")),
		len(data) > 1 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return "mp3"
	}
	return ""
}

func decodeWAV(r io.ReadSeeker) (PCM, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return PCM{}, errors.New("invalid wav")
	}
	pb, err := dec.FullPCMBuffer()
	if err != nil || pb == nil || pb.Data == nil {
		if err == nil {
			err = errors.New("empty wav")
		}
		return PCM{}, err
	}

	bd := int(dec.BitDepth)
	if bd == 0 {
		bd = 16
	}
	x := intSliceToFloat32(pb.Data, bd)

	ch := 1
	sr := 44100
	if pb.Format != nil {
		if pb.Format.NumChannels > 0 {
			ch = pb.Format.NumChannels
		}
		if pb.Format.SampleRate > 0 {
			sr = pb.Format.SampleRate
		}
	}
	return PCM{Samples: downmixInterleaved(x, ch), SampleRate: sr}, nil
}

func decodeMP3(r io.Reader) (PCM, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return PCM{}, err
	}
	var raw bytes.Buffer
	if _, err := io.Copy(&raw, dec); err != nil {
		return PCM{}, err
	}
	ints := make([]int16, raw.Len()/2)
	if err := binary.Read(bytes.NewReader(raw.Bytes()), binary.LittleEndian, &ints); err != nil {
		return PCM{}, err
	}
	x := downmixInterleaved(int16SliceToFloat32(ints), 2) // mp3 decoder outputs stereo

	sr := dec.SampleRate()
	if sr <= 0 {
		sr = 44100
	}
	return PCM{Samples: x, SampleRate: sr}, nil
}

func decodeOggVorbis(r io.Reader) (PCM, error) {
	pcm, f, err := oggvorbis.ReadAll(r)
	if err != nil {
		return PCM{}, err
	}
	if f == nil || f.Channels <= 0 || f.SampleRate <= 0 {
		return PCM{}, errors.New("invalid ogg/vorbis stream")
	}
	return PCM{Samples: downmixInterleaved(pcm, f.Channels), SampleRate: f.SampleRate}, nil
}

func decodeOggOpus(rs io.ReadSeeker) (PCM, error) {
	dec, err := popus.NewDecoder(rs)
	if err != nil {
		return PCM{}, err
	}
	defer dec.Destroy()

	ch := dec.ChannelCount()
	if ch <= 0 {
		ch = 1
	}

	// opus always decodes at 48k
	var (
		pcm48 []float32
		buf   = make([]int16, 48_000*ch/2)
	)
	for {
		n, err := dec.Read(buf) // n = samples per channel
		if n > 0 {
			pcm48 = append(pcm48, int16SliceToFloat32(buf[:n*ch])...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return PCM{}, err
		}
	}
	if len(pcm48) == 0 {
		return PCM{}, errors.New("empty ogg/opus stream")
	}
	return PCM{Samples: downmixInterleaved(pcm48, ch), SampleRate: 48000}, nil
}

// helpers

func intSliceToFloat32(data []int, bitDepth int) []float32 {
	out := make([]float32, len(data))
	scale := 1.0 / float64(int64(1)<<(bitDepth-1))
	for i, v := range data {
		out[i] = float32(clamp(float64(v)*scale, -1.0, 1.0))
	}
	return out
}

func int16SliceToFloat32(data []int16) []float32 {
	out := make([]float32, len(data))
	const scale = 1.0 / 32768.0
	for i, v := range data {
		out[i] = float32(float64(v) * scale)
	}
	return out
}

func downmixInterleaved(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	nFrames := len(in) / channels
	out := make([]float32, nFrames)
	for i := 0; i < nFrames; i++ {
		sum := 0.0
		base := i * channels
		for c := 0; c < channels; c++ {
			sum += float64(in[base+c])
		}
		out[i] = float32(sum / float64(channels))
	}
	return out
}

func resampleLinear(in []float32, inSR, outSR int) []float32 {
	if inSR == outSR || len(in) == 0 {
		return in
	}
	ratio := float64(outSR) / float64(inSR)
	outN := int(math.Ceil(float64(len(in)) * ratio))
	out := make([]float32, outN)
	for i := 0; i < outN; i++ {
		src := float64(i) / ratio
		i0 := int(math.Floor(src))
		i1 := i0 + 1
		if i0 >= len(in) {
			out[i] = in[len(in)-1]
			continue
		}
		if i1 >= len(in) {
			out[i] = in[i0]
			continue
		}
		a := float32(src - float64(i0))
		out[i] = in[i0]*(1-a) + in[i1]*a
	}
	return out
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
