package playback

import (
	"math"
	"time"

	"github.com/faiface/beep"

	"sakhivox/pkg/audioconv"
)

// Clip is decoded mono audio ready for the speaker.
type Clip struct {
	Samples []float32
	Rate    beep.SampleRate
}

func NewClip(p audioconv.PCM) *Clip {
	return &Clip{Samples: p.Samples, Rate: beep.SampleRate(p.SampleRate)}
}

func (c *Clip) Duration() time.Duration {
	if c == nil || c.Rate <= 0 {
		return 0
	}
	return c.Rate.D(len(c.Samples))
}

// Tone is a short sine cue with a linear fade-out, used as the "listening"
// beep.
func Tone(freq float64, d time.Duration, rate beep.SampleRate) *Clip {
	n := rate.N(d)
	out := make([]float32, n)
	for i := range out {
		env := 1 - float64(i)/float64(n)
		out[i] = float32(0.3 * env * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return &Clip{Samples: out, Rate: rate}
}

// streamer plays a clip once, duplicating the mono channel to both sides.
type streamer struct {
	samples []float32
	pos     int
}

func (s *streamer) Stream(buf [][2]float64) (int, bool) {
	if s.pos >= len(s.samples) {
		return 0, false
	}
	n := copyFrames(buf, s.samples[s.pos:])
	s.pos += n
	return n, true
}

func (s *streamer) Err() error { return nil }

func copyFrames(dst [][2]float64, src []float32) int {
	n := len(dst)
	if len(src) < n {
		n = len(src)
	}
	for i := 0; i < n; i++ {
		v := float64(src[i])
		dst[i][0], dst[i][1] = v, v
	}
	return n
}
