// Package playback owns the speaker. At most one clip is audible; starting a
// new one cuts off the previous.
package playback

import (
	"errors"
	log "log/slog"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
)

type Player interface {
	Play(c *Clip) error
	Stop()
	Playing() bool
}

// Speaker plays clips through the default output device.
type Speaker struct {
	rate   beep.SampleRate
	logger *log.Logger

	// playMu serializes Play/Stop. mu guards the bookkeeping and is also taken
	// from the speaker callback, so speaker calls must never happen under it.
	playMu  sync.Mutex
	mu      sync.Mutex
	gen     uint64
	playing bool
}

// NewSpeaker initializes the output device at the given rate. The beep speaker
// is process-global, so call this once.
func NewSpeaker(rate int, logger *log.Logger) (*Speaker, error) {
	if logger == nil {
		logger = log.Default()
	}
	sr := beep.SampleRate(rate)
	if err := speaker.Init(sr, sr.N(time.Second/10)); err != nil {
		return nil, err
	}
	return &Speaker{rate: sr, logger: logger.With("component", "playback")}, nil
}

func (s *Speaker) Play(c *Clip) error {
	if c == nil || len(c.Samples) == 0 {
		return errors.New("empty clip")
	}

	var src beep.Streamer = &streamer{samples: c.Samples}
	if c.Rate != s.rate {
		src = beep.Resample(4, c.Rate, s.rate, src)
	}

	s.playMu.Lock()
	defer s.playMu.Unlock()

	speaker.Clear()

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.playing = true
	s.mu.Unlock()

	speaker.Play(beep.Seq(src, beep.Callback(func() {
		s.mu.Lock()
		if s.gen == gen {
			s.playing = false
		}
		s.mu.Unlock()
	})))

	s.logger.Debug("Playing", "dur", c.Duration())
	return nil
}

func (s *Speaker) Stop() {
	s.playMu.Lock()
	defer s.playMu.Unlock()

	speaker.Clear()

	s.mu.Lock()
	s.gen++
	s.playing = false
	s.mu.Unlock()
}

func (s *Speaker) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

func (s *Speaker) Close() {
	s.Stop()
	speaker.Close()
}
