// Package audio captures one utterance at a time from the microphone.
package audio

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"math"
	"sync"
	"time"
)

var (
	ErrPermissionDenied = errors.New("microphone unavailable or permission denied")
	ErrAlreadyRecording = errors.New("already recording")
)

type State int

const (
	StateIdle State = iota
	StateRecording
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateFinalizing:
		return "finalizing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Utterance struct {
	Audio      []byte
	MimeType   string
	SampleRate int
	Duration   time.Duration
}

func (u Utterance) Empty() bool { return len(u.Audio) == 0 }

type Options struct {
	Device      Device
	Encoder     Encoder       // nil => WAV
	SampleRate  int           // 0 => 16000
	FrameSize   int           // samples per read, 0 => 1024
	MaxDuration time.Duration // 0 => 15s
	// SilenceDuration > 0 ends capture after that much quiet following speech.
	SilenceDuration  time.Duration
	SilenceThreshold float64 // RMS in [0, 1], 0 => 0.015
	// OnAutoStop fires when capture ended on its own (max duration or
	// silence). The audio is kept until Stop.
	OnAutoStop func()
	Logger     *log.Logger
}

type Recorder struct {
	opt    Options
	logger *log.Logger

	mu    sync.Mutex
	state State
	sess  *session
}

type session struct {
	stream  Stream
	chunks  [][]int16
	stop    chan struct{}
	done    chan struct{}
	stopped sync.Once
	release sync.Once
}

func (s *session) halt() { s.stopped.Do(func() { close(s.stop) }) }

func NewRecorder(opt Options) *Recorder {
	if opt.Encoder == nil {
		opt.Encoder = WAV{}
	}
	if opt.SampleRate <= 0 {
		opt.SampleRate = 16000
	}
	if opt.FrameSize <= 0 {
		opt.FrameSize = 1024
	}
	if opt.MaxDuration <= 0 {
		opt.MaxDuration = 15 * time.Second
	}
	if opt.SilenceThreshold <= 0 {
		opt.SilenceThreshold = 0.015
	}
	if opt.Logger == nil {
		opt.Logger = log.Default()
	}
	return &Recorder{opt: opt, logger: opt.Logger.With("component", "audio")}
}

// SetEncoder swaps the encoder used for the next Stop, e.g. after
// negotiating with the transcriber.
func (r *Recorder) SetEncoder(e Encoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opt.Encoder = e
}

func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start opens the input device and begins buffering frames. Capture ends on
// Stop, a read error, MaxDuration, silence, or ctx cancellation.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateIdle {
		return ErrAlreadyRecording
	}

	stream, err := r.opt.Device.Open(r.opt.SampleRate, r.opt.FrameSize)
	if err != nil {
		if !errors.Is(err, ErrPermissionDenied) {
			err = fmt.Errorf("%w: %w", ErrPermissionDenied, err)
		}
		return err
	}

	s := &session{
		stream: stream,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	r.sess = s
	r.state = StateRecording
	go r.run(ctx, s)

	r.logger.Info("Recording started")
	return nil
}

type endReason int

const (
	endStopped endReason = iota
	endAuto
	endFailed
)

func (r *Recorder) run(ctx context.Context, s *session) {
	reason := r.capture(ctx, s)
	close(s.done)

	switch reason {
	case endAuto:
		if r.opt.OnAutoStop != nil {
			r.opt.OnAutoStop()
		}
	case endFailed:
		r.mu.Lock()
		if r.sess == s && r.state == StateRecording {
			r.sess = nil
			r.state = StateIdle
		}
		r.mu.Unlock()
	}
}

// capture owns the stream and always releases it before returning.
func (r *Recorder) capture(ctx context.Context, s *session) endReason {
	defer r.release(s)

	var (
		deadline      = time.Now().Add(r.opt.MaxDuration)
		frameDur      = time.Duration(r.opt.FrameSize) * time.Second / time.Duration(r.opt.SampleRate)
		speaking      bool
		silenceFrames int
	)

	for {
		select {
		case <-s.stop:
			return endStopped
		case <-ctx.Done():
			r.logger.Warn("Recording aborted", "err", ctx.Err())
			return endFailed
		default:
		}

		frame, err := s.stream.Read()
		if err != nil {
			r.logger.Error("Read failed", "err", err)
			return endFailed
		}
		s.chunks = append(s.chunks, frame)

		if !time.Now().Before(deadline) {
			r.logger.Info("Max duration reached", "max", r.opt.MaxDuration)
			return endAuto
		}

		if r.opt.SilenceDuration > 0 {
			if frameRMS(frame) > r.opt.SilenceThreshold {
				speaking = true
				silenceFrames = 0
			} else if speaking {
				silenceFrames++
				if time.Duration(silenceFrames)*frameDur >= r.opt.SilenceDuration {
					r.logger.Info("Silence detected")
					return endAuto
				}
			}
		}
	}
}

func (r *Recorder) release(s *session) {
	s.release.Do(func() {
		if err := s.stream.Close(); err != nil {
			r.logger.Warn("Close stream", "err", err)
		}
	})
}

// Stop finalizes the active session into one Utterance. It reports ok=false
// when nothing was recording.
func (r *Recorder) Stop() (Utterance, bool, error) {
	r.mu.Lock()
	if r.state != StateRecording || r.sess == nil {
		r.mu.Unlock()
		return Utterance{}, false, nil
	}
	s := r.sess
	enc := r.opt.Encoder
	r.state = StateFinalizing
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		if r.sess == s {
			r.sess = nil
		}
		r.state = StateIdle
		r.mu.Unlock()
	}()

	s.halt()
	<-s.done

	n := 0
	for _, c := range s.chunks {
		n += len(c)
	}
	samples := make([]int16, 0, n)
	for _, c := range s.chunks {
		samples = append(samples, c...)
	}

	u := Utterance{
		MimeType:   enc.MimeType(),
		SampleRate: r.opt.SampleRate,
		Duration:   time.Duration(len(samples)) * time.Second / time.Duration(r.opt.SampleRate),
	}
	if len(samples) == 0 {
		r.logger.Info("Recording stopped", "dur", 0)
		return u, true, nil
	}

	data, err := enc.Encode(samples, r.opt.SampleRate)
	if err != nil {
		return Utterance{}, true, fmt.Errorf("encode %s: %w", enc.MimeType(), err)
	}
	u.Audio = data

	r.logger.Info("Recording stopped", "dur", u.Duration, "bytes", len(data))
	return u, true, nil
}

func frameRMS(f []int16) float64 {
	if len(f) == 0 {
		return 0
	}
	var s float64
	for _, x := range f {
		v := float64(x) / 32768
		s += v * v
	}
	return math.Sqrt(s / float64(len(f)))
}
