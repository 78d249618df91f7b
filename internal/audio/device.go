package audio

import (
	"errors"
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// Stream delivers fixed-size mono frames until closed.
type Stream interface {
	Read() ([]int16, error)
	Close() error
}

type Device interface {
	Open(sampleRate, frameSize int) (Stream, error)
}

// PortAudio is the default input device. Init must be called once before use
// and Terminate on shutdown.
type PortAudio struct{}

func (PortAudio) Init() error { return portaudio.Initialize() }

func (PortAudio) Terminate() { portaudio.Terminate() }

func (PortAudio) Open(sampleRate, frameSize int) (Stream, error) {
	if _, err := portaudio.DefaultInputDevice(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}

	buf := make([]int16, frameSize)
	s, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), len(buf), buf)
	if err != nil {
		return nil, openError(err)
	}
	if err := s.Start(); err != nil {
		s.Close()
		return nil, openError(err)
	}
	return &paStream{s: s, buf: buf}, nil
}

func openError(err error) error {
	if errors.Is(err, portaudio.InvalidDevice) || errors.Is(err, portaudio.DeviceUnavailable) {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return err
}

type paStream struct {
	s   *portaudio.Stream
	buf []int16
}

func (p *paStream) Read() ([]int16, error) {
	if err := p.s.Read(); err != nil {
		// overflow only means we lost a few frames; keep going
		if errors.Is(err, portaudio.InputOverflowed) {
			return append([]int16(nil), p.buf...), nil
		}
		return nil, err
	}
	return append([]int16(nil), p.buf...), nil
}

func (p *paStream) Close() error {
	err := p.s.Stop()
	if cerr := p.s.Close(); err == nil {
		err = cerr
	}
	return err
}
