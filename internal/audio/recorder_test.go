package audio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	frame  []int16
	delay  time.Duration
	failAt int

	mu     sync.Mutex
	reads  int
	closes atomic.Int32
}

func (s *fakeStream) Read() ([]int16, error) {
	time.Sleep(s.delay)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.failAt > 0 && s.reads >= s.failAt {
		return nil, errors.New("device unplugged")
	}
	return append([]int16(nil), s.frame...), nil
}

func (s *fakeStream) Close() error {
	s.closes.Add(1)
	return nil
}

type fakeDevice struct {
	stream *fakeStream
	err    error
	opens  int
}

func (d *fakeDevice) Open(int, int) (Stream, error) {
	d.opens++
	if d.err != nil {
		return nil, d.err
	}
	return d.stream, nil
}

func newTestRecorder(d Device, opt Options) *Recorder {
	opt.Device = d
	if opt.FrameSize == 0 {
		opt.FrameSize = 160
	}
	return NewRecorder(opt)
}

func TestStartStop(t *testing.T) {
	st := &fakeStream{frame: make([]int16, 160), delay: time.Millisecond}
	r := newTestRecorder(&fakeDevice{stream: st}, Options{})

	require.NoError(t, r.Start(context.Background()))
	assert.Equal(t, StateRecording, r.State())
	time.Sleep(20 * time.Millisecond)

	u, ok, err := r.Stop()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "audio/wav", u.MimeType)
	assert.Equal(t, 16000, u.SampleRate)
	assert.False(t, u.Empty())
	assert.Equal(t, "RIFF", string(u.Audio[:4]))
	assert.Positive(t, u.Duration)

	assert.Equal(t, StateIdle, r.State())
	assert.Equal(t, int32(1), st.closes.Load())
}

func TestStopWhenIdle(t *testing.T) {
	r := newTestRecorder(&fakeDevice{}, Options{})
	u, ok, err := r.Stop()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, u.Empty())
}

func TestStartTwice(t *testing.T) {
	st := &fakeStream{frame: make([]int16, 160), delay: time.Millisecond}
	d := &fakeDevice{stream: st}
	r := newTestRecorder(d, Options{})

	require.NoError(t, r.Start(context.Background()))
	assert.ErrorIs(t, r.Start(context.Background()), ErrAlreadyRecording)
	assert.Equal(t, 1, d.opens)

	_, _, err := r.Stop()
	require.NoError(t, err)
	assert.Equal(t, int32(1), st.closes.Load())
}

func TestPermissionDenied(t *testing.T) {
	r := newTestRecorder(&fakeDevice{err: errors.New("no input device")}, Options{})

	err := r.Start(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, StateIdle, r.State())

	_, ok, _ := r.Stop()
	assert.False(t, ok)
}

func TestReadErrorReleasesAndReturnsIdle(t *testing.T) {
	st := &fakeStream{frame: make([]int16, 160), failAt: 3}
	r := newTestRecorder(&fakeDevice{stream: st}, Options{})

	require.NoError(t, r.Start(context.Background()))
	require.Eventually(t, func() bool { return r.State() == StateIdle }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), st.closes.Load())

	_, ok, _ := r.Stop()
	assert.False(t, ok)
}

func TestContextCancelReleases(t *testing.T) {
	st := &fakeStream{frame: make([]int16, 160), delay: time.Millisecond}
	r := newTestRecorder(&fakeDevice{stream: st}, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Start(ctx))
	cancel()

	require.Eventually(t, func() bool { return r.State() == StateIdle }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), st.closes.Load())
}

func TestMaxDurationKeepsAudio(t *testing.T) {
	st := &fakeStream{frame: make([]int16, 160), delay: time.Millisecond}
	auto := make(chan struct{})
	r := newTestRecorder(&fakeDevice{stream: st}, Options{
		MaxDuration: 10 * time.Millisecond,
		OnAutoStop:  func() { close(auto) },
	})

	require.NoError(t, r.Start(context.Background()))
	select {
	case <-auto:
	case <-time.After(time.Second):
		t.Fatal("auto stop did not fire")
	}
	assert.Equal(t, int32(1), st.closes.Load())
	assert.Equal(t, StateRecording, r.State())

	u, ok, err := r.Stop()
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, u.Empty())
	assert.Equal(t, int32(1), st.closes.Load())
}

func TestSilenceAutoStop(t *testing.T) {
	loud := make([]int16, 160)
	for i := range loud {
		loud[i] = 8000
	}
	st := &fakeStream{frame: loud}
	auto := make(chan struct{})
	r := newTestRecorder(&fakeDevice{stream: st}, Options{
		SilenceDuration: 20 * time.Millisecond,
		OnAutoStop:      func() { close(auto) },
	})

	require.NoError(t, r.Start(context.Background()))
	time.Sleep(5 * time.Millisecond)
	st.mu.Lock()
	st.frame = make([]int16, 160)
	st.mu.Unlock()

	select {
	case <-auto:
	case <-time.After(time.Second):
		t.Fatal("silence did not stop capture")
	}
	_, ok, err := r.Stop()
	require.NoError(t, err)
	assert.True(t, ok)
}

type fakeEncoder struct{ mime string }

func (e fakeEncoder) MimeType() string                    { return e.mime }
func (e fakeEncoder) Encode([]int16, int) ([]byte, error) { return []byte("x"), nil }

func TestNegotiate(t *testing.T) {
	webm := fakeEncoder{"audio/webm"}
	ogg := fakeEncoder{"audio/ogg"}

	assert.Equal(t, webm, Negotiate([]Encoder{webm, ogg}, []string{"audio/ogg", "audio/webm;codecs=opus"}))
	assert.Equal(t, ogg, Negotiate([]Encoder{ogg, WAV{}}, []string{"audio/wav", "audio/ogg"}))
	assert.Equal(t, WAV{}, Negotiate([]Encoder{webm}, []string{"audio/flac"}))
	assert.Equal(t, WAV{}, Negotiate(nil, nil))
	assert.True(t, sameType("audio/x-wav", "audio/wav"))
}

func TestSetEncoder(t *testing.T) {
	st := &fakeStream{frame: make([]int16, 160), delay: time.Millisecond}
	r := newTestRecorder(&fakeDevice{stream: st}, Options{})
	r.SetEncoder(fakeEncoder{"audio/ogg"})

	require.NoError(t, r.Start(context.Background()))
	require.Eventually(t, func() bool {
		st.mu.Lock()
		defer st.mu.Unlock()
		return st.reads > 1
	}, time.Second, time.Millisecond)
	u, _, err := r.Stop()
	require.NoError(t, err)
	assert.Equal(t, "audio/ogg", u.MimeType)
	assert.Equal(t, []byte("x"), u.Audio)
}
