// Package vox runs the voice turn: capture, transcribe, resolve, dispatch,
// speak.
package vox

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"strings"
	"sync"
	"time"

	"sakhivox/internal/audio"
	"sakhivox/internal/conversation"
	"sakhivox/internal/dispatch"
	"sakhivox/internal/form"
	"sakhivox/internal/nlu"
	"sakhivox/internal/telemetry"
	"sakhivox/pkg/stt"
)

type Outcome string

const (
	OutcomeEmpty               Outcome = "empty"
	OutcomeTranscriptionFailed Outcome = "transcription_failed"
	OutcomeResolutionFailed    Outcome = "resolution_failed"
	OutcomeDispatched          Outcome = "dispatched"
)

var ErrUnknownCommand = errors.New("unknown command")

type Recorder interface {
	Start(ctx context.Context) error
	Stop() (audio.Utterance, bool, error)
	State() audio.State
}

type Dispatcher interface {
	Dispatch(ctx context.Context, res nlu.Result, language string)
	Confirm(ctx context.Context) error
	Cancel(ctx context.Context) error
	State() dispatch.State
	Pending() (dispatch.Pending, bool)
}

type Snapshotter interface {
	Snapshot() form.Metrics
}

type Options struct {
	Recorder    Recorder
	Transcriber stt.Transcriber
	Resolver    nlu.Resolver
	Dispatcher  Dispatcher
	Transcript  *conversation.Log
	Metrics     Snapshotter

	Language        string // STT hint, "auto" to detect
	DefaultLanguage string // used when nothing else is known

	// Cue runs right before capture starts (the "listening" beep).
	Cue       func()
	Telemetry *telemetry.Metrics
	Logger    *log.Logger
}

type Assistant struct {
	opt    Options
	logger *log.Logger
	turns  sync.WaitGroup
}

func NewAssistant(opt Options) *Assistant {
	if opt.Language == "" {
		opt.Language = stt.LanguageAuto
	}
	if opt.DefaultLanguage == "" {
		opt.DefaultLanguage = "en"
	}
	if opt.Logger == nil {
		opt.Logger = log.Default()
	}
	return &Assistant{opt: opt, logger: opt.Logger.With("component", "assistant")}
}

func (a *Assistant) StartListening(ctx context.Context) error {
	if a.opt.Recorder.State() != audio.StateIdle {
		return audio.ErrAlreadyRecording
	}
	if a.opt.Cue != nil {
		a.opt.Cue()
	}
	if err := a.opt.Recorder.Start(ctx); err != nil {
		a.logger.Error("Failed to start recording", "err", err)
		return err
	}
	a.logger.Info("Starting listening")
	return nil
}

// StopListening finalizes the recording and runs its turn in the background,
// so a new recording may start while the previous turn is still in flight.
func (a *Assistant) StopListening(ctx context.Context) error {
	u, ok, err := a.opt.Recorder.Stop()
	if err != nil {
		a.logger.Error("Failed to finalize recording", "err", err)
		return err
	}
	if !ok {
		return nil
	}

	turnCtx := context.WithoutCancel(ctx)
	a.turns.Add(1)
	go func() {
		defer a.turns.Done()
		a.HandleUtterance(turnCtx, u)
	}()
	return nil
}

func (a *Assistant) Toggle(ctx context.Context) error {
	if a.opt.Recorder.State() == audio.StateIdle {
		return a.StartListening(ctx)
	}
	return a.StopListening(ctx)
}

// HandleUtterance runs one turn synchronously. Every failure ends the turn
// quietly; the outcome says how far it got.
func (a *Assistant) HandleUtterance(ctx context.Context, u audio.Utterance) Outcome {
	outcome := a.handle(ctx, u)
	a.opt.Telemetry.Turn(string(outcome))
	return outcome
}

func (a *Assistant) handle(ctx context.Context, u audio.Utterance) Outcome {
	if u.Empty() {
		a.logger.Info("Nothing recorded")
		return OutcomeEmpty
	}

	start := time.Now()
	tr, err := a.opt.Transcriber.Transcribe(ctx, stt.Request{
		Audio:    u.Audio,
		MimeType: u.MimeType,
		Language: a.opt.Language,
	})
	a.opt.Telemetry.Stage("transcribe", start)
	if err != nil {
		a.logger.Warn("Failed to transcribe", "err", err)
		return OutcomeTranscriptionFailed
	}

	text := strings.TrimSpace(tr.Text)
	if text == "" {
		a.logger.Info("Empty transcript")
		return OutcomeEmpty
	}
	lang := a.language(tr.Language)
	a.logger.Info("Transcribed", "text", text, "lang", lang)

	a.opt.Transcript.User(text)

	var snap form.Metrics
	if a.opt.Metrics != nil {
		snap = a.opt.Metrics.Snapshot()
	}

	start = time.Now()
	res, err := a.opt.Resolver.Resolve(ctx, nlu.Request{Text: text, Language: lang, Metrics: snap})
	a.opt.Telemetry.Stage("resolve", start)
	if err != nil {
		a.logger.Warn("Failed to resolve intent", "err", err)
		return OutcomeResolutionFailed
	}

	a.opt.Dispatcher.Dispatch(ctx, res, lang)
	return OutcomeDispatched
}

// language picks the detected language, then the configured hint unless it is
// "auto", then the default.
func (a *Assistant) language(detected string) string {
	if d := strings.TrimSpace(detected); d != "" {
		return d
	}
	if h := strings.TrimSpace(a.opt.Language); h != "" && !strings.EqualFold(h, stt.LanguageAuto) {
		return h
	}
	return a.opt.DefaultLanguage
}

func (a *Assistant) Confirm(ctx context.Context) error { return a.opt.Dispatcher.Confirm(ctx) }
func (a *Assistant) Cancel(ctx context.Context) error  { return a.opt.Dispatcher.Cancel(ctx) }

// Wait blocks until every background turn has finished.
func (a *Assistant) Wait() { a.turns.Wait() }

type Status struct {
	Recording string `json:"recording"`
	Dispatch  string `json:"dispatch"`
	Pending   string `json:"pending,omitempty"`
	Turns     int    `json:"turns"`
}

func (a *Assistant) Status() Status {
	s := Status{
		Recording: a.opt.Recorder.State().String(),
		Dispatch:  a.opt.Dispatcher.State().String(),
		Turns:     a.opt.Transcript.Len(),
	}
	if p, ok := a.opt.Dispatcher.Pending(); ok {
		s.Pending = nlu.Describe(p.Action)
	}
	return s
}

// Command runs one control verb from the socket or the dashboard.
func (a *Assistant) Command(ctx context.Context, cmd string) (Status, error) {
	var err error
	switch strings.ToLower(strings.TrimSpace(cmd)) {
	case "start":
		err = a.StartListening(ctx)
	case "stop":
		err = a.StopListening(ctx)
	case "toggle", "trigger":
		err = a.Toggle(ctx)
	case "confirm":
		err = a.Confirm(ctx)
	case "cancel":
		err = a.Cancel(ctx)
	case "status":
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}
	return a.Status(), err
}
