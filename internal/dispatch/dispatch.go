// Package dispatch applies resolved actions to the dashboard. Actions that
// mutate the form wait for an explicit confirm or cancel.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"strings"
	"sync"

	"sakhivox/internal/backend"
	"sakhivox/internal/conversation"
	"sakhivox/internal/form"
	"sakhivox/internal/nlu"
	"sakhivox/internal/telemetry"
)

var ErrNoPending = errors.New("no action awaiting confirmation")

const (
	maxLogs = 5

	msgCanceled = "Action canceled"
	msgNoLogs   = "No logs found."
)

type State int

const (
	Idle State = iota
	AwaitingConfirmation
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingConfirmation:
		return "awaiting_confirmation"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Pending struct {
	Action   nlu.SetField
	Reply    string
	Language string
}

type Transcript interface {
	System(text string) conversation.Turn
}

type Speaker interface {
	Speak(ctx context.Context, text, language string) error
}

type Metrics interface {
	Snapshot() form.Metrics
	Set(f form.Field, v float64) error
}

// Navigator switches the visible view. It reports false for unknown targets.
type Navigator interface {
	Navigate(target string) bool
}

type LogSource interface {
	RecentLogs(ctx context.Context, limit int) ([]backend.LogEntry, error)
}

type Scorer interface {
	Predict(ctx context.Context, m form.Metrics) (backend.Prediction, error)
}

type Options struct {
	Transcript Transcript
	Speaker    Speaker
	Metrics    Metrics
	Navigator  Navigator
	Logs       LogSource
	Scorer     Scorer
	Telemetry  *telemetry.Metrics
	Logger     *log.Logger

	// OnPrediction fires after a successful score request.
	OnPrediction func(backend.Prediction)
	// OnStateChange fires after every transition, outside the lock.
	OnStateChange func(State, *Pending)
}

type Dispatcher struct {
	opt    Options
	logger *log.Logger

	mu         sync.Mutex
	state      State
	pending    *Pending
	prediction *backend.Prediction
	seq        uint64 // bumped on every transition, under mu

	// serializes OnStateChange; transitions older than notified are dropped
	notifyMu sync.Mutex
	notified uint64
}

func New(opt Options) *Dispatcher {
	if opt.Logger == nil {
		opt.Logger = log.Default()
	}
	return &Dispatcher{opt: opt, logger: opt.Logger.With("component", "dispatch")}
}

func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Pending returns a copy of the action awaiting confirmation, if any.
func (d *Dispatcher) Pending() (Pending, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending == nil {
		return Pending{}, false
	}
	return *d.pending, true
}

func (d *Dispatcher) LastPrediction() (backend.Prediction, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.prediction == nil {
		return backend.Prediction{}, false
	}
	return *d.prediction, true
}

// Dispatch applies one resolved turn. It never fails: anything that goes
// wrong inside a transition falls back to just saying the reply.
func (d *Dispatcher) Dispatch(ctx context.Context, res nlu.Result, language string) {
	kind := nlu.KindNone
	if res.Action != nil {
		kind = res.Action.Kind()
	}
	d.logger.Info("Dispatch", "kind", kind, "reply", res.Reply, "lang", language)

	switch a := res.Action.(type) {
	case nlu.SetField:
		if err := form.Validate(a.Field, a.Value); err != nil {
			d.degrade(ctx, res.Reply, language, kind, err)
			return
		}
		d.propose(ctx, a, res.Reply, language)

	case nlu.Navigate:
		if d.opt.Navigator == nil || !d.opt.Navigator.Navigate(a.Target) {
			d.logger.Warn("Unknown navigation target", "target", a.Target)
			d.opt.Telemetry.Action(string(kind), "unresolved")
		} else {
			d.opt.Telemetry.Action(string(kind), "ok")
		}
		d.say(ctx, res.Reply, language)

	case nlu.ShowLogs:
		d.showLogs(ctx, res.Reply, language)

	case nlu.Predict:
		d.say(ctx, res.Reply, language)
		d.predict(ctx)

	case nlu.None, nil:
		d.opt.Telemetry.Action(string(nlu.KindNone), "ok")
		d.say(ctx, res.Reply, language)

	case nlu.MalformedAction:
		d.degrade(ctx, res.Reply, language, kind, a.Err)

	default:
		d.degrade(ctx, res.Reply, language, kind, fmt.Errorf("unhandled action %T", a))
	}
}

func (d *Dispatcher) propose(ctx context.Context, a nlu.SetField, reply, language string) {
	p := &Pending{Action: a, Reply: reply, Language: language}

	d.mu.Lock()
	replaced := d.pending != nil
	d.state = AwaitingConfirmation
	d.pending = p
	d.seq++
	seq := d.seq
	d.mu.Unlock()

	if replaced {
		d.logger.Info("Pending action replaced", "field", a.Field, "value", a.Value)
	}
	d.opt.Telemetry.Action(string(nlu.KindSetField), "proposed")
	d.notify(seq, AwaitingConfirmation, p)

	d.say(ctx, fmt.Sprintf("Detected intent: %s — please confirm.", reply), language)
}

// Confirm applies the pending field change.
func (d *Dispatcher) Confirm(ctx context.Context) error {
	p, err := d.take()
	if err != nil {
		return err
	}

	if err := d.opt.Metrics.Set(p.Action.Field, p.Action.Value); err != nil {
		d.logger.Error("Apply failed", "err", err, "field", p.Action.Field, "value", p.Action.Value)
		d.opt.Telemetry.Action(string(nlu.KindSetField), "failed")
		return fmt.Errorf("apply %s: %w", p.Action.Field, err)
	}

	d.logger.Info("Applied", "field", p.Action.Field, "value", p.Action.Value)
	d.opt.Telemetry.Action(string(nlu.KindSetField), "confirmed")
	d.say(ctx, "Action applied: "+p.Reply, p.Language)
	return nil
}

// Cancel drops the pending change without touching the form.
func (d *Dispatcher) Cancel(ctx context.Context) error {
	p, err := d.take()
	if err != nil {
		return err
	}

	d.logger.Info("Canceled", "field", p.Action.Field)
	d.opt.Telemetry.Action(string(nlu.KindSetField), "canceled")
	d.say(ctx, msgCanceled, p.Language)
	return nil
}

// take leaves AwaitingConfirmation and hands back what was pending.
func (d *Dispatcher) take() (*Pending, error) {
	d.mu.Lock()
	if d.state != AwaitingConfirmation || d.pending == nil {
		d.mu.Unlock()
		return nil, ErrNoPending
	}
	p := d.pending
	d.state = Idle
	d.pending = nil
	d.seq++
	seq := d.seq
	d.mu.Unlock()

	d.notify(seq, Idle, nil)
	return p, nil
}

func (d *Dispatcher) showLogs(ctx context.Context, reply, language string) {
	if d.opt.Logs == nil {
		d.degrade(ctx, reply, language, nlu.KindShowLogs, errors.New("no log source"))
		return
	}

	logs, err := d.opt.Logs.RecentLogs(ctx, maxLogs)
	if err != nil {
		d.degrade(ctx, reply, language, nlu.KindShowLogs, err)
		return
	}
	d.opt.Telemetry.Action(string(nlu.KindShowLogs), "ok")
	d.say(ctx, FormatLogs(logs), language)
}

// FormatLogs renders at most five entries as "Score {n} • {risk}" lines.
func FormatLogs(logs []backend.LogEntry) string {
	if len(logs) == 0 {
		return msgNoLogs
	}
	if len(logs) > maxLogs {
		logs = logs[:maxLogs]
	}
	lines := make([]string, len(logs))
	for i, e := range logs {
		lines[i] = fmt.Sprintf("Score %d • %s", e.Score, e.Risk)
	}
	return strings.Join(lines, "\n")
}

func (d *Dispatcher) predict(ctx context.Context) {
	if d.opt.Scorer == nil || d.opt.Metrics == nil {
		return
	}

	p, err := d.opt.Scorer.Predict(ctx, d.opt.Metrics.Snapshot())
	if err != nil {
		d.logger.Warn("Prediction failed", "err", err)
		d.opt.Telemetry.Action(string(nlu.KindPredict), "failed")
		return
	}

	d.mu.Lock()
	d.prediction = &p
	d.mu.Unlock()

	d.opt.Telemetry.Action(string(nlu.KindPredict), "ok")
	if d.opt.OnPrediction != nil {
		d.opt.OnPrediction(p)
	}
}

func (d *Dispatcher) degrade(ctx context.Context, reply, language string, kind nlu.Kind, err error) {
	d.logger.Warn("Action degraded to none", "kind", kind, "err", err)
	d.opt.Telemetry.Action(string(kind), "degraded")
	d.say(ctx, reply, language)
}

// say appends a system turn and speaks it. Empty text is skipped.
func (d *Dispatcher) say(ctx context.Context, text, language string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if d.opt.Transcript != nil {
		d.opt.Transcript.System(text)
	}
	if d.opt.Speaker != nil {
		_ = d.opt.Speaker.Speak(ctx, text, language)
	}
}

// notify reports transition seq. A transition that lost the race to a newer
// one is dropped, so observers always end on the current state.
func (d *Dispatcher) notify(seq uint64, s State, p *Pending) {
	d.notifyMu.Lock()
	defer d.notifyMu.Unlock()
	if seq <= d.notified {
		return
	}
	d.notified = seq

	d.opt.Telemetry.Pending(s == AwaitingConfirmation)
	if d.opt.OnStateChange != nil {
		d.opt.OnStateChange(s, p)
	}
}
