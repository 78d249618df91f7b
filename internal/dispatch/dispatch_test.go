package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sakhivox/internal/backend"
	"sakhivox/internal/conversation"
	"sakhivox/internal/form"
	"sakhivox/internal/nlu"
)

type spoken struct{ text, lang string }

type fakeSpeaker struct {
	mu  sync.Mutex
	got []spoken
}

func (s *fakeSpeaker) Speak(_ context.Context, text, lang string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, spoken{text, lang})
	return nil
}

type fakeNav struct {
	targets map[string]bool
	active  string
}

func (n *fakeNav) Navigate(t string) bool {
	if !n.targets[t] {
		return false
	}
	n.active = t
	return true
}

type fakeLogs struct {
	logs []backend.LogEntry
	err  error
}

func (f fakeLogs) RecentLogs(_ context.Context, limit int) ([]backend.LogEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.logs) > limit {
		return f.logs[:limit], nil
	}
	return f.logs, nil
}

type fakeScorer struct {
	got form.Metrics
	err error
}

func (f *fakeScorer) Predict(_ context.Context, m form.Metrics) (backend.Prediction, error) {
	f.got = m
	if f.err != nil {
		return backend.Prediction{}, f.err
	}
	return backend.Prediction{Score: 742, Risk: "Low Risk ✅"}, nil
}

type fixture struct {
	d       *Dispatcher
	log     *conversation.Log
	speaker *fakeSpeaker
	store   *form.Store
	nav     *fakeNav
	scorer  *fakeScorer
}

func newFixture(logs fakeLogs) *fixture {
	f := &fixture{
		log:     conversation.NewLog(0),
		speaker: &fakeSpeaker{},
		store:   form.NewStore(form.Metrics{Savings: 1000, Attendance: 80, Repayment: 70}),
		nav:     &fakeNav{targets: map[string]bool{"history": true}},
		scorer:  &fakeScorer{},
	}
	f.d = New(Options{
		Transcript: f.log,
		Speaker:    f.speaker,
		Metrics:    f.store,
		Navigator:  f.nav,
		Logs:       logs,
		Scorer:     f.scorer,
	})
	return f
}

func (f *fixture) texts() []string {
	var out []string
	for _, t := range f.log.Turns() {
		out = append(out, t.Text)
	}
	return out
}

var setSavings = nlu.Result{
	Reply:  "Setting savings to 3000",
	Action: nlu.SetField{Field: form.Savings, Value: 3000},
}

func TestSetFieldConfirm(t *testing.T) {
	f := newFixture(fakeLogs{})
	ctx := context.Background()

	f.d.Dispatch(ctx, setSavings, "en")

	assert.Equal(t, AwaitingConfirmation, f.d.State())
	assert.Equal(t, 1000.0, f.store.Snapshot().Savings)
	p, ok := f.d.Pending()
	require.True(t, ok)
	assert.Equal(t, nlu.SetField{Field: form.Savings, Value: 3000}, p.Action)
	assert.Equal(t, []string{"Detected intent: Setting savings to 3000 — please confirm."}, f.texts())

	require.NoError(t, f.d.Confirm(ctx))

	assert.Equal(t, Idle, f.d.State())
	assert.Equal(t, 3000.0, f.store.Snapshot().Savings)
	_, ok = f.d.Pending()
	assert.False(t, ok)
	assert.Equal(t, "Action applied: Setting savings to 3000", f.texts()[1])
	require.Len(t, f.speaker.got, 2)
	assert.Equal(t, "en", f.speaker.got[1].lang)
}

func TestSetFieldCancel(t *testing.T) {
	f := newFixture(fakeLogs{})
	ctx := context.Background()

	f.d.Dispatch(ctx, setSavings, "hi")
	require.NoError(t, f.d.Cancel(ctx))

	assert.Equal(t, Idle, f.d.State())
	assert.Equal(t, 1000.0, f.store.Snapshot().Savings)
	assert.Equal(t, "Action canceled", f.texts()[1])
	assert.Equal(t, spoken{"Action canceled", "hi"}, f.speaker.got[1])
}

func TestConfirmCancelWhileIdle(t *testing.T) {
	f := newFixture(fakeLogs{})
	ctx := context.Background()

	assert.ErrorIs(t, f.d.Confirm(ctx), ErrNoPending)
	assert.ErrorIs(t, f.d.Cancel(ctx), ErrNoPending)
	assert.Zero(t, f.log.Len())
	assert.Empty(t, f.speaker.got)
}

func TestSecondSetFieldReplacesPending(t *testing.T) {
	f := newFixture(fakeLogs{})
	ctx := context.Background()

	f.d.Dispatch(ctx, setSavings, "en")
	f.d.Dispatch(ctx, nlu.Result{Reply: "Attendance 90", Action: nlu.SetField{Field: form.Attendance, Value: 90}}, "en")

	p, ok := f.d.Pending()
	require.True(t, ok)
	assert.Equal(t, form.Attendance, p.Action.Field)

	require.NoError(t, f.d.Confirm(ctx))
	m := f.store.Snapshot()
	assert.Equal(t, 1000.0, m.Savings)
	assert.Equal(t, 90.0, m.Attendance)
}

func TestOtherActionKeepsPending(t *testing.T) {
	f := newFixture(fakeLogs{})
	ctx := context.Background()

	f.d.Dispatch(ctx, setSavings, "en")
	f.d.Dispatch(ctx, nlu.Result{Reply: "Hello", Action: nlu.None{}}, "en")

	assert.Equal(t, AwaitingConfirmation, f.d.State())
}

func TestOutOfRangeDegrades(t *testing.T) {
	f := newFixture(fakeLogs{})

	f.d.Dispatch(context.Background(), nlu.Result{
		Reply:  "Setting savings",
		Action: nlu.SetField{Field: form.Savings, Value: 99999},
	}, "en")

	assert.Equal(t, Idle, f.d.State())
	assert.Equal(t, []string{"Setting savings"}, f.texts())
}

func TestMalformedDegrades(t *testing.T) {
	f := newFixture(fakeLogs{})

	f.d.Dispatch(context.Background(), nlu.Result{
		Reply:  "I could not do that",
		Action: nlu.MalformedAction{Err: nlu.ErrMalformedAction},
	}, "en")

	assert.Equal(t, Idle, f.d.State())
	assert.Equal(t, []string{"I could not do that"}, f.texts())
}

func TestNavigate(t *testing.T) {
	f := newFixture(fakeLogs{})
	ctx := context.Background()

	f.d.Dispatch(ctx, nlu.Result{Reply: "Opening history", Action: nlu.Navigate{Target: "history"}}, "en")
	assert.Equal(t, "history", f.nav.active)

	f.d.Dispatch(ctx, nlu.Result{Reply: "Opening moon", Action: nlu.Navigate{Target: "moon"}}, "en")
	assert.Equal(t, "history", f.nav.active)

	assert.Equal(t, []string{"Opening history", "Opening moon"}, f.texts())
	assert.Equal(t, Idle, f.d.State())
}

func TestShowLogs(t *testing.T) {
	logs := fakeLogs{logs: []backend.LogEntry{
		{Score: 720, Risk: "Low Risk ✅"},
		{Score: 410, Risk: "High Risk ⚠️"},
		{Score: 600, Risk: "Low Risk ✅"},
		{Score: 500, Risk: "Low Risk ✅"},
		{Score: 300, Risk: "High Risk ⚠️"},
		{Score: 100, Risk: "High Risk ⚠️"},
	}}
	f := newFixture(logs)

	f.d.Dispatch(context.Background(), nlu.Result{Reply: "Here are your logs", Action: nlu.ShowLogs{}}, "en")

	require.Equal(t, 1, f.log.Len())
	assert.Equal(t,
		"Score 720 • Low Risk ✅\nScore 410 • High Risk ⚠️\nScore 600 • Low Risk ✅\nScore 500 • Low Risk ✅\nScore 300 • High Risk ⚠️",
		f.texts()[0])
}

func TestShowLogsEmpty(t *testing.T) {
	f := newFixture(fakeLogs{})
	f.d.Dispatch(context.Background(), nlu.Result{Reply: "Here are your logs", Action: nlu.ShowLogs{}}, "en")
	assert.Equal(t, []string{"No logs found."}, f.texts())
}

func TestShowLogsErrorDegrades(t *testing.T) {
	f := newFixture(fakeLogs{err: errors.New("db down")})
	f.d.Dispatch(context.Background(), nlu.Result{Reply: "Here are your logs", Action: nlu.ShowLogs{}}, "en")
	assert.Equal(t, []string{"Here are your logs"}, f.texts())
}

func TestPredict(t *testing.T) {
	f := newFixture(fakeLogs{})
	var got backend.Prediction
	f.d.opt.OnPrediction = func(p backend.Prediction) { got = p }

	f.d.Dispatch(context.Background(), nlu.Result{Reply: "Calculating your score", Action: nlu.Predict{}}, "en")

	assert.Equal(t, []string{"Calculating your score"}, f.texts())
	assert.Equal(t, f.store.Snapshot(), f.scorer.got)
	assert.Equal(t, 742, got.Score)
	p, ok := f.d.LastPrediction()
	require.True(t, ok)
	assert.Equal(t, 742, p.Score)
}

func TestPredictFailureIsSwallowed(t *testing.T) {
	f := newFixture(fakeLogs{})
	f.scorer.err = errors.New("boom")

	f.d.Dispatch(context.Background(), nlu.Result{Reply: "Calculating", Action: nlu.Predict{}}, "en")

	_, ok := f.d.LastPrediction()
	assert.False(t, ok)
	assert.Equal(t, Idle, f.d.State())
}

func TestNoneWithEmptyReply(t *testing.T) {
	f := newFixture(fakeLogs{})
	f.d.Dispatch(context.Background(), nlu.Result{Action: nlu.None{}}, "en")
	assert.Zero(t, f.log.Len())
	assert.Empty(t, f.speaker.got)
}

func TestStateChangeHook(t *testing.T) {
	f := newFixture(fakeLogs{})
	var states []State
	f.d.opt.OnStateChange = func(s State, _ *Pending) { states = append(states, s) }

	f.d.Dispatch(context.Background(), setSavings, "en")
	require.NoError(t, f.d.Cancel(context.Background()))

	assert.Equal(t, []State{AwaitingConfirmation, Idle}, states)
	assert.Equal(t, "awaiting_confirmation", AwaitingConfirmation.String())
}

func TestStaleStateChangeDropped(t *testing.T) {
	f := newFixture(fakeLogs{})
	var states []State
	f.d.opt.OnStateChange = func(s State, _ *Pending) { states = append(states, s) }

	f.d.Dispatch(context.Background(), setSavings, "en")
	require.NoError(t, f.d.Cancel(context.Background()))

	// the proposal's notification arriving after the cancel's
	f.d.notify(1, AwaitingConfirmation, &Pending{Action: setSavings.Action.(nlu.SetField)})

	assert.Equal(t, []State{AwaitingConfirmation, Idle}, states)
}

func TestConcurrentStateChangesEndOnCurrentState(t *testing.T) {
	f := newFixture(fakeLogs{})
	var (
		mu   sync.Mutex
		last State
	)
	f.d.opt.OnStateChange = func(s State, _ *Pending) {
		mu.Lock()
		last = s
		mu.Unlock()
	}

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			f.d.Dispatch(ctx, setSavings, "en")
		}()
		go func() {
			defer wg.Done()
			_ = f.d.Cancel(ctx)
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, f.d.State(), last)
}

func TestFormatLogs(t *testing.T) {
	assert.Equal(t, "No logs found.", FormatLogs(nil))
	assert.Equal(t, "Score 1 • x", FormatLogs([]backend.LogEntry{{Score: 1, Risk: "x"}}))
}
