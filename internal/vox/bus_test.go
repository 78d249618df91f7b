package vox

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sakhivox/internal/backend"
	"sakhivox/internal/conversation"
	"sakhivox/internal/dispatch"
	"sakhivox/internal/form"
	"sakhivox/internal/nlu"
	"sakhivox/pkg/protocol"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (p *recordingPublisher) Publish(e protocol.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) kinds() []protocol.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []protocol.Kind
	for _, e := range p.events {
		out = append(out, e.Kind)
	}
	return out
}

func TestView(t *testing.T) {
	v := NewView([]string{"dashboard", "History"}, "dashboard")
	var seen []ViewState
	v.OnChange(func(s ViewState) { seen = append(seen, s) })

	assert.Equal(t, ViewState{Active: "dashboard"}, v.State())
	assert.True(t, v.Navigate(" history "))
	assert.Equal(t, ViewState{Active: "history", Navigation: true}, v.State())
	assert.False(t, v.Navigate("moon"))
	assert.Equal(t, "history", v.State().Active)
	assert.Len(t, seen, 1)
}

func TestBusMirrorsState(t *testing.T) {
	pub := &recordingPublisher{}
	bus := NewBus(pub, nil)

	transcript := conversation.NewLog(0)
	view := NewView([]string{"history"}, "dashboard")
	store := form.NewStore(form.Metrics{Savings: 1000, Attendance: 80, Repayment: 70})
	bus.Attach(transcript, view, store)

	d := dispatch.New(dispatch.Options{
		Transcript:    transcript,
		Metrics:       store,
		Navigator:     view,
		OnStateChange: bus.State,
		OnPrediction:  bus.Prediction,
	})
	ctx := context.Background()

	d.Dispatch(ctx, nlu.Result{Reply: "Opening history", Action: nlu.Navigate{Target: "history"}}, "en")
	d.Dispatch(ctx, nlu.Result{Reply: "Savings 2000", Action: nlu.SetField{Field: form.Savings, Value: 2000}}, "en")
	require.NoError(t, d.Confirm(ctx))
	bus.Prediction(backend.Prediction{Score: 700})

	assert.Equal(t, []protocol.Kind{
		protocol.KindView,
		protocol.KindTurn,
		protocol.KindState,
		protocol.KindTurn,
		protocol.KindState,
		protocol.KindMetrics,
		protocol.KindTurn,
		protocol.KindPrediction,
	}, pub.kinds())

	st := pub.events[2].State.(StateMessage)
	assert.Equal(t, "awaiting_confirmation", st.Dispatch)
	require.NotNil(t, st.Pending)
	assert.Equal(t, "savings", st.Pending.Field)
	assert.Equal(t, 2000.0, st.Pending.Value)

	m := pub.events[5].Metrics.(MetricsMessage)
	assert.Equal(t, "savings", m.Changed)
	assert.Equal(t, 2000.0, m.Values.Savings)
}

func TestNilBusIsSafe(t *testing.T) {
	var b *Bus
	assert.NotPanics(t, func() { b.Turn(conversation.Turn{}) })
	assert.NotPanics(t, func() { NewBus(nil, nil).View(ViewState{}) })
}

func TestBusCommands(t *testing.T) {
	h := newHarness("auto")
	bus := NewBus(nil, nil)
	handle := bus.Commands(context.Background(), h.a)

	handle(protocol.Command{Cmd: "start"})
	assert.Equal(t, "recording", h.rec.State().String())

	handle(protocol.Command{Cmd: "nonsense"})
	assert.Equal(t, "recording", h.rec.State().String())
}
