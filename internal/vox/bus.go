package vox

import (
	"context"
	log "log/slog"

	"sakhivox/internal/backend"
	"sakhivox/internal/conversation"
	"sakhivox/internal/dispatch"
	"sakhivox/internal/form"
	"sakhivox/pkg/protocol"
)

type Publisher interface {
	Publish(e protocol.Event)
}

// Bus mirrors local state to the dashboard and feeds its commands back into
// the assistant. A Bus with a nil publisher drops everything.
type Bus struct {
	pub    Publisher
	logger *log.Logger
}

type StateMessage struct {
	Dispatch string          `json:"dispatch"`
	Pending  *PendingMessage `json:"pending,omitempty"`
}

type PendingMessage struct {
	Field string  `json:"field"`
	Value float64 `json:"value"`
	Reply string  `json:"reply"`
}

type MetricsMessage struct {
	Changed string       `json:"changed"`
	Values  form.Metrics `json:"values"`
}

func NewBus(pub Publisher, logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.Default()
	}
	return &Bus{pub: pub, logger: logger.With("component", "bus")}
}

// Attach subscribes the bus to the transcript, view and form.
func (b *Bus) Attach(t *conversation.Log, v *View, s *form.Store) {
	if t != nil {
		t.Subscribe(b.Turn)
	}
	if v != nil {
		v.OnChange(b.View)
	}
	if s != nil {
		s.OnChange(b.Metrics)
	}
}

func (b *Bus) Turn(t conversation.Turn) {
	b.publish(protocol.Event{Kind: protocol.KindTurn, Turn: t})
}

func (b *Bus) View(v ViewState) {
	b.publish(protocol.Event{Kind: protocol.KindView, View: v})
}

func (b *Bus) Metrics(f form.Field, m form.Metrics) {
	b.publish(protocol.Event{Kind: protocol.KindMetrics, Metrics: MetricsMessage{Changed: string(f), Values: m}})
}

func (b *Bus) Prediction(p backend.Prediction) {
	b.publish(protocol.Event{Kind: protocol.KindPrediction, Prediction: p})
}

func (b *Bus) State(s dispatch.State, p *dispatch.Pending) {
	msg := StateMessage{Dispatch: s.String()}
	if p != nil {
		msg.Pending = &PendingMessage{
			Field: string(p.Action.Field),
			Value: p.Action.Value,
			Reply: p.Reply,
		}
	}
	b.publish(protocol.Event{Kind: protocol.KindState, State: msg})
}

func (b *Bus) publish(e protocol.Event) {
	if b == nil || b.pub == nil {
		return
	}
	b.pub.Publish(e)
}

type commander interface {
	Command(ctx context.Context, cmd string) (Status, error)
}

// Commands adapts dashboard commands to the assistant.
func (b *Bus) Commands(ctx context.Context, a commander) func(protocol.Command) {
	return func(c protocol.Command) {
		st, err := a.Command(ctx, c.Cmd)
		if err != nil {
			b.logger.Warn("Dashboard command failed", "cmd", c.Cmd, "err", err)
			return
		}
		b.logger.Debug("Dashboard command", "cmd", c.Cmd, "recording", st.Recording, "dispatch", st.Dispatch)
	}
}
