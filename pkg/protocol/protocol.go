// Package protocol carries dashboard events and commands as JSON frames over
// a reconnecting websocket.
package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"strings"
	"sync"
	"time"
)

type Kind string

const (
	KindTurn       Kind = "turn"
	KindView       Kind = "view"
	KindMetrics    Kind = "metrics"
	KindPrediction Kind = "prediction"
	KindState      Kind = "state"
)

// Event is one outbound frame. Exactly one payload field is set, matching Kind.
type Event struct {
	Kind       Kind      `json:"kind"`
	Turn       any       `json:"turn,omitempty"`
	View       any       `json:"view,omitempty"`
	Metrics    any       `json:"metrics,omitempty"`
	Prediction any       `json:"prediction,omitempty"`
	State      any       `json:"state,omitempty"`
	At         time.Time `json:"at"`
}

// Command is one inbound frame, e.g. {"cmd": "confirm"}.
type Command struct {
	Cmd string `json:"cmd"`
}

func ParseCommand(b []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(b, &c); err != nil {
		return Command{}, fmt.Errorf("parse command: %w", err)
	}
	c.Cmd = strings.ToLower(strings.TrimSpace(c.Cmd))
	if c.Cmd == "" {
		return Command{}, errors.New("empty command")
	}
	return c, nil
}

type PtclConfig struct {
	Url     string
	Reconn  time.Duration // delay between reconnect attempts
	Backlog int           // events kept while disconnected
	OnCmd   func(Command)
	Logger  *log.Logger
}

type Protocol struct {
	url    string
	reconn time.Duration
	onCmd  func(Command)
	logger *log.Logger

	out chan []byte

	mu        sync.Mutex
	connected bool
}

func NewProtocol(cfg PtclConfig) *Protocol {
	if cfg.Reconn <= 0 {
		cfg.Reconn = 3 * time.Second
	}
	if cfg.Backlog <= 0 {
		cfg.Backlog = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Protocol{
		url:    cfg.Url,
		reconn: cfg.Reconn,
		onCmd:  cfg.OnCmd,
		logger: cfg.Logger.With("component", "protocol"),
		out:    make(chan []byte, cfg.Backlog),
	}
}

func (ptcl *Protocol) OnCmd(f func(Command)) {
	ptcl.onCmd = f
}

func (ptcl *Protocol) Connected() bool {
	ptcl.mu.Lock()
	defer ptcl.mu.Unlock()
	return ptcl.connected
}

// Publish queues an event. It never blocks; when the backlog is full the
// event is dropped.
func (ptcl *Protocol) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b, err := json.Marshal(e)
	if err != nil {
		ptcl.logger.Error("Failed to encode event", "kind", e.Kind, "err", err)
		return
	}
	select {
	case ptcl.out <- b:
	default:
		ptcl.logger.Warn("Backlog full, dropping event", "kind", e.Kind)
	}
}

// Run keeps a connection to the hub until ctx is done, reconnecting after
// every failure.
func (ptcl *Protocol) Run(ctx context.Context) error {
	for {
		web, err := DialWebSocket(ctx, ptcl.url)
		if err != nil {
			ptcl.logger.Warn("Failed to dial hub", "url", ptcl.url, "err", err)
		} else {
			ptcl.logger.Info("Connected to hub", "url", ptcl.url)
			ptcl.serve(ctx, web)
			ptcl.logger.Warn("Trying to reconnect on", "url", ptcl.url)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(ptcl.reconn):
		}
	}
}

func (ptcl *Protocol) serve(ctx context.Context, web *WebSocket) {
	ptcl.setConnected(true)
	defer ptcl.setConnected(false)

	connCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ptcl.writeLoop(connCtx, web)
	}()

	// unblock the reader when the caller is done
	go func() {
		<-connCtx.Done()
		_ = web.Close()
	}()

	for {
		in := web.Read()
		if in.kind != READ_OK {
			if in.kind == READ_FAILURE && connCtx.Err() == nil {
				ptcl.logger.Error("Failed to read", "err", in.err)
			}
			break
		}

		cmd, err := ParseCommand(in.msg)
		if err != nil {
			ptcl.logger.Warn("Failed to parse", "msg", string(in.msg), "err", err)
			continue
		}
		if ptcl.onCmd != nil {
			ptcl.onCmd(cmd)
		}
	}

	cancel()
	wg.Wait()
}

func (ptcl *Protocol) writeLoop(ctx context.Context, web *WebSocket) {
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-ptcl.out:
			if err := web.Write(b); err != nil {
				ptcl.logger.Error("Failed to transmit", "err", err)
				_ = web.Close()
				return
			}
		}
	}
}

func (ptcl *Protocol) setConnected(v bool) {
	ptcl.mu.Lock()
	ptcl.connected = v
	ptcl.mu.Unlock()
}
