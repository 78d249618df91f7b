package nlu

import (
	"context"
	"encoding/json"
	"fmt"
	log "log/slog"
	"net/http"

	"sakhivox/pkg/remote"
)

type HTTPOptions struct {
	BaseURL string // "/voice/intent" is appended
	Token   string
	Doer    remote.Doer
	Logger  *log.Logger
}

type HTTP struct {
	url    string
	token  string
	doer   remote.Doer
	logger *log.Logger
}

func NewHTTP(opt HTTPOptions) *HTTP {
	if opt.Doer == nil {
		opt.Doer = http.DefaultClient
	}
	if opt.Logger == nil {
		opt.Logger = log.Default()
	}
	return &HTTP{
		url:    remote.Endpoint(opt.BaseURL, "/voice/intent"),
		token:  opt.Token,
		doer:   opt.Doer,
		logger: opt.Logger.With("component", "nlu"),
	}
}

func (h *HTTP) Resolve(ctx context.Context, req Request) (Result, error) {
	var raw json.RawMessage
	if err := remote.DoJSON(ctx, h.doer, "intent", http.MethodPost, h.url, req, &raw, remote.Bearer(h.token)); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrResolutionFailed, err)
	}

	res, err := decodeResult(raw)
	if err != nil {
		return Result{}, err
	}
	if m, ok := res.Action.(MalformedAction); ok {
		h.logger.Warn("Malformed action", "err", m.Err, "raw", string(m.Raw))
	}
	h.logger.Debug("Resolved", "text", req.Text, "kind", res.Action.Kind(), "reply", res.Reply)
	return res, nil
}
