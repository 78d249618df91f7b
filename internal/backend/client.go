// Package backend talks to the SHG dashboard API: the prediction endpoint and
// the prediction log.
package backend

import (
	"context"
	"fmt"
	log "log/slog"
	"net/http"
	"net/url"
	"strconv"

	"sakhivox/internal/form"
	"sakhivox/pkg/remote"
)

const service = "api"

// LogEntry is one stored prediction; Input holds the metrics it was scored on.
type LogEntry struct {
	Score     int          `json:"score"`
	Risk      string       `json:"risk"`
	Input     form.Metrics `json:"input"`
	Timestamp string       `json:"timestamp"`
}

type Prediction struct {
	Score     int                `json:"score"`
	Risk      string             `json:"risk"`
	RiskColor string             `json:"risk_color"`
	Features  map[string]float64 `json:"features,omitempty"`
	Timestamp string             `json:"timestamp"`
}

type logsResponse struct {
	Logs  []LogEntry `json:"logs"`
	Count int        `json:"count"`
}

type Options struct {
	BaseURL string      // e.g. "http://localhost:8000"
	Token   string      // bearer token, optional
	Doer    remote.Doer // nil => http.DefaultClient
	Logger  *log.Logger
}

type Client struct {
	base   string
	token  string
	doer   remote.Doer
	logger *log.Logger
}

func New(opt Options) *Client {
	if opt.Doer == nil {
		opt.Doer = http.DefaultClient
	}
	if opt.Logger == nil {
		opt.Logger = log.Default()
	}
	return &Client{
		base:   opt.BaseURL,
		token:  opt.Token,
		doer:   opt.Doer,
		logger: opt.Logger.With("component", "backend"),
	}
}

// RecentLogs returns up to limit prediction log entries, newest first.
func (c *Client) RecentLogs(ctx context.Context, limit int) ([]LogEntry, error) {
	u := remote.Endpoint(c.base, "/logs")
	if limit > 0 {
		u += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}

	var out logsResponse
	if err := remote.DoJSON(ctx, c.doer, service, http.MethodGet, u, nil, &out, remote.Bearer(c.token)); err != nil {
		return nil, fmt.Errorf("recent logs: %w", err)
	}
	if limit > 0 && len(out.Logs) > limit {
		out.Logs = out.Logs[:limit]
	}
	c.logger.Debug("Fetched logs", "count", len(out.Logs))
	return out.Logs, nil
}

// Predict scores the given metrics.
func (c *Client) Predict(ctx context.Context, m form.Metrics) (Prediction, error) {
	var p Prediction
	err := remote.DoJSON(ctx, c.doer, service, http.MethodPost, remote.Endpoint(c.base, "/predict"), m, &p, remote.Bearer(c.token))
	if err != nil {
		return Prediction{}, fmt.Errorf("predict: %w", err)
	}
	c.logger.Info("Prediction", "score", p.Score, "risk", p.Risk)
	return p, nil
}
