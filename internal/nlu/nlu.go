// Package nlu resolves a transcript into a reply and an Action through a
// remote intent service.
package nlu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"sakhivox/internal/form"
)

var ErrResolutionFailed = errors.New("intent resolution failed")

type Request struct {
	Text     string       `json:"text"`
	Language string       `json:"language"`
	Metrics  form.Metrics `json:"metrics"`
}

type Result struct {
	Reply  string
	Action Action
}

type Resolver interface {
	Resolve(ctx context.Context, req Request) (Result, error)
}

type wireResult struct {
	Reply  string          `json:"reply"`
	Action json.RawMessage `json:"action"`
}

// decodeResult parses {"reply", "action"}. A broken envelope fails the
// resolution; a broken action only downgrades to MalformedAction.
func decodeResult(b []byte) (Result, error) {
	var w wireResult
	if err := json.Unmarshal(b, &w); err != nil {
		return Result{}, fmt.Errorf("%w: decode: %v", ErrResolutionFailed, err)
	}

	a, err := ParseAction(w.Action)
	if err != nil {
		a = MalformedAction{Raw: w.Action, Err: err}
	}
	return Result{Reply: w.Reply, Action: a}, nil
}
