package nlu

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"sakhivox/internal/form"
)

var ErrMalformedAction = errors.New("malformed action")

type Kind string

const (
	KindSetField  Kind = "set_field"
	KindNavigate  Kind = "navigate"
	KindShowLogs  Kind = "show_logs"
	KindPredict   Kind = "predict"
	KindNone      Kind = "none"
	KindMalformed Kind = "malformed"
)

// Action is the closed set of things a reply may ask the dashboard to do.
type Action interface {
	Kind() Kind
	action()
}

type SetField struct {
	Field form.Field
	Value float64
}

type Navigate struct {
	Target string
}

type ShowLogs struct{}

type Predict struct{}

type None struct{}

// MalformedAction carries an action payload that could not be decoded. The
// dispatcher treats it as None.
type MalformedAction struct {
	Raw json.RawMessage
	Err error
}

func (SetField) Kind() Kind        { return KindSetField }
func (Navigate) Kind() Kind        { return KindNavigate }
func (ShowLogs) Kind() Kind        { return KindShowLogs }
func (Predict) Kind() Kind         { return KindPredict }
func (None) Kind() Kind            { return KindNone }
func (MalformedAction) Kind() Kind { return KindMalformed }

func (SetField) action()        {}
func (Navigate) action()        {}
func (ShowLogs) action()        {}
func (Predict) action()         {}
func (None) action()            {}
func (MalformedAction) action() {}

type wireAction struct {
	Type   string          `json:"type"`
	Field  string          `json:"field,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
	Target string          `json:"target,omitempty"`
}

// ParseAction decodes the wire form, e.g.
//
//	{"type": "set_field", "field": "savings", "value": 3000}
//
// A missing or null action is None.
func ParseAction(raw json.RawMessage) (Action, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return None{}, nil
	}

	var w wireAction
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAction, err)
	}

	switch Kind(strings.ToLower(strings.TrimSpace(w.Type))) {
	case KindSetField:
		f, err := form.ParseField(w.Field)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedAction, err)
		}
		v, err := parseValue(w.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s value: %v", ErrMalformedAction, f, err)
		}
		return SetField{Field: f, Value: v}, nil
	case KindNavigate:
		t := strings.TrimSpace(w.Target)
		if t == "" {
			return nil, fmt.Errorf("%w: navigate without target", ErrMalformedAction)
		}
		return Navigate{Target: t}, nil
	case KindShowLogs:
		return ShowLogs{}, nil
	case KindPredict:
		return Predict{}, nil
	case KindNone, "":
		return None{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedAction, w.Type)
	}
}

// parseValue accepts a JSON number or a numeric string.
func parseValue(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, errors.New("missing")
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("not a number: %s", raw)
	}
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	return strconv.ParseFloat(s, 64)
}

// MarshalAction renders a in its wire form.
func MarshalAction(a Action) ([]byte, error) {
	w := wireAction{Type: string(a.Kind())}
	switch v := a.(type) {
	case SetField:
		w.Field = string(v.Field)
		w.Value = json.RawMessage(strconv.FormatFloat(v.Value, 'f', -1, 64))
	case Navigate:
		w.Target = v.Target
	case MalformedAction:
		return nil, fmt.Errorf("%w: %v", ErrMalformedAction, v.Err)
	}
	return json.Marshal(w)
}

// Describe is a short human form used in logs and status replies.
func Describe(a Action) string {
	switch v := a.(type) {
	case SetField:
		return fmt.Sprintf("set %s to %g", v.Field, v.Value)
	case Navigate:
		return "navigate to " + v.Target
	case nil:
		return string(KindNone)
	default:
		return string(a.Kind())
	}
}
