// Package form holds the three dashboard inputs that drive the credit score.
package form

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	ErrUnknownField = errors.New("unknown field")
	ErrOutOfRange   = errors.New("value out of range")
)

type Field string

const (
	Savings    Field = "savings"
	Attendance Field = "attendance"
	Repayment  Field = "repayment"
)

var Fields = []Field{Savings, Attendance, Repayment}

// Range bounds match the scoring service's input schema.
type Range struct {
	Min float64
	Max float64
}

var bounds = map[Field]Range{
	Savings:    {Min: 100, Max: 5000},
	Attendance: {Min: 0, Max: 100},
	Repayment:  {Min: 0, Max: 100},
}

func ParseField(s string) (Field, error) {
	f := Field(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := bounds[f]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownField, s)
	}
	return f, nil
}

func Bounds(f Field) (Range, bool) {
	r, ok := bounds[f]
	return r, ok
}

func Validate(f Field, v float64) error {
	r, ok := bounds[f]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownField, f)
	}
	if v < r.Min || v > r.Max {
		return fmt.Errorf("%w: %s=%g not in [%g, %g]", ErrOutOfRange, f, v, r.Min, r.Max)
	}
	return nil
}

// Metrics is a point-in-time copy of the inputs.
type Metrics struct {
	Savings    float64 `json:"savings"`
	Attendance float64 `json:"attendance"`
	Repayment  float64 `json:"repayment"`
}

func (m Metrics) Get(f Field) float64 {
	switch f {
	case Savings:
		return m.Savings
	case Attendance:
		return m.Attendance
	case Repayment:
		return m.Repayment
	}
	return 0
}

// Store owns the live inputs. Each setter writes exactly one field.
type Store struct {
	mu       sync.RWMutex
	m        Metrics
	onChange func(Field, Metrics)
}

func NewStore(initial Metrics) *Store {
	return &Store{m: initial}
}

// OnChange registers a hook fired after every successful write.
func (s *Store) OnChange(fn func(Field, Metrics)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

func (s *Store) Snapshot() Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.m
}

func (s *Store) SetSavings(v float64) error    { return s.Set(Savings, v) }
func (s *Store) SetAttendance(v float64) error { return s.Set(Attendance, v) }
func (s *Store) SetRepayment(v float64) error  { return s.Set(Repayment, v) }

func (s *Store) Set(f Field, v float64) error {
	if err := Validate(f, v); err != nil {
		return err
	}

	s.mu.Lock()
	switch f {
	case Savings:
		s.m.Savings = v
	case Attendance:
		s.m.Attendance = v
	case Repayment:
		s.m.Repayment = v
	}
	snap := s.m
	hook := s.onChange
	s.mu.Unlock()

	if hook != nil {
		hook(f, snap)
	}
	return nil
}
