package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Speaker string

const (
	User   Speaker = "user"
	System Speaker = "system"
)

type Turn struct {
	ID      uuid.UUID `json:"id"`
	Speaker Speaker   `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// Log is the chronological transcript. Insertion order is the only order;
// turns are never re-sorted or deduplicated. With a positive limit the
// oldest turns are dropped first.
type Log struct {
	mu    sync.RWMutex
	turns []Turn
	limit int
	subs  []func(Turn)

	// serializes subscriber delivery so it follows append order
	deliver sync.Mutex

	now func() time.Time
}

func NewLog(limit int) *Log {
	if limit < 0 {
		limit = 0
	}
	return &Log{limit: limit, now: time.Now}
}

// Subscribe registers fn to be called after every append, in append order.
func (l *Log) Subscribe(fn func(Turn)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs = append(l.subs, fn)
}

func (l *Log) Append(speaker Speaker, text string) Turn {
	l.deliver.Lock()
	defer l.deliver.Unlock()

	l.mu.Lock()
	t := Turn{
		ID:      uuid.New(),
		Speaker: speaker,
		Text:    text,
		At:      l.now(),
	}
	l.turns = append(l.turns, t)
	if l.limit > 0 && len(l.turns) > l.limit {
		drop := len(l.turns) - l.limit
		clear(l.turns[:drop])
		// slide the window; append reallocates (and frees the dropped
		// prefix) once the backing array runs out
		l.turns = l.turns[drop:]
	}
	subs := append([]func(Turn){}, l.subs...)
	l.mu.Unlock()

	for _, fn := range subs {
		fn(t)
	}
	return t
}

func (l *Log) User(text string) Turn   { return l.Append(User, text) }
func (l *Log) System(text string) Turn { return l.Append(System, text) }

// Turns returns a copy of the retained turns.
func (l *Log) Turns() []Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.turns)
}

// Last returns the most recent turn, if any.
func (l *Log) Last() (Turn, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.turns) == 0 {
		return Turn{}, false
	}
	return l.turns[len(l.turns)-1], true
}
