package vox

import (
	"strings"
	"sync"
)

type ViewState struct {
	Active     string `json:"active"`
	Navigation bool   `json:"navigation"`
}

// View tracks which dashboard view is showing. Only configured targets can be
// navigated to.
type View struct {
	mu       sync.Mutex
	targets  map[string]bool
	state    ViewState
	onChange func(ViewState)
}

func NewView(targets []string, initial string) *View {
	v := &View{targets: make(map[string]bool, len(targets))}
	for _, t := range targets {
		v.targets[normalizeTarget(t)] = true
	}
	v.state.Active = normalizeTarget(initial)
	return v
}

func (v *View) OnChange(fn func(ViewState)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onChange = fn
}

// Navigate makes target the active view and shows the navigation surface.
func (v *View) Navigate(target string) bool {
	t := normalizeTarget(target)

	v.mu.Lock()
	if !v.targets[t] {
		v.mu.Unlock()
		return false
	}
	v.state = ViewState{Active: t, Navigation: true}
	s, fn := v.state, v.onChange
	v.mu.Unlock()

	if fn != nil {
		fn(s)
	}
	return true
}

func (v *View) State() ViewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

func normalizeTarget(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
