package pipeline

import (
	"sync"

	"ytauto/internal/capability"
)

// Production carries the line brief and every completed stage output through
// one job run.
type Production struct {
	Brief capability.Brief

	mu      sync.Mutex
	outputs map[string]any
}

// NewProduction starts an empty production for brief.
func NewProduction(brief capability.Brief) *Production {
	return &Production{Brief: brief, outputs: make(map[string]any)}
}

// Set stores the output of stage.
func (p *Production) Set(stage string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outputs[stage] = value
}

// Get returns the output of stage.
func (p *Production) Get(stage string) (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.outputs[stage]
	return v, ok
}

// Artifact returns the output of stage as T.
func Artifact[T any](p *Production, stage string) (T, bool) {
	var zero T
	v, ok := p.Get(stage)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}
