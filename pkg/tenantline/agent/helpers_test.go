package agent

import (
	"context"
	"fmt"
	"sync"
)

// fakeSummarizer returns a canned summary or a canned error.
type fakeSummarizer struct {
	summary string
	err     error
	calls   int
}

func (f *fakeSummarizer) Summarize(_ context.Context, _, _ string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if f.summary == "" {
		return "summary of prior conversation", nil
	}
	return f.summary, nil
}

// scriptedGenerator returns its outputs in order, then repeats the last one.
// A nil entry produces an error.
type scriptedGenerator struct {
	mu      sync.Mutex
	outputs []GenerationOutput
	calls   int
}

func (g *scriptedGenerator) Generate(_ context.Context, _ string, _ []Message, _ []ToolDefinition) (GenerationOutput, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if len(g.outputs) == 0 {
		return nil, fmt.Errorf("generator exhausted")
	}
	out := g.outputs[0]
	if len(g.outputs) > 1 {
		g.outputs = g.outputs[1:]
	}
	if out == nil {
		return nil, fmt.Errorf("simulated generation failure")
	}
	return out, nil
}

// memPersister is an in-memory Persister for store tests.
type memPersister struct {
	mu    sync.Mutex
	saved map[string]*Conversation
}

func newMemPersister() *memPersister {
	return &memPersister{saved: make(map[string]*Conversation)}
}

func (p *memPersister) Save(c *Conversation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saved[c.ID] = c.Clone()
	return nil
}

func (p *memPersister) Load(id string) (*Conversation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.saved[id]; ok {
		return c.Clone(), nil
	}
	return nil, nil
}

func (p *memPersister) Delete(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.saved, id)
	return nil
}

func (p *memPersister) Close() error { return nil }
