// Package mock provides test doubles for buildprof components.
package mock

import (
	"context"
	"sync"

	"github.com/dudk/buildprof"
	"github.com/dudk/buildprof/batch"
)

// Sink mocks a buildprof.Sink and records everything fed into it.
type Sink struct {
	ErrorCheck bool

	mu     sync.Mutex
	data   []byte
	chunks int
	eof    bool
	err    error
}

var _ buildprof.Sink = (*Sink)(nil)

// Feed records a chunk.
func (m *Sink) Feed(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.eof || m.err != nil {
		panic("mock: feed into terminated sink")
	}
	m.data = append(m.data, data...)
	m.chunks++
}

// FeedEOF records a clean end of stream.
func (m *Sink) FeedEOF() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.eof || m.err != nil {
		panic("mock: sink terminated twice")
	}
	m.eof = true
}

// Fail records a stream error.
func (m *Sink) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.eof || m.err != nil {
		panic("mock: sink terminated twice")
	}
	m.err = err
}

// Data returns all recorded bytes.
func (m *Sink) Data() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data
}

// Chunks returns the number of Feed calls.
func (m *Sink) Chunks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chunks
}

// EOF reports whether the stream ended cleanly.
func (m *Sink) EOF() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.eof
}

// Err returns the recorded stream error.
func (m *Sink) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Step is a scripted batch task. Its Do function signals Started once
// the task is admitted and completes only when Release is called, so a
// test fully controls the completion schedule without a wall clock.
type Step struct {
	ID      string
	Err     error
	Started chan struct{}
	release chan struct{}
}

// NewStep returns a step that completes with the provided error.
func NewStep(id string, err error) *Step {
	return &Step{
		ID:      id,
		Err:     err,
		Started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

// Release lets the step complete. It must be called at most once.
func (s *Step) Release() {
	close(s.release)
}

// Task adapts the step to a batch task. The task's value is the step id.
func (s *Step) Task() batch.Task[string] {
	return batch.Task[string]{
		ID: s.ID,
		Do: func(ctx context.Context) (string, error) {
			s.Started <- struct{}{}
			select {
			case <-s.release:
			case <-ctx.Done():
				return "", ctx.Err()
			}
			return s.ID, s.Err
		},
	}
}
