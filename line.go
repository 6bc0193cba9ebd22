package buildprof

import (
	"bytes"
	"context"
)

// LineSink is a Sink that splits the stream into lines. The final value
// is the full list of lines, available to a single reader once the
// stream is terminated. A trailing chunk without a newline is reported
// as the last line.
type LineSink struct {
	lines   []string
	pending []byte
	err     error
	done    chan struct{}
}

// NewLineSink returns a sink ready to be fed.
func NewLineSink() *LineSink {
	return &LineSink{
		done: make(chan struct{}),
	}
}

// Feed appends data to the sink and completes all lines contained in it.
func (s *LineSink) Feed(data []byte) {
	if s.closed() {
		panic("buildprof: feed into terminated line sink")
	}
	s.pending = append(s.pending, data...)
	for {
		i := bytes.IndexByte(s.pending, '\n')
		if i < 0 {
			return
		}
		s.lines = append(s.lines, string(s.pending[:i]))
		s.pending = s.pending[i+1:]
	}
}

// FeedEOF terminates the stream and resolves the pending Lines call.
func (s *LineSink) FeedEOF() {
	if s.closed() {
		panic("buildprof: line sink terminated twice")
	}
	if len(s.pending) > 0 {
		s.lines = append(s.lines, string(s.pending))
		s.pending = nil
	}
	close(s.done)
}

// Fail terminates the stream with an error. The pending Lines call
// returns err instead of lines.
func (s *LineSink) Fail(err error) {
	if s.closed() {
		panic("buildprof: line sink terminated twice")
	}
	s.err = err
	close(s.done)
}

// Lines blocks until the stream is terminated and returns all of its
// lines. The value is cached: repeated calls return the same lines.
func (s *LineSink) Lines(ctx context.Context) ([]string, error) {
	select {
	case <-s.done:
		return s.lines, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *LineSink) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
