package process

import (
	"io"
	"sync"

	"github.com/dudk/buildprof"
	"github.com/dudk/buildprof/metric"
)

// muxState tracks the convergence of two independent event sources: the
// process exit notification and the closure of the last owned pipe. The
// transport is released exactly once, on whichever transition reaches
// closed:
//
//	running            --process exited--->  exitedPipesOpen
//	running            --all pipes closed->  pipesClosedRunning
//	exitedPipesOpen    --all pipes closed->  closed
//	pipesClosedRunning --process exited--->  closed
type muxState int

const (
	running muxState = iota
	exitedPipesOpen
	pipesClosedRunning
	closed
)

type pipeReader struct {
	name string
	r    io.ReadCloser
	sink buildprof.Sink
}

// mux owns the child process transport: it demultiplexes output-pipe
// bytes to the claimed sinks and resolves the handle once the process
// has exited and no owned pipes remain open.
type mux struct {
	id    string
	log   buildprof.Logger
	pipes []pipeReader
	donec chan struct{}

	mu        sync.Mutex
	state     muxState
	openPipes int
	exitErr   error
}

func newMux(id string, log buildprof.Logger) *mux {
	return &mux{
		id:    id,
		log:   log,
		donec: make(chan struct{}),
	}
}

// claim registers a sink as the owner of an output stream. Must not be
// called after start.
func (m *mux) claim(name string, r io.ReadCloser, sink buildprof.Sink) {
	m.pipes = append(m.pipes, pipeReader{name: name, r: r, sink: sink})
	m.openPipes++
}

// start launches one reader goroutine per claimed pipe and the exit
// watcher. wait must block until the process has been reaped.
func (m *mux) start(wait func() error) {
	if m.openPipes == 0 {
		m.state = pipesClosedRunning
	}
	for _, p := range m.pipes {
		go m.demux(p)
	}
	go func() {
		m.processExited(wait())
	}()
}

// demux feeds pipe bytes to the owning sink until the pipe closes.
func (m *mux) demux(p pipeReader) {
	meter := metric.Meter("process")
	buf := make([]byte, 8192)
	for {
		n, err := p.r.Read(buf)
		if n > 0 {
			meter.Bytes(int64(n))
			p.sink.Feed(buf[:n])
		}
		if err != nil {
			p.r.Close()
			if err == io.EOF {
				p.sink.FeedEOF()
				m.pipeClosed(p.name, nil)
			} else {
				p.sink.Fail(err)
				m.pipeClosed(p.name, err)
			}
			return
		}
	}
}

func (m *mux) pipeClosed(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log.Debug("pipe closed", m.id, name, err)
	m.openPipes--
	if m.openPipes > 0 {
		return
	}
	switch m.state {
	case running:
		m.state = pipesClosedRunning
	case exitedPipesOpen:
		m.release()
	}
}

func (m *mux) processExited(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log.Debug("process exited", m.id, err)
	m.exitErr = err
	switch m.state {
	case running:
		m.state = exitedPipesOpen
	case pipesClosedRunning:
		m.release()
	}
}

// release is reachable only from the two convergence transitions, so it
// fires exactly once. Called with mu held.
func (m *mux) release() {
	m.state = closed
	m.log.Debug("transport released", m.id)
	close(m.donec)
}

func (m *mux) done() <-chan struct{} {
	return m.donec
}

func (m *mux) exitError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exitErr
}
