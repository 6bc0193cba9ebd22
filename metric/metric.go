// Package metric collects runtime counters of buildprof components
// through expvar.
package metric

import (
	"expvar"
	"fmt"
	"sync"
	"time"
)

const componentsLabel = "buildprof.components"

const (
	// ProcessCounter measures number of spawned processes.
	ProcessCounter = "Processes"
	// DigestCounter measures number of finalized digests.
	DigestCounter = "Digests"
	// ByteCounter measures number of bytes fed into sinks.
	ByteCounter = "Bytes"
	// SampleCounter measures number of recorded compile samples.
	SampleCounter = "CompileSamples"
	// CommitCounter measures number of processed commits.
	CommitCounter = "Commits"
	// DurationCounter counts total duration of timed commands.
	DurationCounter = "Duration"
)

var (
	components = metrics{
		m: make(map[string]metric),
	}

	counters = []string{
		ProcessCounter,
		DigestCounter,
		ByteCounter,
		SampleCounter,
		CommitCounter,
		DurationCounter,
	}
)

// Meter returns the metric for provided component name, creating it on
// first use.
func Meter(component string) Metric {
	return components.get(component)
}

// Get returns counter values for provided component name.
func Get(component string) map[string]string {
	m := make(map[string]string)
	for _, counter := range counters {
		v := expvar.Get(key(component, counter))
		if v != nil {
			m[counter] = v.String()
		}
	}
	return m
}

// GetAll returns counters for all measured components.
func GetAll() map[string]map[string]string {
	m := make(map[string]map[string]string)
	components.Lock()
	defer components.Unlock()
	for component := range components.m {
		m[component] = Get(component)
	}
	return m
}

// Metric accumulates counters of a single component.
type Metric interface {
	Processes(delta int64)
	Digests(delta int64)
	Bytes(delta int64)
	Samples(delta int64)
	Commits(delta int64)
	Elapsed(delta time.Duration)
}

type metrics struct {
	sync.Mutex
	m map[string]metric
}

func (m *metrics) get(component string) metric {
	m.Lock()
	defer m.Unlock()
	if metric, ok := m.m[component]; ok {
		return metric
	}
	metric := newMetric(component)
	m.m[component] = metric
	return metric
}

type metric struct {
	key       string
	processes *expvar.Int
	digests   *expvar.Int
	bytes     *expvar.Int
	samples   *expvar.Int
	commits   *expvar.Int
	elapsed   *expvar.Int
}

func newMetric(component string) metric {
	return metric{
		key:       component,
		processes: expvar.NewInt(key(component, ProcessCounter)),
		digests:   expvar.NewInt(key(component, DigestCounter)),
		bytes:     expvar.NewInt(key(component, ByteCounter)),
		samples:   expvar.NewInt(key(component, SampleCounter)),
		commits:   expvar.NewInt(key(component, CommitCounter)),
		elapsed:   expvar.NewInt(key(component, DurationCounter)),
	}
}

func (m metric) Processes(delta int64) { m.processes.Add(delta) }

func (m metric) Digests(delta int64) { m.digests.Add(delta) }

func (m metric) Bytes(delta int64) { m.bytes.Add(delta) }

func (m metric) Samples(delta int64) { m.samples.Add(delta) }

func (m metric) Commits(delta int64) { m.commits.Add(delta) }

func (m metric) Elapsed(delta time.Duration) { m.elapsed.Add(int64(delta)) }

func key(component, counter string) string {
	return fmt.Sprintf("%s.%s.%s", componentsLabel, component, counter)
}
