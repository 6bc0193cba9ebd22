package buildprof

type (
	// Sink consumes a byte stream incrementally. Feed is called zero or
	// more times while the stream is open, then the stream is terminated
	// by exactly one call to either FeedEOF or Fail. After termination
	// the sink's final value is immutable.
	Sink interface {
		Feed(data []byte)
		FeedEOF()
		Fail(err error)
	}

	// Logger is a global interface for buildprof loggers.
	Logger interface {
		Debug(...interface{})
		Info(...interface{})
	}
)

type silentLogger struct{}

func (silentLogger) Debug(args ...interface{}) {}

func (silentLogger) Info(args ...interface{}) {}

// Silent returns a Logger that discards everything. It is the default
// logger of all components.
func Silent() Logger {
	return silentLogger{}
}
