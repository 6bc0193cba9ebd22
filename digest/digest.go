/*
Package digest provides a sink that hashes a byte stream incrementally
and resolves to a fixed-size sum at end-of-stream.

The sum of a stream does not depend on how the stream was chunked: any
sequence of Feed calls carrying the same concatenated bytes produces
the same Sum. Sums are plain comparable values, deduplication needs no
interning.
*/
package digest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"hash"

	"github.com/dudk/buildprof"
)

// Size is the size of a Sum in bytes. Compiler input hashing uses SHA-1:
// the sums key build data records, they are not a security boundary.
const Size = sha1.Size

// Sum is a finalized digest value.
type Sum [Size]byte

// Hex returns the lowercase hexadecimal form of the sum.
func (s Sum) Hex() string {
	return hex.EncodeToString(s[:])
}

func (s Sum) String() string {
	return s.Hex()
}

// Of returns the sum of a byte slice in a single shot.
func Of(data []byte) Sum {
	return Sum(sha1.Sum(data))
}

// Sink is a buildprof.Sink specialized to incremental hashing. It is
// fed by exactly one owner and awaited by exactly one reader. The
// resolved value is immutable and repeated Await calls return the same
// cached sum.
type Sink struct {
	hasher hash.Hash
	sum    Sum
	err    error
	done   chan struct{}
}

var _ buildprof.Sink = (*Sink)(nil)

// New returns a sink ready to be fed.
func New() *Sink {
	return &Sink{
		hasher: sha1.New(),
		done:   make(chan struct{}),
	}
}

// Feed updates the running digest. Feeding a terminated sink panics.
func (s *Sink) Feed(data []byte) {
	if s.closed() {
		panic("digest: feed after end of stream")
	}
	if len(data) > 0 {
		// hash.Hash writes never fail
		s.hasher.Write(data)
	}
}

// FeedEOF finalizes the digest and resolves the pending Await call.
func (s *Sink) FeedEOF() {
	if s.closed() {
		panic("digest: stream terminated twice")
	}
	s.hasher.Sum(s.sum[:0])
	close(s.done)
}

// Fail terminates the stream with an error. The pending Await call
// returns err instead of a sum.
func (s *Sink) Fail(err error) {
	if s.closed() {
		panic("digest: stream terminated twice")
	}
	s.err = err
	close(s.done)
}

// Await blocks until the stream is terminated and returns the final
// sum or the stream error.
func (s *Sink) Await(ctx context.Context) (Sum, error) {
	select {
	case <-s.done:
		return s.sum, s.err
	case <-ctx.Done():
		return Sum{}, ctx.Err()
	}
}

func (s *Sink) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
