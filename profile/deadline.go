package profile

import (
	"errors"
	"math/rand"
	"time"
)

// ErrDeadline is caused by starting a unit of work past the run
// deadline.
var ErrDeadline = errors.New("profile: deadline reached")

// Deadline is an absolute wall-clock limit for a profiling run. It is
// consulted between units of work only: a unit already in flight runs
// to completion. The zero Deadline never expires.
type Deadline time.Time

// Until returns a deadline d from now. Non-positive d means no
// deadline.
func Until(d time.Duration) Deadline {
	if d <= 0 {
		return Deadline{}
	}
	return Deadline(time.Now().Add(d))
}

// Check returns ErrDeadline once the deadline has passed.
func (d Deadline) Check() error {
	t := time.Time(d)
	if t.IsZero() || time.Now().Before(t) {
		return nil
	}
	return ErrDeadline
}

// PickCommit returns a random index into a recency-ordered commit
// list of length n. The draw is a cubed uniform sample, so recent
// commits are strongly preferred: half of all picks land in the first
// eighth of the list.
func PickCommit(rng *rand.Rand, n int) int {
	x := rng.Float64()
	return int(float64(n) * x * x * x)
}
