package server

import "time"

// Clock supplies the current time in unix seconds. Liveness decisions
// compare stored last-seen stamps against this, so tests can substitute
// a fixed clock and drive sweeps deterministically.
type Clock interface {
	Now() int64
}

type wallClock struct{}

func (wallClock) Now() int64 { return time.Now().Unix() }
