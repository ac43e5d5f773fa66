package scheduler

import "time"

type Timer interface {
	Stop() bool
}

// Clock is the time source of the service. Tests replace it to fire timers on demand.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
