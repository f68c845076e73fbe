package realtime

import "time"

// Timer is a cancellable scheduled callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs fn once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

type clockScheduler struct{}

func (clockScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// loopScheduler re-enters the session loop when a timer fires.
type loopScheduler struct {
	base Scheduler
	post func(func())
}

func (s loopScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return s.base.AfterFunc(d, func() { s.post(fn) })
}
