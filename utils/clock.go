package utils

import "time"

// Clock abstracts "now" so overdue/status derivation never reads the system
// clock inside calculation logic. Tests pin time with FixedClock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func SystemClock() Clock { return systemClock{} }

type FixedClock struct {
	T time.Time
}

func (c FixedClock) Now() time.Time { return c.T }
