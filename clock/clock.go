// Package clock provides the time source used by the collection loop.
//
// Production code uses Real(). Tests supply their own implementation
// so they can drive an exact number of cycles without waiting.
package clock

import "time"

// Clock abstracts the two time operations the loop needs.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time after
	// duration d elapses. Equivalent to time.After.
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
