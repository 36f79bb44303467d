package portal

import "time"

// Clock abstracts time so that polling loops can be tested without
// real sleeps.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// SystemClock is the default implementation backed by the time package.
type SystemClock struct{}

func (SystemClock) Now() time.Time        { return time.Now() }
func (SystemClock) Sleep(d time.Duration) { time.Sleep(d) }
