// Package progress computes the completion percentage of an upgrade job.
package progress

import "math"

// Calculator accumulates the completion percentage as success markers are
// observed in the log. The percentage is only ever increased, and is clamped
// to 100.
//
// Only successes move the percentage. A job that keeps going past failed
// targets will therefore never reach 100 from the log alone.
type Calculator struct {
	total   int
	percent int
}

// New returns a Calculator for a job with the given number of targets.
func New(total int) *Calculator {
	return &Calculator{total: total}
}

// Observe records the successes seen in one chunk of the log and returns the
// updated percentage.
func (c *Calculator) Observe(successes int) int {
	if c.total <= 0 || successes <= 0 {
		return c.Percent()
	}

	next := math.Ceil(float64(c.percent) + float64(successes)/float64(c.total)*100)
	c.percent = int(math.Min(next, 100))
	return c.percent
}

// Percent returns the current percentage. An empty job is complete.
func (c *Calculator) Percent() int {
	if c.total <= 0 {
		return 100
	}
	return c.percent
}

// Total returns the number of targets the percentage is relative to.
func (c *Calculator) Total() int {
	return c.total
}
