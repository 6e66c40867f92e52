package mfhttp

import (
	"context"
	"time"
)

// pacer arms a delay after each paced I/O, per spec §4.1.5: for a
// configured percent p in [1,100], a read/write that took duration d is
// followed by a delay of d*(100-p)/p before the next I/O on the same
// connection. Header I/O is never paced (callers simply don't call
// AfterIO for it). One pacer is created per connection (the spec ties
// pacing to "the same connection"). Throughput reporting is the
// BandwidthMeter's job (Observe/Snapshot below); the pacer only arms
// the delay.
type pacer struct {
	percent int
	meter   *BandwidthMeter
}

func newPacer(percent int, meter *BandwidthMeter) *pacer {
	if percent <= 0 || percent > 100 {
		percent = 100
	}
	return &pacer{
		percent: percent,
		meter:   meter,
	}
}

// AfterIO blocks for the pacing delay owed after an I/O of the given
// duration and byte count, or returns early if ctx is cancelled.
func (p *pacer) AfterIO(ctx context.Context, d time.Duration, n int) error {
	if p.meter != nil {
		p.meter.Observe(n)
	}
	if p.percent >= 100 {
		return nil
	}
	delay := time.Duration(float64(d) * float64(100-p.percent) / float64(p.percent))
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// timedIO runs fn (expected to perform exactly one read or write and
// return the byte count it moved), measures its duration, and arms the
// pacing delay before returning.
func (p *pacer) timedIO(ctx context.Context, fn func() (int, error)) (int, error) {
	start := time.Now()
	n, err := fn()
	d := time.Since(start)
	if pacingErr := p.AfterIO(ctx, d, n); pacingErr != nil && err == nil {
		err = pacingErr
	}
	return n, err
}
