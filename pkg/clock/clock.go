// Package clock abstracts the capture timestamp source. Field devices carry
// a dedicated real-time clock (often with a temperature sensor); when it is
// unreachable the host clock serves as a tagged fallback.
package clock

import (
	"context"
	"fmt"
	"time"

	"github.com/witnesslabs/witness/pkg/event"
)

// Reading is one timestamp observation.
type Reading struct {
	Timestamp    time.Time             `json:"timestamp"`
	Source       event.TimestampSource `json:"source"`
	TemperatureC *float64              `json:"temperature_c,omitempty"`
}

// TimeSource produces timestamp readings.
type TimeSource interface {
	Now(ctx context.Context) (Reading, error)
}

// RTC is the narrow interface to a hardware real-time clock. The wire
// protocol (I2C register access) is out of scope.
type RTC interface {
	ReadTime(ctx context.Context) (time.Time, error)
	ReadTemperature(ctx context.Context) (float64, error)
}

// DeviceClock reads from a hardware RTC. Temperature is best-effort: a
// failed temperature read does not fail the time reading.
type DeviceClock struct {
	rtc RTC
}

func NewDeviceClock(rtc RTC) *DeviceClock {
	return &DeviceClock{rtc: rtc}
}

func (c *DeviceClock) Now(ctx context.Context) (Reading, error) {
	ts, err := c.rtc.ReadTime(ctx)
	if err != nil {
		return Reading{}, fmt.Errorf("clock: rtc read failed: %w", err)
	}
	r := Reading{Timestamp: ts.UTC(), Source: event.SourceDevice}
	if temp, err := c.rtc.ReadTemperature(ctx); err == nil {
		r.TemperatureC = &temp
	}
	return r, nil
}

// HostClock reads the host wall clock. The clock func is injectable for
// tests, matching the rest of the codebase.
type HostClock struct {
	now func() time.Time
}

func NewHostClock() *HostClock {
	return &HostClock{now: time.Now}
}

func NewHostClockWithFunc(now func() time.Time) *HostClock {
	return &HostClock{now: now}
}

func (c *HostClock) Now(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}
	return Reading{Timestamp: c.now().UTC(), Source: event.SourceHost}, nil
}

// Fallback tries the primary source and degrades to the secondary. Record
// creation must never block on a dead RTC.
type Fallback struct {
	primary   TimeSource
	secondary TimeSource
	timeout   time.Duration
}

// DefaultReadTimeout bounds one primary clock read.
const DefaultReadTimeout = time.Second

func NewFallback(primary, secondary TimeSource) *Fallback {
	return &Fallback{primary: primary, secondary: secondary, timeout: DefaultReadTimeout}
}

func (f *Fallback) Now(ctx context.Context) (Reading, error) {
	if f.primary != nil {
		readCtx, cancel := context.WithTimeout(ctx, f.timeout)
		r, err := f.primary.Now(readCtx)
		cancel()
		if err == nil {
			return r, nil
		}
	}
	return f.secondary.Now(ctx)
}
