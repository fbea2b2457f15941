// internal/clock/clock.go
package clock

import (
	"sync/atomic"
	"time"
)

// Clock keeps wall time as a monotonic tick counter plus a stored offset.
// A sync replaces the offset in one atomic swap, so repeated syncs never
// compound drift and readers never observe a half-applied adjustment.
type Clock struct {
	start     time.Time // monotonic anchor
	offset    atomic.Int64
	tzMinutes atomic.Int32
	synced    atomic.Bool
}

// New starts an unsynchronized clock anchored at the current monotonic
// instant.
func New() *Clock {
	return &Clock{start: time.Now()}
}

// SetUnixTime anchors the clock: from now on, Unix() tracks the given
// time plus elapsed monotonic ticks.
func (c *Clock) SetUnixTime(unixSeconds int64) {
	elapsed := int64(time.Since(c.start) / time.Second)
	c.offset.Store(unixSeconds - elapsed)
	c.synced.Store(true)
}

// SetTimezoneOffset sets the display offset in minutes from UTC.
func (c *Clock) SetTimezoneOffset(minutes int32) {
	c.tzMinutes.Store(minutes)
}

// TimezoneOffset returns the display offset in minutes from UTC.
func (c *Clock) TimezoneOffset() int32 {
	return c.tzMinutes.Load()
}

// Unix returns the current Unix time. ok is false until the first sync.
func (c *Clock) Unix() (int64, bool) {
	if !c.synced.Load() {
		return 0, false
	}
	elapsed := int64(time.Since(c.start) / time.Second)
	return c.offset.Load() + elapsed, true
}

// HMS returns local hours, minutes, and seconds for display collaborators.
// Reads zero until the first sync.
func (c *Clock) HMS() (hours, minutes, seconds uint8) {
	unix, ok := c.Unix()
	if !ok {
		return 0, 0, 0
	}
	local := unix + int64(c.tzMinutes.Load())*60
	daySeconds := ((local % 86400) + 86400) % 86400
	return uint8(daySeconds / 3600), uint8(daySeconds % 3600 / 60), uint8(daySeconds % 60)
}
