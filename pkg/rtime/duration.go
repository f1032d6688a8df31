// Package rtime provides a Duration value type for real-time scheduling
// computations, carrying its unit internally so millisecond and microsecond
// quantities are never silently mixed.
package rtime

import "fmt"

// Duration is an exact time quantity stored in whole microseconds.
// Every external format in this repository commits to either milliseconds
// or microseconds; conversion between the two is always explicit.
type Duration struct {
	micros int64
}

// Zero is the additive identity.
var Zero = Duration{}

// FromMillis constructs a Duration from a whole-millisecond count.
func FromMillis(ms int64) Duration {
	return Duration{micros: ms * 1000}
}

// FromMicros constructs a Duration from a whole-microsecond count.
func FromMicros(us int64) Duration {
	return Duration{micros: us}
}

// Millis returns the duration rounded towards zero to whole milliseconds.
func (d Duration) Millis() int64 {
	return d.micros / 1000
}

// Micros returns the exact duration in whole microseconds.
func (d Duration) Micros() int64 {
	return d.micros
}

// IsZero reports whether the duration is exactly zero.
func (d Duration) IsZero() bool {
	return d.micros == 0
}

// Add returns the sum of two durations.
func (d Duration) Add(other Duration) Duration {
	return Duration{micros: d.micros + other.micros}
}

// Sub returns d minus other. The result may be negative.
func (d Duration) Sub(other Duration) Duration {
	return Duration{micros: d.micros - other.micros}
}

// Scale multiplies the duration by a scalar, rounding towards zero.
func (d Duration) Scale(factor float64) Duration {
	return Duration{micros: int64(float64(d.micros) * factor)}
}

// ScaleUint multiplies the duration by an integer scalar exactly.
func (d Duration) ScaleUint(factor uint64) Duration {
	return Duration{micros: d.micros * int64(factor)}
}

// Ratio returns d / other as a float64, used to express bandwidths
// (runtime / period). Dividing by a zero duration returns +Inf or NaN per
// standard float64 semantics, left to the caller to reject.
func (d Duration) Ratio(other Duration) float64 {
	return float64(d.micros) / float64(other.micros)
}

// Less reports whether d is strictly shorter than other.
func (d Duration) Less(other Duration) bool {
	return d.micros < other.micros
}

// LessEqual reports whether d is shorter than or equal to other.
func (d Duration) LessEqual(other Duration) bool {
	return d.micros <= other.micros
}

// Max returns the longer of d and other.
func (d Duration) Max(other Duration) Duration {
	if other.micros > d.micros {
		return other
	}

	return d
}

// Min returns the shorter of d and other.
func (d Duration) Min(other Duration) Duration {
	if other.micros < d.micros {
		return other
	}

	return d
}

// String renders the duration in milliseconds for diagnostics and logging.
func (d Duration) String() string {
	return fmt.Sprintf("%dms", d.Millis())
}
