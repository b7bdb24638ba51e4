package clip

import "math"

// SegmentInterval is the nominal length of an archive segment, in seconds.
const SegmentInterval = 15

// MaxLength is the longest clip that may be requested, in seconds.
const MaxLength = 60

// Window selects segments[start:end] of an n-segment rolling playlist for a
// clip of length seconds. The last segment may still be written, so it is
// never selected. With too few segments the window starts at 0.
func Window(n int, length float64, interval int) (start, end int) {
	if n <= 0 || interval <= 0 {
		return 0, 0
	}
	desired := int(math.Floor(length / float64(interval)))
	end = n - 1
	start = end - desired
	if start < 0 {
		start = 0
	}
	return start, end
}
