package task

import "math/rand/v2"

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewToken returns the 11-character opaque token naming a recording's
// storage sub-path.
func NewToken() string { return randomString(11) }

// RandomName returns a stream name for static relays configured without one.
func RandomName() string { return randomString(8) }

func randomString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = base36[rand.IntN(len(base36))]
	}
	return string(b)
}
