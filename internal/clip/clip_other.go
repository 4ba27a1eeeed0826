//go:build !darwin && !windows && !linux

package clip

// New returns a headless backend; this platform has no clipboard support.
func New() Accessor {
	return newHeadless("no clipboard support on this platform")
}
