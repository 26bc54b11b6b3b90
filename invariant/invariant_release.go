//go:build !debug

package invariant

// fail is a no-op in release builds: the violation is already logged
// at Error by Check, and the node keeps running rather than crashing
// in production on a check that may itself be overly conservative.
func fail(msg string) {}
