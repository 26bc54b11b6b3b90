//go:build debug

package invariant

func fail(msg string) {
	panic("invariant violated: " + msg)
}
