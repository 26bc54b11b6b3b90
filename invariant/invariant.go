// Package invariant provides a single checkpoint helper for the local
// invariants spec.md §7 and §8 name (e.g. bucket size never exceeding
// K, a split never losing a contact, a completed lookup never
// returning more than K results). A violation always logs at Error;
// whether it additionally panics depends on the build tag (see
// invariant_debug.go / invariant_release.go), mirroring the teacher's
// unix/windows build-tag split in async/storage_limits_*.go.
package invariant

import "github.com/sirupsen/logrus"

// Check reports a violation of ok via fields when ok is false. The
// node continues running in both build modes; only a debug build also
// panics, turning a state the engine no longer trusts into an
// immediate, loud failure during development instead of a
// silently-corrupted routing table or datastore in the field.
func Check(ok bool, msg string, fields logrus.Fields) {
	if ok {
		return
	}
	logrus.WithFields(fields).Error("invariant violated: " + msg)
	fail(msg)
}
