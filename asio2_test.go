// Package asio2_test provides tests for the asio2 package.
//
// The test suite includes:
//   - Message framing validation (raw, delimiter, length-prefix, dgram)
//   - Buffer and ring buffer pools
package asio2_test

import (
	"testing"

	asio2 "github.com/zhllxt/asio2-sub011"
)

// TestPackageImport verifies the package can be imported correctly.
//
//nolint:all
func TestPackageImport(t *testing.T) {
	t.Parallel()

	var f asio2.Framer = asio2.DgramFramer{}
	_ = f
	var l asio2.Logger = &asio2.NoopLogger{}
	l.Infof("noop %d", 1)
}
