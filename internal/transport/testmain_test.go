package transport_test

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain runs all tests in the transport_test package and checks for
// goroutine leaks after all tests complete, since Recv spawns one
// goroutine per call. Any leaked goroutine causes a test failure.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
