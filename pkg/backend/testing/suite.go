package testing

import (
	"context"
	"testing"

	"github.com/marmos91/shadowfs/pkg/backend"
)

// BackendTestSuite is a conformance test suite for Backend implementations.
// It tests the interface contract, not implementation details, so the same
// suite runs against the disk, memory and S3 drivers.
//
// Usage:
//
//	func TestMyBackend(t *testing.T) {
//	    suite := &testing.BackendTestSuite{
//	        NewBackend: func(t *testing.T) backend.Backend {
//	            return mybackend.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type BackendTestSuite struct {
	// NewBackend creates a fresh, empty Backend for each test.
	NewBackend func(t *testing.T) backend.Backend

	// SkipAccessBits disables the read/write permission checks for drivers
	// that cannot express them (object stores).
	SkipAccessBits bool
}

// Run executes all tests in the suite.
func (suite *BackendTestSuite) Run(t *testing.T) {
	t.Run("FileOperations", suite.RunFileTests)
	t.Run("DirectoryOperations", suite.RunDirectoryTests)
	t.Run("Lifecycle", suite.RunLifecycleTests)
}

// newBackend builds a backend and closes it when the test ends.
func (suite *BackendTestSuite) newBackend(t *testing.T) backend.Backend {
	t.Helper()
	b := suite.NewBackend(t)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// testContext returns a standard test context.
func testContext() context.Context {
	return context.Background()
}

// RunLifecycleTests checks context cancellation and Close.
func (suite *BackendTestSuite) RunLifecycleTests(t *testing.T) {
	t.Run("CancelledContext", func(t *testing.T) {
		b := suite.newBackend(t)

		ctx, cancel := context.WithCancel(testContext())
		cancel()

		err := b.WriteBytes(ctx, "cancelled.txt", []byte("x"), backend.WriteOptions{})
		AssertErrorIs(t, context.Canceled, err)
	})

	t.Run("ClosedBackend", func(t *testing.T) {
		b := suite.NewBackend(t)
		mustWrite(t, b, "before-close.txt", []byte("x"))
		if err := b.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}

		_, err := b.ReadBytes(testContext(), "before-close.txt")
		AssertErrorIs(t, backend.ErrClosed, err)
	})
}
