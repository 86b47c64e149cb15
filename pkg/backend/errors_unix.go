//go:build unix

package backend

import (
	"errors"

	"golang.org/x/sys/unix"
)

// isHandleExhaustion reports the per-process (EMFILE) and system-wide (ENFILE)
// open file limits.
func isHandleExhaustion(err error) bool {
	return errors.Is(err, unix.EMFILE) || errors.Is(err, unix.ENFILE)
}
