//go:build !unix

package backend

import (
	"errors"
	"syscall"
)

func isHandleExhaustion(err error) bool {
	return errors.Is(err, syscall.EMFILE) || errors.Is(err, syscall.ENFILE)
}
