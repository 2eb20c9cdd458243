//go:build unix

package process

import (
	"errors"

	"golang.org/x/sys/unix"
)

func isNoSuchProcess(err error) bool {
	return errors.Is(err, unix.ESRCH)
}
