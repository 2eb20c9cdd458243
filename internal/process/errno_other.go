//go:build !unix

package process

import (
	"errors"
	"os"
)

func isNoSuchProcess(err error) bool {
	return errors.Is(err, os.ErrProcessDone)
}
