//go:build !windows && !plan9

package pidfile

import (
	"errors"

	"golang.org/x/sys/unix"
)

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	// EPERM means the process exists under another user
	return err == nil || errors.Is(err, unix.EPERM)
}
