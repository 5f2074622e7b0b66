package file

import (
	"errors"

	"golang.org/x/sys/unix"
)

// processAlive probes a PID with signal 0. EPERM means the process exists but
// belongs to another user, which still counts as alive.
func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, unix.EPERM)
}
