//go:build unix

package monitor

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

func waitReadable(fd int, timeout time.Duration) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(timeout.Milliseconds()))
	if err == unix.EINTR {
		return false, nil
	}
	if err != nil {
		return false, os.NewSyscallError("poll", err)
	}
	if n == 0 {
		return false, nil
	}
	if fds[0].Revents&unix.POLLNVAL != 0 {
		return false, os.NewSyscallError("poll", unix.EBADF)
	}
	// POLLERR and POLLHUP are surfaced by the read that follows.
	return true, nil
}
