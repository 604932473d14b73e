package process

import (
	"errors"

	"golang.org/x/sys/unix"
)

// readChunk is the size of each direct read. A short read means the pipe had
// nothing more buffered at that instant.
const readChunk = 1024

// readAvailable performs a zero-timeout readiness poll on fd and, if it is
// readable, reads until the pipe is momentarily empty. eof is true once the
// writer side has been closed and all data consumed.
func readAvailable(fd int) (data []byte, eof bool, err error) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, 0)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		if n == 0 {
			return nil, false, nil
		}
		break
	}
	if fds[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) == 0 {
		return nil, false, nil
	}

	buf := make([]byte, readChunk)
	for {
		n, err := unix.Read(fd, buf)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return data, false, nil
		case err != nil:
			return data, false, err
		case n == 0:
			return data, true, nil
		}
		data = append(data, buf[:n]...)
		if n < readChunk {
			return data, false, nil
		}
	}
}
