package gateway

import "golang.org/x/sys/unix"

// pipeCapacity is the target size (bytes) for each forwarding pipe's
// kernel buffer. Enlargement beyond the default (typically 64 KiB) is
// best-effort: F_SETPIPE_SZ can fail under /proc/sys/fs/pipe-max-size
// limits or memory pressure without making the pipe unusable.
const pipeCapacity = 1 << 20 // 1 MiB

// spliceChunk bounds every single splice(2) call so one direction of one
// connection cannot starve the worker's event loop.
const spliceChunk = 128 * 1024

// newNonblockingPipe creates a pipe with both ends non-blocking and tries
// to grow its buffer to pipeCapacity. The read and write ends are
// returned in that order.
func newNonblockingPipe() (readFD, writeFD int, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return -1, -1, err
	}
	readFD, writeFD = fds[0], fds[1]

	// Best-effort: failure to enlarge does not make the pipe unusable, it
	// just caps how much can be in flight before a splice blocks on EAGAIN.
	unix.FcntlInt(uintptr(readFD), unix.F_SETPIPE_SZ, pipeCapacity)

	return readFD, writeFD, nil
}

// pipeResidual returns the number of bytes currently buffered in the
// pipe's kernel FIFO, queried via the FIONREAD ioctl on the read end.
func pipeResidual(readFD int) (int, error) {
	n, err := unix.IoctlGetInt(readFD, unix.FIONREAD)
	if err != nil {
		return 0, err
	}
	return n, nil
}
