package gateway

import "golang.org/x/sys/unix"

// readinessEventMask is the epoll event bitmask the gateway ever asks for.
// Read and peer-hangup are always requested together; write is added only
// when a connecting socket or a non-empty outbound pipe needs it.
type readinessEventMask uint32

const (
	maskRead  readinessEventMask = unix.EPOLLIN | unix.EPOLLRDHUP
	maskWrite readinessEventMask = unix.EPOLLOUT
)

// edgeTriggered is OR'd into every registration and modification: the
// gateway always wants edge-triggered notifications, never level.
const edgeTriggered = uint32(unix.EPOLLET)

// readinessSetCapacity is the size of the batch buffer handed to
// epoll_wait. It does not limit how many fds a worker may register.
const readinessSetCapacity = 4096

// poller is a thin wrapper over one epoll instance, sized for a single
// worker's readiness set.
type poller struct {
	epfd     int
	eventBuf [readinessSetCapacity]unix.EpollEvent
}

func newPoller() (*poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &poller{epfd: epfd}, nil
}

func (p *poller) close() error {
	return unix.Close(p.epfd)
}

// add registers fd for the given mask, edge-triggered, tagging the event
// with fd itself so wait() can hand the raw fd back to the caller.
func (p *poller) add(fd int, mask readinessEventMask) error {
	ev := unix.EpollEvent{Events: uint32(mask) | edgeTriggered, Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// modify updates the mask for an already-registered fd.
func (p *poller) modify(fd int, mask readinessEventMask) error {
	ev := unix.EpollEvent{Events: uint32(mask) | edgeTriggered, Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// remove deregisters fd. Errors are expected and ignored by callers when
// the fd may already be closed.
func (p *poller) remove(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// wait blocks up to timeoutMs for readiness and returns the fired events.
// The returned slice aliases the poller's internal buffer and is only
// valid until the next call to wait.
func (p *poller) wait(timeoutMs int) ([]unix.EpollEvent, error) {
	n, err := unix.EpollWait(p.epfd, p.eventBuf[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	return p.eventBuf[:n], nil
}
