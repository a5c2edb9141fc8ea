package gateway

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/dbbouncer/dbbouncer/internal/registry"
)

const (
	listenBacklog  = 4096
	keepAliveIdle  = 60 // seconds
	keepAliveIntvl = 10 // seconds
	keepAliveCount = 3
)

// ignoreSIGPIPE masks SIGPIPE process-wide so a write or splice to a
// half-closed peer returns EPIPE instead of killing the process. Called
// once at startup. golang.org/x/sys/unix has no signal-disposition call of
// its own; os/signal is the only way to do this in Go regardless of
// library choice.
func ignoreSIGPIPE() {
	signal.Ignore(syscall.SIGPIPE)
}

// listen opens the gateway's client-facing listening socket. It tries the
// IPv6 wildcard first with IPV6_V6ONLY off so one socket serves both
// families, falling back to the IPv4 wildcard if IPv6 is unavailable.
func listen(host string, port int) (int, error) {
	if host == "" || host == "::" || host == "0.0.0.0" {
		if fd, err := listenOn(unix.AF_INET6, "::", port, true); err == nil {
			return fd, nil
		}
		return listenOn(unix.AF_INET, "0.0.0.0", port, false)
	}

	addr, err := registry.ResolveTCPAddr(context.Background(), host, port)
	if err != nil {
		return -1, fmt.Errorf("resolving listen address %s: %w", host, err)
	}
	return listenOnResolved(addr)
}

func listenOn(family int, literal string, port int, dualStack bool) (int, error) {
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return -1, err
	}

	unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	setReusePortBestEffort(fd)
	if dualStack {
		unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0)
	}

	var sa unix.Sockaddr
	if family == unix.AF_INET6 {
		sa = &unix.SockaddrInet6{Port: port}
	} else {
		sa = &unix.SockaddrInet4{Port: port}
	}

	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind %s:%d: %w", literal, port, err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listen %s:%d: %w", literal, port, err)
	}
	return fd, nil
}

func listenOnResolved(addr *registry.ResolvedAddr) (int, error) {
	family := addr.Family
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return -1, err
	}
	unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	setReusePortBestEffort(fd)

	sa, err := addr.Sockaddr()
	if err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind %s: %w", addr.String(), err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listen %s: %w", addr.String(), err)
	}
	return fd, nil
}

// setReusePortBestEffort sets SO_REUSEPORT where the platform supports
// it. Failure is non-fatal: the gateway runs a single listener per
// process anyway.
func setReusePortBestEffort(fd int) {
	unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
}

// acceptNonblocking accepts one pending connection as a non-blocking
// socket. Returns unix.EAGAIN when nothing is pending.
func acceptNonblocking(listenFD int) (int, unix.Sockaddr, error) {
	return unix.Accept4(listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
}

// applyClientSocketOptions sets TCP_NODELAY unconditionally and keepalive
// unless disabled by configuration.
func applyClientSocketOptions(fd int, keepAlive bool) {
	unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	if !keepAlive {
		return
	}
	unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
	unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, keepAliveIdle)
	unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, keepAliveIntvl)
	unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPCNT, keepAliveCount)
}

// dialNonblocking opens a non-blocking socket of addr's family and
// initiates a connect. It reports whether the connect completed
// immediately (rare, but possible for loopback) or is in progress.
func dialNonblocking(addr *registry.ResolvedAddr) (fd int, completed bool, err error) {
	fd, err = unix.Socket(addr.Family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return -1, false, err
	}

	sa, err := addr.Sockaddr()
	if err != nil {
		unix.Close(fd)
		return -1, false, err
	}

	err = unix.Connect(fd, sa)
	if err == nil {
		return fd, true, nil
	}
	if err == unix.EINPROGRESS {
		return fd, false, nil
	}
	unix.Close(fd)
	return -1, false, err
}

// pendingSocketError reads and clears SO_ERROR, the standard way to learn
// whether a non-blocking connect finished successfully once the socket
// becomes writable.
func pendingSocketError(fd int) (int, error) {
	return unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
}
