package gateway

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/dbbouncer/dbbouncer/internal/registry"
)

func TestListenOnEphemeralPortAcceptsConnection(t *testing.T) {
	listenFD, err := listen("127.0.0.1", 0)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer unix.Close(listenFD)

	sa, err := unix.Getsockname(listenFD)
	if err != nil {
		t.Fatalf("getsockname: %v", err)
	}
	sin, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		t.Fatalf("expected SockaddrInet4, got %T", sa)
	}

	addr := &registry.ResolvedAddr{Family: unix.AF_INET, Port: sin.Port}
	copy(addr.Bytes[:4], sin.Addr[:])

	clientFD, _, err := dialNonblocking(addr)
	if err != nil {
		t.Fatalf("dialNonblocking: %v", err)
	}
	defer unix.Close(clientFD)

	deadline := make(chan struct{})
	go func() {
		for {
			if _, _, err := acceptNonblocking(listenFD); err == nil {
				close(deadline)
				return
			} else if err != unix.EAGAIN {
				t.Errorf("acceptNonblocking: %v", err)
				close(deadline)
				return
			}
		}
	}()

	select {
	case <-deadline:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting to accept the loopback connection")
	}
}

func TestPollerAddWaitRemoveRoundTrip(t *testing.T) {
	p, err := newPoller()
	if err != nil {
		t.Fatalf("newPoller: %v", err)
	}
	defer p.close()

	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK); err != nil {
		t.Fatalf("pipe2: %v", err)
	}
	readFD, writeFD := fds[0], fds[1]
	defer unix.Close(readFD)
	defer unix.Close(writeFD)

	if err := p.add(readFD, maskRead); err != nil {
		t.Fatalf("add: %v", err)
	}

	if _, err := unix.Write(writeFD, []byte{1}); err != nil {
		t.Fatalf("write: %v", err)
	}

	events, err := p.wait(1000)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if len(events) != 1 || int(events[0].Fd) != readFD {
		t.Fatalf("expected one event for readFD, got %+v", events)
	}

	if err := p.remove(readFD); err != nil {
		t.Fatalf("remove: %v", err)
	}
}
