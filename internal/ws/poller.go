//go:build linux

package ws

import (
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// poller multiplexes readiness for all sockets over a single epoll fd so
// the server does not pay a goroutine per idle connection.
type poller struct {
	fd     int
	mu     sync.Mutex
	closed bool
}

func newPoller() (*poller, error) {
	fd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	return &poller{fd: fd}, nil
}

func (p *poller) Add(conn net.Conn) (int, error) {
	fd, err := socketFD(conn)
	if err != nil {
		return 0, err
	}
	err = unix.EpollCtl(p.fd, syscall.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLHUP,
		Fd:     int32(fd),
	})
	if err != nil {
		return 0, err
	}
	return fd, nil
}

func (p *poller) Remove(fd int) error {
	return unix.EpollCtl(p.fd, syscall.EPOLL_CTL_DEL, fd, nil)
}

// Wait blocks until at least one socket is readable (or hung up) and
// returns the ready descriptors.
func (p *poller) Wait() ([]int, error) {
	events := make([]unix.EpollEvent, 128)
	n, err := unix.EpollWait(p.fd, events, -1)
	for err == unix.EINTR {
		n, err = unix.EpollWait(p.fd, events, -1)
	}
	if err != nil {
		return nil, err
	}
	fds := make([]int, 0, n)
	for i := 0; i < n; i++ {
		fds = append(fds, int(events[i].Fd))
	}
	return fds, nil
}

func (p *poller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return unix.Close(p.fd)
}

func socketFD(conn net.Conn) (int, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return 0, ErrNotSyscallConn
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd int
	err = raw.Control(func(f uintptr) {
		fd = int(f)
	})
	if err != nil {
		return 0, err
	}
	return fd, nil
}
