//go:build linux

package ws

import (
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// Epoll multiplexes read readiness for every upgraded connection over one
// epoll instance, so idle clients cost a map entry instead of a goroutine.
type Epoll struct {
	fd     int
	mu     sync.RWMutex
	byFd   map[int]net.Conn
	events []unix.EpollEvent
}

// NewEpoll creates an epoll instance with a 128-event wait buffer.
func NewEpoll() (*Epoll, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Epoll{
		fd:     fd,
		byFd:   make(map[int]net.Conn),
		events: make([]unix.EpollEvent, 128),
	}, nil
}

// watchEvents is armed one shot at a time: after the kernel reports a
// connection it stays silent until Resume re-arms it, so a connection whose
// handler is still running is never dispatched again.
const watchEvents = unix.EPOLLIN | unix.EPOLLHUP | unix.EPOLLRDHUP | unix.EPOLLONESHOT

// Add watches conn for input, hangup and peer half-close.
func (e *Epoll) Add(conn net.Conn) error {
	fd := socketFD(conn)
	if fd < 0 {
		return errors.New("ws: connection has no file descriptor")
	}
	e.mu.Lock()
	e.byFd[fd] = conn
	e.mu.Unlock()

	ev := &unix.EpollEvent{Events: watchEvents, Fd: int32(fd)}
	if err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		e.mu.Lock()
		delete(e.byFd, fd)
		e.mu.Unlock()
		return err
	}
	return nil
}

// Remove stops watching conn. Removing a connection twice is harmless.
func (e *Epoll) Remove(conn net.Conn) error {
	fd := socketFD(conn)

	e.mu.Lock()
	watched, ok := e.byFd[fd]
	ok = ok && watched == conn
	if ok {
		delete(e.byFd, fd)
	}
	e.mu.Unlock()

	if !ok {
		return nil
	}
	return unix.EpollCtl(e.fd, unix.EPOLL_CTL_DEL, fd, nil)
}

// waitMillis bounds each epoll_wait. Closing the epoll descriptor does not
// wake a blocked waiter, so the event loop needs to come up for air to
// notice shutdown.
const waitMillis = 200

// Wait returns the watched connections that are readable, or none after
// waitMillis. Descriptors removed since the kernel reported them are
// skipped.
func (e *Epoll) Wait() ([]net.Conn, error) {
	n, err := unix.EpollWait(e.fd, e.events, waitMillis)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	conns := make([]net.Conn, 0, n)
	for i := 0; i < n; i++ {
		if conn, ok := e.byFd[int(e.events[i].Fd)]; ok {
			conns = append(conns, conn)
		}
	}
	return conns, nil
}

// Reader returns the reader frames for conn must be read from. Epoll never
// consumes input, so this is conn itself.
func (e *Epoll) Reader(conn net.Conn) io.Reader { return conn }

// Resume re-arms conn once the reader is done with the current frame.
// Input that is already buffered is reported again straight away. A conn
// that was removed in the meantime, or whose descriptor now belongs to a
// newer connection, is left alone.
func (e *Epoll) Resume(conn net.Conn) {
	fd := socketFD(conn)
	e.mu.RLock()
	watched, ok := e.byFd[fd]
	e.mu.RUnlock()
	if !ok || watched != conn {
		return
	}
	ev := &unix.EpollEvent{Events: watchEvents, Fd: int32(fd)}
	if err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_MOD, fd, ev); err != nil && !errors.Is(err, unix.ENOENT) && !errors.Is(err, unix.EBADF) {
		log.Printf("ws: epoll re-arm fd=%d: %v", fd, err)
	}
}

// Len returns the number of watched connections.
func (e *Epoll) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.byFd)
}

// Close releases the epoll descriptor.
func (e *Epoll) Close() error {
	e.mu.Lock()
	e.byFd = make(map[int]net.Conn)
	e.mu.Unlock()
	return unix.Close(e.fd)
}

func isEINTR(err error) bool {
	return errors.Is(err, unix.EINTR)
}

// socketFD returns the descriptor behind conn without dup'ing it, or -1.
func socketFD(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	fd := -1
	_ = raw.Control(func(sfd uintptr) {
		fd = int(sfd)
	})
	return fd
}
