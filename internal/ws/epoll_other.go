//go:build !linux

package ws

import (
	"bufio"
	"io"
	"net"
	"sync"
)

// Epoll emulates readiness notification off Linux with one watcher
// goroutine per connection. The watcher peeks through a buffered reader so
// no frame bytes are lost, and waits for Resume before peeking again.
type Epoll struct {
	mu      sync.Mutex
	watched map[net.Conn]*watcher
	readyCh chan net.Conn
	done    chan struct{}
	once    sync.Once
}

type watcher struct {
	br     *bufio.Reader
	resume chan struct{}
}

// NewEpoll creates the fallback poller.
func NewEpoll() (*Epoll, error) {
	return &Epoll{
		watched: make(map[net.Conn]*watcher),
		readyCh: make(chan net.Conn, 128),
		done:    make(chan struct{}),
	}, nil
}

// Add starts watching conn.
func (e *Epoll) Add(conn net.Conn) error {
	w := &watcher{br: bufio.NewReader(conn), resume: make(chan struct{}, 1)}
	e.mu.Lock()
	e.watched[conn] = w
	e.mu.Unlock()

	go e.watch(conn, w)
	return nil
}

func (e *Epoll) watch(conn net.Conn, w *watcher) {
	for {
		_, err := w.br.Peek(1)
		select {
		case e.readyCh <- conn:
		case <-e.done:
			return
		}
		if err != nil {
			// The reader sees the same error and removes the connection.
			return
		}
		select {
		case <-w.resume:
		case <-e.done:
			return
		}
	}
}

// Remove stops watching conn. The watcher exits once conn is closed.
func (e *Epoll) Remove(conn net.Conn) error {
	e.mu.Lock()
	delete(e.watched, conn)
	e.mu.Unlock()
	return nil
}

// Wait blocks until at least one connection is readable and drains any
// others that are already ready.
func (e *Epoll) Wait() ([]net.Conn, error) {
	var first net.Conn
	select {
	case first = <-e.readyCh:
	case <-e.done:
		return nil, net.ErrClosed
	}

	conns := []net.Conn{first}
	for {
		select {
		case conn := <-e.readyCh:
			conns = append(conns, conn)
		default:
			return conns, nil
		}
	}
}

// Reader returns the buffered reader holding the peeked input for conn.
func (e *Epoll) Reader(conn net.Conn) io.Reader {
	e.mu.Lock()
	w, ok := e.watched[conn]
	e.mu.Unlock()
	if !ok {
		return conn
	}
	return w.br
}

// Resume lets the watcher for conn peek for the next frame. It must be
// called once the reader has finished with the current one.
func (e *Epoll) Resume(conn net.Conn) {
	e.mu.Lock()
	w, ok := e.watched[conn]
	e.mu.Unlock()
	if !ok {
		return
	}
	select {
	case w.resume <- struct{}{}:
	default:
	}
}

// Len returns the number of watched connections.
func (e *Epoll) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.watched)
}

// Close stops every watcher.
func (e *Epoll) Close() error {
	e.once.Do(func() { close(e.done) })
	e.mu.Lock()
	e.watched = make(map[net.Conn]*watcher)
	e.mu.Unlock()
	return nil
}

func isEINTR(err error) bool { return false }

func socketFD(conn net.Conn) int { return -1 }
