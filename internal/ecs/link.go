package ecs

import (
	"errors"
	"net"
	"sync"
)

// ErrLinkClosed is recorded when a link is closed without a prior failure.
var ErrLinkClosed = errors.New("link closed")

// Link is a live socket handed from the connection system to the receive
// and send loops. The loops never touch connection flags: they report a
// broken socket by failing the link, and the connection system observes
// Lost() on its next tick.
type Link struct {
	conn net.Conn
	lost chan struct{}

	failOnce  sync.Once
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

// NewLink wraps an established connection.
func NewLink(conn net.Conn) *Link {
	return &Link{
		conn: conn,
		lost: make(chan struct{}),
	}
}

// Conn returns the underlying socket.
func (l *Link) Conn() net.Conn {
	return l.conn
}

// Fail marks the link as lost with the given cause. Only the first call
// records its error; it reports whether this call was the first.
func (l *Link) Fail(err error) bool {
	first := false
	l.failOnce.Do(func() {
		first = true
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
		close(l.lost)
	})
	return first
}

// Lost returns a channel closed once the link has failed.
func (l *Link) Lost() <-chan struct{} {
	return l.lost
}

// IsLost reports whether the link has failed, without blocking.
func (l *Link) IsLost() bool {
	select {
	case <-l.lost:
		return true
	default:
		return false
	}
}

// Err returns the failure cause, or nil while the link is healthy.
func (l *Link) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Close fails the link if it is still healthy and closes the socket once.
func (l *Link) Close() error {
	l.Fail(ErrLinkClosed)
	var err error
	l.closeOnce.Do(func() {
		if l.conn != nil {
			err = l.conn.Close()
		}
	})
	return err
}
