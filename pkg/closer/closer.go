// Package closer implements cooperative cancellation shared
// between a caller and long-running poll loops.
package closer

import (
	"sync"
)

// A Closer broadcasts cancellation to any number of
// goroutines. Closing a Closer closes all its children.
type Closer struct {
	once     sync.Once
	lock     sync.Mutex
	closed   bool
	ch       chan struct{}
	err      error
	children map[*Closer]bool
}

// New creates new Closer.
func New() *Closer {
	return &Closer{
		ch: make(chan struct{}),
	}
}

// Close closes the underlying channel and all children.
// Close is thread-safe and can be called multiple
// times, but only the first error is kept.
func (c *Closer) Close(err error) {
	c.once.Do(func() {
		c.lock.Lock()
		c.err = err
		c.closed = true
		close(c.ch)
		children := c.children
		c.children = nil
		c.lock.Unlock()

		for child := range children {
			child.Close(err)
		}
	})
}

// Chan returns a channel which is closed
// when Close method is called.
func (c *Closer) Chan() <-chan struct{} {
	return c.ch
}

// IsClosed indicates if Close was called.
func (c *Closer) IsClosed() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.closed
}

// Err returns the error given to Close, without blocking.
func (c *Closer) Err() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.err
}

// Wait blocks until Close is called and returns
// the error provided to the first Close.
func (c *Closer) Wait() error {
	<-c.ch
	return c.Err()
}

// Child creates new child closer.
func (c *Closer) Child() *Closer {
	child := New()
	c.AddChild(child)
	return child
}

// AddChild adds child to this closer. If this closer is
// already closed, the child is closed immediately.
func (c *Closer) AddChild(child *Closer) {
	if child == c {
		return
	}

	c.lock.Lock()

	if c.closed {
		err := c.err
		c.lock.Unlock()
		child.Close(err)
		return
	}

	if c.children == nil {
		c.children = make(map[*Closer]bool)
	}

	c.children[child] = true
	c.lock.Unlock()
}
