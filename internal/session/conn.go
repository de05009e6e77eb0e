package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/wire"
)

type recvResult struct {
	frame *wire.Frame
	err   error
}

// conn pumps Recv on a goroutine and runs every Send on its own, so each
// wait in either direction is bounded by a timeout and by ctx, whatever the
// underlying stream supports. A stuck Send is released by closer.
type conn struct {
	stream Stream
	closer func() error

	frames  chan recvResult
	sending chan struct{} // held while a Send is in flight
	done    chan struct{}
	once    sync.Once
}

func newConn(s Stream, closer func() error) *conn {
	c := &conn{
		stream:  s,
		closer:  closer,
		frames:  make(chan recvResult),
		sending: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go c.pump()
	return c
}

func (c *conn) pump() {
	for {
		f, err := c.stream.Recv()
		select {
		case c.frames <- recvResult{frame: f, err: err}:
		case <-c.done:
			return
		}
		if err != nil {
			return
		}
	}
}

// recv waits for the next frame. A Fail frame from the remote is returned
// as an error.
func (c *conn) recv(ctx context.Context, timeout time.Duration, what string) (*wire.Frame, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case r := <-c.frames:
		if r.err != nil {
			return nil, fmt.Errorf("receive %s: %w", what, r.err)
		}
		if r.frame.Fail != nil {
			return nil, remoteFailure(r.frame.Fail)
		}
		return r.frame, nil
	case <-expired:
		return nil, fmt.Errorf("timed out after %s waiting for %s", timeout, what)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", common.ErrCancelled, ctx.Err())
	case <-c.done:
		return nil, fmt.Errorf("%w: connection closed", common.ErrCancelled)
	}
}

// send writes f, waiting at most timeout. On a timeout the Send may still
// be blocked; the caller is expected to abort, which unblocks it.
func (c *conn) send(ctx context.Context, timeout time.Duration, f *wire.Frame) error {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case c.sending <- struct{}{}:
	case <-expired:
		return fmt.Errorf("timed out after %s sending %s", timeout, f.Kind())
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", common.ErrCancelled, ctx.Err())
	case <-c.done:
		return fmt.Errorf("%w: connection closed", common.ErrCancelled)
	}

	result := make(chan error, 1)
	go func() {
		err := c.stream.Send(f)
		<-c.sending
		result <- err
	}()

	select {
	case err := <-result:
		if err == nil {
			return nil
		}
		return c.sendError(f, err)
	case <-expired:
		return fmt.Errorf("timed out after %s sending %s", timeout, f.Kind())
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", common.ErrCancelled, ctx.Err())
	case <-c.done:
		return fmt.Errorf("%w: connection closed", common.ErrCancelled)
	}
}

func (c *conn) sendError(f *wire.Frame, err error) error {
	if errors.Is(err, io.EOF) {
		// the remote ended the stream; its reason arrives on the receive side
		select {
		case r := <-c.frames:
			if r.err != nil {
				err = r.err
			} else if r.frame.Fail != nil {
				return remoteFailure(r.frame.Fail)
			}
		case <-time.After(abortGrace):
		case <-c.done:
		}
	}
	return fmt.Errorf("send %s: %w", f.Kind(), err)
}

// abortGrace bounds the attempt to deliver a Fail frame to a remote that
// may already be gone.
const abortGrace = time.Second

// abort tells the remote why the session ends, best effort, and closes.
// The Fail frame is skipped while an earlier Send is still blocked.
func (c *conn) abort(err error) {
	select {
	case c.sending <- struct{}{}:
		sent := make(chan struct{})
		go func() {
			_ = c.stream.Send(failFrame(err))
			<-c.sending
			close(sent)
		}()
		select {
		case <-sent:
		case <-time.After(abortGrace):
		}
	default:
	}
	c.close()
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		if c.closer != nil {
			_ = c.closer()
		}
	})
}
