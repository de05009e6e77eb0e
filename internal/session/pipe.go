package session

import (
	"io"
	"sync"

	"github.com/dmitrijs2005/fieldsync/internal/wire"
)

// Pipe returns the two ends of an in-memory stream. Frames are encoded on
// Send and decoded on Recv, so both ends see exactly what a network peer
// would. Closing either end closes both.
func Pipe() (Conn, Conn) {
	done := make(chan struct{})
	once := &sync.Once{}
	ab := make(chan []byte, 16)
	ba := make(chan []byte, 16)
	return &pipeEnd{in: ba, out: ab, done: done, once: once},
		&pipeEnd{in: ab, out: ba, done: done, once: once}
}

type pipeEnd struct {
	in   <-chan []byte
	out  chan<- []byte
	done chan struct{}
	once *sync.Once
}

func (p *pipeEnd) Send(f *wire.Frame) error {
	b, err := f.MarshalWire()
	if err != nil {
		return err
	}
	select {
	case <-p.done:
		return io.ErrClosedPipe
	default:
	}
	select {
	case p.out <- b:
		return nil
	case <-p.done:
		return io.ErrClosedPipe
	}
}

func (p *pipeEnd) Recv() (*wire.Frame, error) {
	// frames sent before Close are still delivered
	select {
	case b := <-p.in:
		return decode(b)
	default:
	}
	select {
	case b := <-p.in:
		return decode(b)
	case <-p.done:
		return nil, io.EOF
	}
}

func decode(b []byte) (*wire.Frame, error) {
	f := &wire.Frame{}
	if err := f.UnmarshalWire(b); err != nil {
		return nil, err
	}
	return f, nil
}

func (p *pipeEnd) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
