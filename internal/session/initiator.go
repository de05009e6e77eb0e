package session

import (
	"context"
	"iter"

	"github.com/dmitrijs2005/fieldsync/internal/models"
	"github.com/dmitrijs2005/fieldsync/internal/wire"
	"github.com/google/uuid"
)

// Session is the initiating side of an exchange.
type Session struct {
	id     string
	local  *Local
	cfg    Config
	target *models.DeviceDescriptor
	c      *conn

	cursors    Cursors
	negotiated bool
	rcv        *receiver
	snd        *sender
	err        error
}

// Open connects to target. It fails with common.ErrUnreachable (wrapped in
// a SessionError) when the target cannot be contacted.
func Open(ctx context.Context, dialer Dialer, local *Local, target *models.DeviceDescriptor, cfg Config) (*Session, error) {
	cn, err := dialer.Dial(ctx, target)
	if err != nil {
		return nil, failed(target.DeviceID, StageOpen, err)
	}
	return &Session{
		id:     uuid.NewString(),
		local:  local,
		cfg:    cfg,
		target: target,
		c:      newConn(cn, cn.Close),
	}, nil
}

// ID identifies the session in logs on both sides.
func (s *Session) ID() string { return s.id }

// Negotiate agrees on the cursors for both directions.
func (s *Session) Negotiate(ctx context.Context) (Cursors, error) {
	if s.err != nil {
		return Cursors{}, s.err
	}
	if s.negotiated {
		return s.cursors, nil
	}

	cursors, err := s.negotiate(ctx)
	if err != nil {
		return Cursors{}, s.fail(StageNegotiate, err)
	}
	s.cursors = cursors
	s.negotiated = true
	s.rcv = newReceiver(s.local, s.cfg, s.c, s.target.DeviceID, cursors.Pull)
	s.snd = newSender(s.local, s.cfg, s.c, s.target.DeviceID, cursors.Push)
	return cursors, nil
}

func (s *Session) negotiate(ctx context.Context) (Cursors, error) {
	own, err := s.local.claims(ctx, s.target.DeviceID)
	if err != nil {
		return Cursors{}, err
	}
	hello := s.local.hello(s.id, own)
	if s.local.Token != nil {
		if hello.Token, err = s.local.Token(ctx, s.target); err != nil {
			return Cursors{}, err
		}
	}
	if err := s.c.send(ctx, s.cfg.NegotiateTimeout, &wire.Frame{Hello: hello}); err != nil {
		return Cursors{}, err
	}

	f, err := s.c.recv(ctx, s.cfg.NegotiateTimeout, "hello-ack")
	if err != nil {
		return Cursors{}, err
	}
	ack := f.HelloAck
	if ack == nil {
		return Cursors{}, protocolError("expected hello-ack, got %s", f.Kind())
	}
	if s.target.DeviceID != "" && ack.DeviceID != s.target.DeviceID {
		return Cursors{}, protocolError("dialed %s, answered by %s", s.target.DeviceID, ack.DeviceID)
	}

	cursors, err := agree(own, ack)
	if err != nil {
		return Cursors{}, err
	}
	if err := s.local.Directory.Touch(ctx, descriptorFrom(ack, s.target.Address)); err != nil {
		return Cursors{}, err
	}

	s.local.Logger.Info(ctx, "session negotiated", "session", s.id, "target", s.target.DeviceID,
		"pull", cursors.Pull, "push", cursors.Push, "remote_highest", cursors.RemoteHighest)
	return cursors, nil
}

// Exchange pulls the target's log, then pushes the local one, yielding a
// report per applied or acknowledged batch. It negotiates first if needed.
// Breaking out of the loop leaves the session open; ranging again resumes
// with the next batch. After a failure it yields the failure again.
func (s *Session) Exchange(ctx context.Context) iter.Seq2[BatchReport, error] {
	return func(yield func(BatchReport, error) bool) {
		if _, err := s.Negotiate(ctx); err != nil {
			yield(BatchReport{}, err)
			return
		}
		for !s.rcv.done {
			rep, err := s.rcv.step(ctx)
			if err != nil {
				yield(BatchReport{}, s.fail(StageTransfer, err))
				return
			}
			if !yield(rep, nil) {
				return
			}
		}
		for !s.snd.done {
			rep, err := s.snd.step(ctx)
			if err != nil {
				yield(BatchReport{}, s.fail(StageTransfer, err))
				return
			}
			if rep.Final {
				if err := s.local.Directory.MarkSynced(ctx, s.target.DeviceID); err != nil {
					s.local.Logger.Warn(ctx, "mark synced", "target", s.target.DeviceID, "error", err)
				}
			}
			if !yield(rep, nil) {
				return
			}
		}
	}
}

// Done reports whether both directions completed.
func (s *Session) Done() bool {
	return s.negotiated && s.err == nil && s.rcv.done && s.snd.done
}

// Close releases the stream. It is safe to call more than once.
func (s *Session) Close() error {
	if s.snd != nil {
		s.snd.finish()
	}
	s.c.close()
	return nil
}

func (s *Session) fail(stage Stage, err error) error {
	if s.err != nil {
		return s.err
	}
	s.c.abort(err)
	if s.snd != nil {
		s.snd.finish()
	}
	s.err = failed(s.target.DeviceID, stage, err)
	s.local.Logger.Warn(context.Background(), "session failed", "session", s.id, "target", s.target.DeviceID,
		"stage", string(stage), "error", err)
	return s.err
}
