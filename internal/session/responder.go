package session

import (
	"context"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/wire"
)

type ServeOptions struct {
	// Authorize vets the initiator's Hello, token included. Nil accepts all.
	Authorize func(ctx context.Context, hello *wire.Hello) error

	// Acquire takes the per-device session lock. ok is false when a session
	// with that device is already running. Nil disables locking.
	Acquire func(deviceID string) (release func(), ok bool)
}

// Serve runs the responding side of an exchange on stream until it
// completes or fails.
func Serve(ctx context.Context, stream Stream, local *Local, cfg Config, opts ServeOptions) error {
	c := newConn(stream, nil)
	defer c.close()

	f, err := c.recv(ctx, cfg.NegotiateTimeout, "hello")
	if err != nil {
		return failed("unknown", StageNegotiate, err)
	}
	hello := f.Hello
	if hello == nil || hello.DeviceID == "" {
		err := protocolError("expected hello, got %s", f.Kind())
		c.abort(err)
		return failed("unknown", StageNegotiate, err)
	}
	remote := hello.DeviceID
	log := local.Logger.With("session", hello.SessionID, "remote", remote)

	abort := func(stage Stage, err error) error {
		c.abort(err)
		log.Warn(ctx, "session failed", "stage", string(stage), "error", err)
		return failed(remote, stage, err)
	}

	if opts.Authorize != nil {
		if err := opts.Authorize(ctx, hello); err != nil {
			return abort(StageNegotiate, err)
		}
	}
	if opts.Acquire != nil {
		release, ok := opts.Acquire(remote)
		if !ok {
			return abort(StageNegotiate, common.ErrBusy)
		}
		defer release()
	}

	own, err := local.claims(ctx, remote)
	if err != nil {
		return abort(StageNegotiate, err)
	}
	cursors, err := agree(own, hello)
	if err != nil {
		return abort(StageNegotiate, err)
	}
	if err := local.Directory.Touch(ctx, descriptorFrom(hello, "")); err != nil {
		return abort(StageNegotiate, err)
	}
	if err := c.send(ctx, cfg.NegotiateTimeout, &wire.Frame{HelloAck: local.hello(hello.SessionID, own)}); err != nil {
		return abort(StageNegotiate, err)
	}
	log.Info(ctx, "session accepted", "pull", cursors.Pull, "push", cursors.Push)

	// the initiator pulls first: our log goes out, then theirs comes in
	snd := newSender(local, cfg, c, remote, cursors.Push)
	defer snd.finish()
	for !snd.done {
		if _, err := snd.step(ctx); err != nil {
			return abort(StageTransfer, err)
		}
	}

	rcv := newReceiver(local, cfg, c, remote, cursors.Pull)
	for !rcv.done {
		if _, err := rcv.step(ctx); err != nil {
			return abort(StageTransfer, err)
		}
	}

	if err := local.Directory.MarkSynced(ctx, remote); err != nil {
		log.Warn(ctx, "mark synced", "error", err)
	}
	log.Info(ctx, "session completed")
	return nil
}
