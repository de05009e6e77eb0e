package session

import (
	"context"
	"errors"
	"iter"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/cryptox"
	"github.com/dmitrijs2005/fieldsync/internal/models"
	"github.com/dmitrijs2005/fieldsync/internal/reconcile"
	"github.com/dmitrijs2005/fieldsync/internal/wire"
)

// sender streams the local log to the remote, one acknowledged batch per
// step. When the requested range is compacted it falls back to a snapshot
// of every current record.
type sender struct {
	local  *Local
	cfg    Config
	c      *conn
	remote string
	cursor uint64

	next     func() (*models.ChangeEntry, error, bool)
	stop     func()
	snapshot bool
	head     uint64
	batches  int
	done     bool
}

func newSender(local *Local, cfg Config, c *conn, remote string, cursor uint64) *sender {
	return &sender{local: local, cfg: cfg, c: c, remote: remote, cursor: cursor}
}

func (s *sender) start(ctx context.Context) error {
	seq, err := s.local.Log.EntriesSince(ctx, s.remote, s.cursor)
	if errors.Is(err, common.ErrCompacted) {
		return s.startSnapshot(ctx)
	}
	if err != nil {
		return err
	}
	s.next, s.stop = iter.Pull2(seq)
	return nil
}

func (s *sender) startSnapshot(ctx context.Context) error {
	if s.stop != nil {
		s.stop()
	}
	head, err := s.local.Log.HighestSequenceNo(ctx)
	if err != nil {
		return err
	}
	s.local.Logger.Info(ctx, "log compacted below cursor, sending snapshot", "remote", s.remote, "cursor", s.cursor, "head", head)

	s.snapshot = true
	s.head = head
	snap := s.local.Store.Snapshot(ctx)
	next, stop := iter.Pull2(snap)
	s.next = func() (*models.ChangeEntry, error, bool) {
		r, err, ok := next()
		if !ok || err != nil {
			return nil, err, ok
		}
		e := models.EntryFromRecord(r, s.local.DeviceID)
		e.Digest = cryptox.Digest(e.Payload, e.Deleted)
		return e, nil, true
	}
	s.stop = stop
	return nil
}

// fill collects up to BatchSize entries and reports whether the source is
// exhausted.
func (s *sender) fill(ctx context.Context) ([]*models.ChangeEntry, bool, error) {
	var out []*models.ChangeEntry
	for len(out) < s.cfg.BatchSize {
		e, err, ok := s.next()
		if !ok {
			return out, true, nil
		}
		if errors.Is(err, common.ErrCompacted) && !s.snapshot {
			// compacted while streaming: everything not yet acknowledged
			// goes out again as part of the snapshot
			if err := s.startSnapshot(ctx); err != nil {
				return nil, false, err
			}
			out = out[:0]
			continue
		}
		if err != nil {
			return nil, false, err
		}
		out = append(out, e)
	}
	return out, false, nil
}

func (s *sender) step(ctx context.Context) (BatchReport, error) {
	if s.next == nil {
		if err := s.start(ctx); err != nil {
			return BatchReport{}, err
		}
	}

	entries, exhausted, err := s.fill(ctx)
	if err != nil {
		return BatchReport{}, err
	}
	s.batches++
	// a snapshot is never cut short: its cursor only holds once it is complete
	final := exhausted || (!s.snapshot && s.cfg.BatchLimit > 0 && s.batches >= s.cfg.BatchLimit)

	var upTo uint64
	switch {
	case s.snapshot && final:
		upTo = s.head
	case !s.snapshot && len(entries) > 0:
		upTo = entries[len(entries)-1].SequenceNo
	}

	batch := &wire.Batch{Snapshot: s.snapshot, Final: final, UpTo: upTo}
	for _, e := range entries {
		batch.Entries = append(batch.Entries, wire.FromModel(e))
	}
	if err := s.c.send(ctx, s.cfg.BatchTimeout, &wire.Frame{Batch: batch}); err != nil {
		return BatchReport{}, err
	}

	f, err := s.c.recv(ctx, s.cfg.BatchTimeout, "ack")
	if err != nil {
		return BatchReport{}, err
	}
	if f.Ack == nil {
		return BatchReport{}, protocolError("expected ack, got %s", f.Kind())
	}
	if f.Ack.UpTo != upTo {
		return BatchReport{}, protocolError("ack for %d, sent up to %d", f.Ack.UpTo, upTo)
	}
	if upTo > 0 {
		if err := s.local.Directory.RecordCursor(ctx, s.remote, models.DirectionSent, upTo); err != nil {
			return BatchReport{}, err
		}
	}

	if final {
		s.finish()
	}
	s.local.Logger.Debug(ctx, "batch sent", "remote", s.remote, "entries", len(entries), "up_to", upTo, "snapshot", s.snapshot)
	return BatchReport{
		Direction: models.DirectionSent,
		Entries:   len(entries),
		UpTo:      upTo,
		Snapshot:  s.snapshot,
		Final:     final,
	}, nil
}

func (s *sender) finish() {
	s.done = true
	if s.stop != nil {
		s.stop()
	}
}

// receiver applies batches from the remote log.
type receiver struct {
	local  *Local
	cfg    Config
	c      *conn
	remote string
	cursor uint64
	done   bool
}

func newReceiver(local *Local, cfg Config, c *conn, remote string, cursor uint64) *receiver {
	return &receiver{local: local, cfg: cfg, c: c, remote: remote, cursor: cursor}
}

func (r *receiver) step(ctx context.Context) (BatchReport, error) {
	f, err := r.c.recv(ctx, r.cfg.BatchTimeout, "batch")
	if err != nil {
		return BatchReport{}, err
	}
	if f.Batch == nil {
		return BatchReport{}, protocolError("expected batch, got %s", f.Kind())
	}
	b := f.Batch
	if err := r.validate(b); err != nil {
		return BatchReport{}, err
	}

	applied := 0
	for _, we := range b.Entries {
		out, err := r.local.Store.Absorb(ctx, we.ToModel())
		if err != nil {
			return BatchReport{}, err
		}
		switch out {
		case reconcile.OutcomeCreated, reconcile.OutcomeApplied, reconcile.OutcomeConflictRemote:
			applied++
		}
	}

	if b.UpTo > 0 {
		if err := r.local.Directory.RecordCursor(ctx, r.remote, models.DirectionReceived, b.UpTo); err != nil {
			return BatchReport{}, err
		}
		r.cursor = max(r.cursor, b.UpTo)
	}
	if err := r.c.send(ctx, r.cfg.BatchTimeout, &wire.Frame{Ack: &wire.Ack{UpTo: b.UpTo}}); err != nil {
		return BatchReport{}, err
	}
	if b.Final {
		r.done = true
	}

	r.local.Logger.Debug(ctx, "batch applied", "remote", r.remote, "entries", len(b.Entries), "applied", applied, "up_to", b.UpTo)
	return BatchReport{
		Direction: models.DirectionReceived,
		Entries:   len(b.Entries),
		Applied:   applied,
		UpTo:      b.UpTo,
		Snapshot:  b.Snapshot,
		Final:     b.Final,
	}, nil
}

// validate rejects corrupted payloads and, outside snapshots, any batch that
// is not the gap-free continuation of the remote log from the cursor.
func (r *receiver) validate(b *wire.Batch) error {
	for _, e := range b.Entries {
		if !cryptox.Verify(e.Payload, e.Deleted, e.Digest) {
			return protocolError("digest mismatch for %s v%d", e.RecordID, e.Version)
		}
		if e.RecordID == "" {
			return protocolError("entry without record id")
		}
	}
	if b.Snapshot {
		if !b.Final && b.UpTo != 0 {
			return protocolError("snapshot batch carries cursor %d before the end", b.UpTo)
		}
		return nil
	}

	expect := r.cursor + 1
	for _, e := range b.Entries {
		if e.SequenceNo != expect {
			return protocolError("expected entry %d, got %d", expect, e.SequenceNo)
		}
		if e.LogDevice != r.remote {
			return protocolError("entry %d logged by %q", e.SequenceNo, e.LogDevice)
		}
		expect++
	}
	want := uint64(0)
	if len(b.Entries) > 0 {
		want = expect - 1
	}
	if b.UpTo != want {
		return protocolError("batch claims up to %d, carries up to %d", b.UpTo, want)
	}
	return nil
}
