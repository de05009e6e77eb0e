// Package directory tracks the devices this node knows about: peers, the
// facility, their reachability and the sync cursors exchanged with them.
package directory

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/models"
	"github.com/dmitrijs2005/fieldsync/internal/repositories/repomanager"
)

// SequenceSource reports the head of the local change log.
type SequenceSource interface {
	HighestSequenceNo(ctx context.Context) (uint64, error)
}

// Change is published whenever a device's reachability moves.
type Change struct {
	DeviceID     string
	Role         models.Role
	Reachability models.Reachability
}

type Directory struct {
	db     *sql.DB
	repos  repomanager.RepositoryManager
	seqs   SequenceSource
	selfID string
	log    logging.Logger
	now    func() time.Time

	mu          sync.Mutex
	subscribers []chan Change
}

func New(db *sql.DB, repos repomanager.RepositoryManager, selfID string, seqs SequenceSource, logger logging.Logger) *Directory {
	return &Directory{
		db:     db,
		repos:  repos,
		seqs:   seqs,
		selfID: selfID,
		log:    logger.With("module", "directory"),
		now:    time.Now,
	}
}

// Upsert records a device on first contact and refreshes it afterwards.
// The local device is never stored.
func (d *Directory) Upsert(ctx context.Context, desc *models.DeviceDescriptor) error {
	if desc.DeviceID == "" || desc.DeviceID == d.selfID {
		return nil
	}
	return d.repos.Devices(d.db).Upsert(ctx, desc)
}

// Get returns the descriptor with cursors and pending count filled in.
func (d *Directory) Get(ctx context.Context, id string) (*models.DeviceDescriptor, error) {
	desc, err := d.repos.Devices(d.db).Get(ctx, id)
	if err != nil {
		return nil, err
	}
	hi, err := d.seqs.HighestSequenceNo(ctx)
	if err != nil {
		return nil, err
	}
	cur := d.repos.Cursors(d.db)
	if desc.ReceivedCursor, err = cur.Get(ctx, id, models.DirectionReceived); err != nil {
		return nil, err
	}
	if desc.SentCursor, err = cur.Get(ctx, id, models.DirectionSent); err != nil {
		return nil, err
	}
	desc.PendingChanges = pending(hi, desc.SentCursor)
	return desc, nil
}

// List returns every known device ordered by id.
func (d *Directory) List(ctx context.Context) ([]*models.DeviceDescriptor, error) {
	list, err := d.repos.Devices(d.db).List(ctx)
	if err != nil {
		return nil, err
	}
	hi, err := d.seqs.HighestSequenceNo(ctx)
	if err != nil {
		return nil, err
	}
	received, err := d.repos.Cursors(d.db).List(ctx, models.DirectionReceived)
	if err != nil {
		return nil, err
	}
	sent, err := d.repos.Cursors(d.db).List(ctx, models.DirectionSent)
	if err != nil {
		return nil, err
	}
	for _, desc := range list {
		desc.ReceivedCursor = received[desc.DeviceID]
		desc.SentCursor = sent[desc.DeviceID]
		desc.PendingChanges = pending(hi, desc.SentCursor)
	}
	return list, nil
}

// Facility returns the first known facility, or common.ErrNotFound.
func (d *Directory) Facility(ctx context.Context) (*models.DeviceDescriptor, error) {
	list, err := d.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, desc := range list {
		if desc.Role == models.RoleFacility {
			return desc, nil
		}
	}
	return nil, common.ErrNotFound
}

// CandidatesForSync ranks reachable devices: online before peer-reachable,
// then most recently seen first, then most pending changes first.
// Unreachable devices are left out.
func (d *Directory) CandidatesForSync(ctx context.Context) ([]*models.DeviceDescriptor, error) {
	list, err := d.List(ctx)
	if err != nil {
		return nil, err
	}
	list = slices.DeleteFunc(list, func(desc *models.DeviceDescriptor) bool {
		return desc.Reachability == models.Unreachable
	})
	slices.SortStableFunc(list, compareCandidates)
	return list, nil
}

func compareCandidates(a, b *models.DeviceDescriptor) int {
	if c := cmp.Compare(b.Reachability, a.Reachability); c != 0 {
		return c
	}
	if c := b.LastSeenAt.Compare(a.LastSeenAt); c != 0 {
		return c
	}
	return cmp.Compare(b.PendingChanges, a.PendingChanges)
}

// Cursor returns the stored cursor for remote in one direction.
func (d *Directory) Cursor(ctx context.Context, remote string, dir models.Direction) (uint64, error) {
	return d.repos.Cursors(d.db).Get(ctx, remote, dir)
}

// RecordCursor advances the cursor. A value below the stored one is a no-op
// and logged as a warning; the stored cursor never decreases.
func (d *Directory) RecordCursor(ctx context.Context, remote string, dir models.Direction, seq uint64) error {
	cur := d.repos.Cursors(d.db)
	stored, err := cur.Get(ctx, remote, dir)
	if err != nil {
		return err
	}
	if seq < stored {
		d.log.Warn(ctx, "ignoring cursor regression", "remote", remote, "direction", string(dir), "stored", stored, "offered", seq)
		return nil
	}
	if seq == stored {
		return nil
	}
	_, err = cur.Advance(ctx, remote, dir, seq)
	return err
}

// MarkSynced stamps a completed session.
func (d *Directory) MarkSynced(ctx context.Context, id string) error {
	return d.repos.Devices(d.db).MarkSynced(ctx, id, d.now().UTC())
}

// SetReachability stores a probe result and notifies subscribers when the
// value changed.
func (d *Directory) SetReachability(ctx context.Context, id string, r models.Reachability) error {
	desc, err := d.repos.Devices(d.db).Get(ctx, id)
	if err != nil {
		return err
	}
	var seen time.Time
	if r != models.Unreachable {
		seen = d.now().UTC()
	}
	if err := d.repos.Devices(d.db).SetReachability(ctx, id, r, seen); err != nil {
		return err
	}
	if desc.Reachability != r {
		d.log.Info(ctx, "reachability changed", "device", id, "from", desc.Reachability.String(), "to", r.String())
		d.publish(Change{DeviceID: id, Role: desc.Role, Reachability: r})
	}
	return nil
}

// Subscribe returns a channel of reachability changes. Slow subscribers
// miss changes rather than block the prober.
func (d *Directory) Subscribe(buffer int) <-chan Change {
	ch := make(chan Change, buffer)
	d.mu.Lock()
	d.subscribers = append(d.subscribers, ch)
	d.mu.Unlock()
	return ch
}

func (d *Directory) publish(c Change) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ch := range d.subscribers {
		select {
		case ch <- c:
		default:
		}
	}
}

// Touch marks a device as just seen through an incoming session.
func (d *Directory) Touch(ctx context.Context, desc *models.DeviceDescriptor) error {
	desc.LastSeenAt = d.now().UTC()
	if err := d.Upsert(ctx, desc); err != nil {
		return err
	}
	err := d.SetReachability(ctx, desc.DeviceID, models.ReachabilityFor(desc.Role))
	if errors.Is(err, common.ErrNotFound) {
		return nil
	}
	return err
}

func pending(highest, sent uint64) uint64 {
	if sent >= highest {
		return 0
	}
	return highest - sent
}
