package device

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/directory"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/models"
	"github.com/dmitrijs2005/fieldsync/internal/repositories/metadata"
	"github.com/dmitrijs2005/fieldsync/internal/transport"
	"github.com/dmitrijs2005/fieldsync/internal/wire"
	"github.com/sethvargo/go-retry"
)

type registerer interface {
	Register(ctx context.Context, address string, req *wire.RegisterRequest) (*wire.RegisterResponse, error)
}

// Registrar keeps this device registered with its facility: it obtains the
// access token, renews it before it runs out and hands it to sessions
// opened against the facility.
type Registrar struct {
	client       registerer
	meta         metadata.Repository
	dir          *directory.Directory
	self         *wire.RegisterRequest
	facilityAddr string
	log          logging.Logger
	now          func() time.Time

	backoffBase time.Duration
	backoffCap  time.Duration

	mu         sync.Mutex
	facilityID string
	token      string
	until      time.Time
}

func NewRegistrar(client registerer, meta metadata.Repository, dir *directory.Directory, self *wire.RegisterRequest,
	facilityAddr string, backoffBase, backoffCap time.Duration, l logging.Logger) *Registrar {
	return &Registrar{
		client:       client,
		meta:         meta,
		dir:          dir,
		self:         self,
		facilityAddr: facilityAddr,
		log:          l.With("module", "registrar"),
		now:          time.Now,
		backoffBase:  backoffBase,
		backoffCap:   backoffCap,
	}
}

// Restore loads a previous registration and points the directory at the
// configured facility address.
func (r *Registrar) Restore(ctx context.Context) error {
	id, err := r.meta.Get(ctx, metadata.KeyFacilityID)
	if err != nil {
		return err
	}
	if id == nil {
		return nil
	}
	token, err := r.meta.Get(ctx, metadata.KeyToken)
	if err != nil {
		return err
	}
	until, err := r.meta.Get(ctx, metadata.KeyTokenUntil)
	if err != nil {
		return err
	}
	ms, _ := strconv.ParseInt(string(until), 10, 64)

	r.mu.Lock()
	r.facilityID, r.token, r.until = string(id), string(token), time.UnixMilli(ms)
	r.mu.Unlock()

	return r.upsertFacility(ctx, string(id))
}

func (r *Registrar) upsertFacility(ctx context.Context, id string) error {
	desc, err := r.dir.Get(ctx, id)
	if err != nil {
		desc = &models.DeviceDescriptor{DeviceID: id}
	}
	desc.Role = models.RoleFacility
	desc.Address = r.facilityAddr
	return r.dir.Upsert(ctx, desc)
}

// Register asks the facility for a fresh token and records it. The current
// token goes along as proof of identity in case this device moved.
func (r *Registrar) Register(ctx context.Context) error {
	r.mu.Lock()
	current := r.token
	r.mu.Unlock()
	if current != "" {
		ctx = transport.WithAccessToken(ctx, current)
	}

	resp, err := r.client.Register(ctx, r.facilityAddr, r.self)
	if err != nil {
		return fmt.Errorf("register with %s: %w", r.facilityAddr, err)
	}
	if resp.FacilityID == "" || resp.Token == "" {
		return errors.New("facility answered without id or token")
	}
	until := time.UnixMilli(resp.ExpiresAtMs)

	for k, v := range map[string]string{
		metadata.KeyFacilityID: resp.FacilityID,
		metadata.KeyToken:      resp.Token,
		metadata.KeyTokenUntil: strconv.FormatInt(resp.ExpiresAtMs, 10),
	} {
		if err := r.meta.Set(ctx, k, []byte(v)); err != nil {
			return err
		}
	}

	r.mu.Lock()
	r.facilityID, r.token, r.until = resp.FacilityID, resp.Token, until
	r.mu.Unlock()

	if err := r.upsertFacility(ctx, resp.FacilityID); err != nil {
		return err
	}
	// the facility just answered
	if err := r.dir.SetReachability(ctx, resp.FacilityID, models.Online); err != nil {
		return err
	}
	r.log.Info(ctx, "registered with facility", "facility", resp.FacilityID, "valid_until", until)
	return nil
}

// renewAt is when the current token should be replaced: at 80% of its
// remaining lifetime as seen at registration, or now when there is none.
func (r *Registrar) renewAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.token == "" {
		return time.Time{}
	}
	left := r.until.Sub(r.now())
	return r.now().Add(left * 4 / 5)
}

// Run registers when needed and keeps the token fresh until ctx is done.
func (r *Registrar) Run(ctx context.Context) {
	for {
		if wait := time.Until(r.renewAt()); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}
		}

		b := retry.NewExponential(r.backoffBase)
		b = retry.WithJitterPercent(10, b)
		b = retry.WithCappedDuration(r.backoffCap, b)
		err := retry.Do(ctx, b, func(ctx context.Context) error {
			if err := r.Register(ctx); err != nil {
				r.log.Debug(ctx, "registration failed", "error", err)
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil {
			return
		}
	}
}

// Token returns the access token for sessions with the registered facility
// and "" for anyone else.
func (r *Registrar) Token(_ context.Context, target *models.DeviceDescriptor) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if target == nil || target.DeviceID != r.facilityID {
		return "", nil
	}
	return r.token, nil
}
