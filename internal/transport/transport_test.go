package transport

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/changelog"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/directory"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/models"
	"github.com/dmitrijs2005/fieldsync/internal/reconcile"
	"github.com/dmitrijs2005/fieldsync/internal/repositories/repomanager"
	"github.com/dmitrijs2005/fieldsync/internal/repositories/repotest"
	"github.com/dmitrijs2005/fieldsync/internal/session"
	"github.com/dmitrijs2005/fieldsync/internal/store"
	"github.com/dmitrijs2005/fieldsync/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const bufTarget = "passthrough:///bufnet"

func newLocal(t *testing.T, id string, role models.Role) *session.Local {
	t.Helper()
	db := repotest.SQLite(t)
	rm := repomanager.NewSQLiteRepositoryManager()
	log := changelog.New(db, rm, id, logging.Nop())
	return &session.Local{
		DeviceID:  id,
		Role:      role,
		Store:     store.New(db, rm, log, reconcile.NewPolicy(nil), logging.Nop()),
		Log:       log,
		Directory: directory.New(db, rm, id, log, logging.Nop()),
		Logger:    logging.Nop(),
	}
}

// serve starts srv on an in-memory listener and returns a dial option
// reaching it.
func serve(t *testing.T, srv *Server) grpc.DialOption {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Error("server did not stop")
		}
	})
	return grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
}

func newClient(t *testing.T, deviceID string, token TokenSource, dial grpc.DialOption) *Client {
	t.Helper()
	c := NewClient(deviceID, token, dial)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func syncOver(t *testing.T, c *Client, local *session.Local, target *models.DeviceDescriptor) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := session.Open(ctx, c, local, target, session.DefaultConfig())
	if err != nil {
		return err
	}
	defer s.Close()
	for _, err := range s.Exchange(ctx) {
		if err != nil {
			return err
		}
	}
	return nil
}

func putVisit(t *testing.T, l *session.Local, id string) {
	t.Helper()
	_, err := l.Store.Put(context.Background(), &models.Record{ID: id, Type: models.RecordTypeVisit, Payload: []byte(id)}, 0)
	require.NoError(t, err)
}

func TestPing(t *testing.T) {
	f := newLocal(t, "phc", models.RoleFacility)
	dial := serve(t, NewServer("", f, session.DefaultConfig(), logging.Nop()))
	c := newClient(t, "dev-A", nil, dial)

	resp, err := c.PingInfo(context.Background(), bufTarget)
	require.NoError(t, err)
	assert.Equal(t, "phc", resp.DeviceID)
	assert.Equal(t, string(models.RoleFacility), resp.Role)
	require.NoError(t, c.Ping(context.Background(), bufTarget))
}

func TestRegisterThenExchange(t *testing.T) {
	f := newLocal(t, "phc", models.RoleFacility)
	a := newLocal(t, "dev-A", models.RoleFieldWorker)
	dial := serve(t, NewServer("", f, session.DefaultConfig(), logging.Nop(), WithTokens("secret", time.Hour)))
	ctx := context.Background()

	var token string
	c := newClient(t, "dev-A", func(context.Context, *models.DeviceDescriptor) (string, error) { return token, nil }, dial)

	resp, err := c.Register(ctx, bufTarget, &wire.RegisterRequest{DeviceID: "dev-A", Role: string(models.RoleFieldWorker), Address: "10.0.0.7:7001"})
	require.NoError(t, err)
	assert.Equal(t, "phc", resp.FacilityID)
	assert.NotEmpty(t, resp.Token)
	assert.Greater(t, resp.ExpiresAtMs, time.Now().UnixMilli())
	token = resp.Token

	desc, err := f.Directory.Get(ctx, "dev-A")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.7:7001", desc.Address)
	assert.Equal(t, models.PeerReachable, desc.Reachability)

	putVisit(t, a, "v1")
	require.NoError(t, syncOver(t, c, a, &models.DeviceDescriptor{DeviceID: "phc", Role: models.RoleFacility, Address: bufTarget}))

	got, err := f.Store.Get(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "dev-A", got.OriginDevice)
}

func TestRegister_Restrictions(t *testing.T) {
	f := newLocal(t, "phc", models.RoleFacility)
	dial := serve(t, NewServer("", f, session.DefaultConfig(), logging.Nop(), WithTokens("secret", time.Hour)))
	ctx := context.Background()
	c := newClient(t, "dev-A", nil, dial)

	first, err := c.Register(ctx, bufTarget, &wire.RegisterRequest{DeviceID: "dev-A", Address: "10.0.0.7:7001"})
	require.NoError(t, err)

	tests := []struct {
		name  string
		ctx   context.Context
		req   *wire.RegisterRequest
		allow bool
	}{
		{name: "facility role", ctx: ctx, req: &wire.RegisterRequest{DeviceID: "dev-X", Role: string(models.RoleFacility), Address: "10.0.0.9:1"}},
		{name: "unknown role", ctx: ctx, req: &wire.RegisterRequest{DeviceID: "dev-X", Role: "admin"}},
		{name: "facility id", ctx: ctx, req: &wire.RegisterRequest{DeviceID: "phc"}},
		{name: "same address again", ctx: ctx, req: &wire.RegisterRequest{DeviceID: "dev-A", Address: "10.0.0.7:7001"}, allow: true},
		{name: "other address without token", ctx: ctx, req: &wire.RegisterRequest{DeviceID: "dev-A", Address: "10.0.0.66:7001"}},
		{
			name: "other address with foreign token",
			ctx:  WithAccessToken(ctx, "not.a.jwt"),
			req:  &wire.RegisterRequest{DeviceID: "dev-A", Address: "10.0.0.66:7001"},
		},
		{
			name:  "moved with its token",
			ctx:   WithAccessToken(ctx, first.Token),
			req:   &wire.RegisterRequest{DeviceID: "dev-A", Address: "10.0.0.8:7001"},
			allow: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Register(tt.ctx, bufTarget, tt.req)
			if tt.allow {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
		})
	}

	desc, err := f.Directory.Get(ctx, "dev-A")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.8:7001", desc.Address)
	assert.Equal(t, models.RoleFieldWorker, desc.Role)
	_, err = f.Directory.Get(ctx, "dev-X")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestExchange_TokenChecks(t *testing.T) {
	f := newLocal(t, "phc", models.RoleFacility)
	dial := serve(t, NewServer("", f, session.DefaultConfig(), logging.Nop(), WithTokens("secret", time.Hour)))
	ctx := context.Background()

	registrar := newClient(t, "dev-B", nil, dial)
	resp, err := registrar.Register(ctx, bufTarget, &wire.RegisterRequest{DeviceID: "dev-B"})
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "missing", token: ""},
		{name: "garbage", token: "not.a.jwt"},
		{name: "issued to another device", token: resp.Token},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newLocal(t, "dev-A", models.RoleFieldWorker)
			c := newClient(t, "dev-A", func(context.Context, *models.DeviceDescriptor) (string, error) { return tt.token, nil }, dial)

			err := syncOver(t, c, a, &models.DeviceDescriptor{DeviceID: "phc", Address: bufTarget})
			require.Error(t, err)
			assert.ErrorIs(t, err, common.ErrUnauthorized)
			assert.ErrorIs(t, err, common.ErrSessionFailed)
		})
	}
}

func TestExchange_TokenInHello(t *testing.T) {
	f := newLocal(t, "phc", models.RoleFacility)
	dial := serve(t, NewServer("", f, session.DefaultConfig(), logging.Nop(), WithTokens("secret", time.Hour)))
	ctx := context.Background()

	c := newClient(t, "dev-A", nil, dial)
	resp, err := c.Register(ctx, bufTarget, &wire.RegisterRequest{DeviceID: "dev-A"})
	require.NoError(t, err)

	a := newLocal(t, "dev-A", models.RoleFieldWorker)
	a.Token = func(context.Context, *models.DeviceDescriptor) (string, error) { return resp.Token, nil }
	putVisit(t, a, "v1")
	require.NoError(t, syncOver(t, c, a, &models.DeviceDescriptor{DeviceID: "phc", Address: bufTarget}))
}

func TestExchange_PeersWithoutTokens(t *testing.T) {
	b := newLocal(t, "dev-B", models.RoleFieldWorker)
	a := newLocal(t, "dev-A", models.RoleFieldWorker)
	dial := serve(t, NewServer("", b, session.DefaultConfig(), logging.Nop()))
	c := newClient(t, "dev-A", nil, dial)

	putVisit(t, a, "v1")
	putVisit(t, b, "v2")
	require.NoError(t, syncOver(t, c, a, &models.DeviceDescriptor{DeviceID: "dev-B", Address: bufTarget}))

	for _, l := range []*session.Local{a, b} {
		for _, id := range []string{"v1", "v2"} {
			_, err := l.Store.Get(context.Background(), id)
			require.NoError(t, err, "%s on %s", id, l.DeviceID)
		}
	}

	_, err := c.Register(context.Background(), bufTarget, &wire.RegisterRequest{DeviceID: "dev-A"})
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}

func TestExchange_BusyTarget(t *testing.T) {
	b := newLocal(t, "dev-B", models.RoleFieldWorker)
	busy := func(string) (func(), bool) { return nil, false }
	dial := serve(t, NewServer("", b, session.DefaultConfig(), logging.Nop(), WithAcquire(busy)))
	c := newClient(t, "dev-A", nil, dial)

	err := syncOver(t, c, newLocal(t, "dev-A", models.RoleFieldWorker), &models.DeviceDescriptor{DeviceID: "dev-B", Address: bufTarget})
	assert.ErrorIs(t, err, common.ErrBusy)
}

func TestDial_Unreachable(t *testing.T) {
	a := newLocal(t, "dev-A", models.RoleFieldWorker)
	broken := grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
		return nil, errors.New("out of range")
	})
	c := newClient(t, "dev-A", nil, broken)

	err := syncOver(t, c, a, &models.DeviceDescriptor{DeviceID: "dev-B", Address: bufTarget})
	assert.ErrorIs(t, err, common.ErrUnreachable)

	err = syncOver(t, c, a, &models.DeviceDescriptor{DeviceID: "dev-B"})
	assert.ErrorIs(t, err, common.ErrUnreachable, "no address")

	assert.ErrorIs(t, c.Ping(context.Background(), bufTarget), common.ErrUnreachable)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		code codes.Code
		want error
	}{
		{codes.Unavailable, common.ErrUnreachable},
		{codes.DeadlineExceeded, common.ErrUnreachable},
		{codes.Unauthenticated, common.ErrUnauthorized},
		{codes.ResourceExhausted, common.ErrBusy},
		{codes.FailedPrecondition, common.ErrProtocol},
		{codes.Canceled, common.ErrCancelled},
	}
	for _, tt := range tests {
		err := mapError(status.Error(tt.code, "boom"))
		assert.ErrorIs(t, err, tt.want, tt.code.String())
		assert.Contains(t, err.Error(), "boom")
	}

	plain := errors.New("plain")
	assert.Equal(t, plain, mapError(plain))
	assert.Equal(t, codes.Internal, status.Code(mapError(status.Error(codes.Internal, "x"))))
	assert.NoError(t, mapError(nil))
}

func TestToStatus(t *testing.T) {
	assert.Equal(t, codes.Unauthenticated, status.Code(toStatus(common.ErrTokenExpired)))
	assert.Equal(t, codes.ResourceExhausted, status.Code(toStatus(common.ErrBusy)))
	assert.Equal(t, codes.FailedPrecondition, status.Code(toStatus(common.ErrCursorRegressed)))
	assert.Equal(t, codes.Internal, status.Code(toStatus(errors.New("disk"))))
}
