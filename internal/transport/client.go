package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/models"
	"github.com/dmitrijs2005/fieldsync/internal/session"
	"github.com/dmitrijs2005/fieldsync/internal/wire"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
)

// Keepalive settings. A peer that walks out of radio range stops answering
// pings and its connection is closed, failing any stream stuck on it.
const (
	keepaliveTime    = 20 * time.Second
	keepaliveTimeout = 10 * time.Second
)

// TokenSource returns the access token to present to target, or "".
type TokenSource func(ctx context.Context, target *models.DeviceDescriptor) (string, error)

// Client reaches other nodes. It keeps one connection per address.
type Client struct {
	deviceID string
	opts     []grpc.DialOption
	token    TokenSource

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewClient returns a client identifying itself as deviceID. Extra dial
// options are appended to the defaults.
func NewClient(deviceID string, token TokenSource, opts ...grpc.DialOption) *Client {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(wire.CodecName)),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                keepaliveTime,
			Timeout:             keepaliveTimeout,
			PermitWithoutStream: true,
		}),
	}
	return &Client{
		deviceID: deviceID,
		opts:     append(base, opts...),
		token:    token,
		conns:    make(map[string]*grpc.ClientConn),
	}
}

// WithAccessToken attaches token to outgoing calls made with ctx.
func WithAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Set(common.AccessTokenHeaderName, token)
	return metadata.NewOutgoingContext(ctx, md)
}

func (c *Client) conn(address string) (*grpc.ClientConn, error) {
	if address == "" {
		return nil, fmt.Errorf("%w: no address", common.ErrUnreachable)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cc, ok := c.conns[address]; ok {
		return cc, nil
	}
	cc, err := grpc.NewClient(address, c.opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrUnreachable, err)
	}
	c.conns[address] = cc
	return cc, nil
}

// Ping checks that a node answers at address.
func (c *Client) Ping(ctx context.Context, address string) error {
	_, err := c.PingInfo(ctx, address)
	return err
}

// PingInfo returns who answers at address.
func (c *Client) PingInfo(ctx context.Context, address string) (*wire.PingResponse, error) {
	cc, err := c.conn(address)
	if err != nil {
		return nil, err
	}
	resp := new(wire.PingResponse)
	if err := cc.Invoke(ctx, methodPing, &wire.PingRequest{DeviceID: c.deviceID}, resp); err != nil {
		return nil, mapError(err)
	}
	return resp, nil
}

// Register introduces this device to the facility at address.
func (c *Client) Register(ctx context.Context, address string, req *wire.RegisterRequest) (*wire.RegisterResponse, error) {
	cc, err := c.conn(address)
	if err != nil {
		return nil, err
	}
	resp := new(wire.RegisterResponse)
	if err := cc.Invoke(ctx, methodRegister, req, resp); err != nil {
		return nil, mapError(err)
	}
	return resp, nil
}

// Dial opens an Exchange stream to target. The stream lives until Close or
// until ctx is done.
func (c *Client) Dial(ctx context.Context, target *models.DeviceDescriptor) (session.Conn, error) {
	cc, err := c.conn(target.Address)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	if c.token != nil {
		token, err := c.token(ctx, target)
		if err != nil {
			cancel()
			return nil, err
		}
		if token != "" {
			ctx = WithAccessToken(ctx, token)
		}
	}

	stream, err := cc.NewStream(ctx, &ServiceDesc.Streams[0], methodExchange)
	if err != nil {
		cancel()
		return nil, mapError(err)
	}
	return &clientStream{
		stream: &grpc.GenericClientStream[wire.Frame, wire.Frame]{ClientStream: stream},
		cancel: cancel,
	}, nil
}

// Close drops every cached connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for addr, cc := range c.conns {
		_ = cc.Close()
		delete(c.conns, addr)
	}
	return nil
}

type clientStream struct {
	stream *grpc.GenericClientStream[wire.Frame, wire.Frame]
	cancel context.CancelFunc
	once   sync.Once
	sendMu sync.Mutex
}

func (s *clientStream) Send(f *wire.Frame) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return mapError(s.stream.Send(f))
}

func (s *clientStream) Recv() (*wire.Frame, error) {
	f, err := s.stream.Recv()
	if err != nil {
		return nil, mapError(err)
	}
	return f, nil
}

func (s *clientStream) Close() error {
	s.once.Do(func() {
		// CloseSend must not race a Send; a Send stuck on flow control is
		// released by the cancel alone
		if s.sendMu.TryLock() {
			_ = s.stream.CloseSend()
			s.sendMu.Unlock()
		}
		s.cancel()
	})
	return nil
}
