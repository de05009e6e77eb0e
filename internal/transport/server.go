package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/auth"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/models"
	"github.com/dmitrijs2005/fieldsync/internal/session"
	"github.com/dmitrijs2005/fieldsync/internal/wire"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
)

type Server struct {
	address       string
	local         *session.Local
	cfg           session.Config
	logger        logging.Logger
	acquire       func(deviceID string) (func(), bool)
	jwtSecret     []byte
	tokenValidity time.Duration
	now           func() time.Time
}

type ServerOption func(*Server)

// WithAcquire shares the per-device session slot with the local engine.
func WithAcquire(fn func(deviceID string) (func(), bool)) ServerOption {
	return func(s *Server) { s.acquire = fn }
}

// WithTokens turns the server into a registration authority: Register
// issues tokens and Exchange requires one.
func WithTokens(secret string, validity time.Duration) ServerOption {
	return func(s *Server) {
		s.jwtSecret = []byte(secret)
		s.tokenValidity = validity
	}
}

func NewServer(address string, local *session.Local, cfg session.Config, l logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		address: address,
		local:   local,
		cfg:     cfg,
		logger:  l.With("module", "grpc_server"),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run listens on the configured address until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is done.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer(
		grpc.ChainStreamInterceptor(s.accessTokenInterceptor),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    keepaliveTime,
			Timeout: keepaliveTimeout,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             keepaliveTime / 2,
			PermitWithoutStream: true,
		}),
	)
	srv.RegisterService(&ServiceDesc, s)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil {
		return err
	}
	return nil
}

func (s *Server) Ping(ctx context.Context, req *wire.PingRequest) (*wire.PingResponse, error) {
	// a ping from a known device proves it is around
	if desc, err := s.local.Directory.Get(ctx, req.DeviceID); err == nil {
		desc.LastSeenAt = s.now()
		if err := s.local.Directory.Upsert(ctx, desc); err != nil {
			s.logger.Warn(ctx, "record ping", "device", req.DeviceID, "error", err)
		}
	}
	return &wire.PingResponse{DeviceID: s.local.DeviceID, Role: string(s.local.Role)}, nil
}

func (s *Server) Register(ctx context.Context, req *wire.RegisterRequest) (*wire.RegisterResponse, error) {
	if s.jwtSecret == nil {
		return nil, status.Error(codes.Unimplemented, "registration is handled by the facility")
	}
	if req.DeviceID == "" {
		return nil, status.Error(codes.InvalidArgument, "device id is required")
	}
	if req.DeviceID == s.local.DeviceID {
		return nil, status.Error(codes.InvalidArgument, "device id is taken by the facility")
	}

	// the facility is the only node ranked online; nobody registers as one
	role := models.Role(req.Role)
	switch role {
	case "":
		role = models.RoleFieldWorker
	case models.RoleFieldWorker:
	default:
		return nil, status.Errorf(codes.PermissionDenied, "cannot register as %q", req.Role)
	}
	if err := s.checkReregistration(ctx, req); err != nil {
		return nil, err
	}

	desc := &models.DeviceDescriptor{
		DeviceID:   req.DeviceID,
		Role:       role,
		Address:    req.Address,
		LastSeenAt: s.now(),
	}
	if err := s.local.Directory.Upsert(ctx, desc); err != nil {
		return nil, toStatus(err)
	}
	if err := s.local.Directory.SetReachability(ctx, desc.DeviceID, models.ReachabilityFor(role)); err != nil {
		return nil, toStatus(err)
	}

	token, expires, err := auth.GenerateToken(req.DeviceID, string(role), s.jwtSecret, s.tokenValidity)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	s.logger.Info(ctx, "device registered", "device", req.DeviceID, "role", string(role))
	return &wire.RegisterResponse{
		FacilityID:  s.local.DeviceID,
		Token:       token,
		ExpiresAtMs: expires.UnixMilli(),
	}, nil
}

// checkReregistration lets a known device register again from the address
// it used before, or from anywhere with a valid token issued to it.
func (s *Server) checkReregistration(ctx context.Context, req *wire.RegisterRequest) error {
	known, err := s.local.Directory.Get(ctx, req.DeviceID)
	if errors.Is(err, common.ErrNotFound) {
		return nil
	}
	if err != nil {
		return toStatus(err)
	}
	if known.Role == models.RoleFacility {
		return status.Errorf(codes.PermissionDenied, "%s is a facility", req.DeviceID)
	}
	if known.Address == "" || known.Address == req.Address {
		return nil
	}
	if token := accessToken(ctx); token != "" {
		if claims, err := auth.ParseToken(token, s.jwtSecret); err == nil && claims.DeviceID() == req.DeviceID {
			return nil
		}
	}
	return status.Errorf(codes.PermissionDenied, "%s is registered from another address", req.DeviceID)
}

func (s *Server) Exchange(stream grpc.BidiStreamingServer[wire.Frame, wire.Frame]) error {
	ctx := stream.Context()
	err := session.Serve(ctx, stream, s.local, s.cfg, session.ServeOptions{
		Authorize: s.authorize,
		Acquire:   s.acquire,
	})
	if err != nil {
		s.logger.Warn(ctx, "exchange failed", "error", err)
		return toStatus(err)
	}
	return nil
}

// authorize checks that the caller holds a token issued to the device named
// in Hello. Without a secret every caller is accepted.
func (s *Server) authorize(ctx context.Context, h *wire.Hello) error {
	if s.jwtSecret == nil {
		return nil
	}
	claims, ok := claimsFrom(ctx)
	if !ok {
		if h.Token == "" {
			return fmt.Errorf("%w: no token", common.ErrUnauthorized)
		}
		c, err := auth.ParseToken(h.Token, s.jwtSecret)
		if err != nil {
			return fmt.Errorf("%w: %w", common.ErrUnauthorized, err)
		}
		claims = c
	}
	if claims.DeviceID() != h.DeviceID {
		return fmt.Errorf("%w: token issued to %s", common.ErrUnauthorized, claims.DeviceID())
	}
	return nil
}
