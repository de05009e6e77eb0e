// Package transport carries sessions, pings and registrations between
// nodes over gRPC, using the wire codec instead of generated stubs.
package transport

import (
	"context"

	"github.com/dmitrijs2005/fieldsync/internal/wire"
	"google.golang.org/grpc"
)

const ServiceName = "fieldsync.v1.SyncService"

const (
	methodPing     = "/" + ServiceName + "/Ping"
	methodRegister = "/" + ServiceName + "/Register"
	methodExchange = "/" + ServiceName + "/Exchange"
)

// SyncServer is implemented by Server.
type SyncServer interface {
	Ping(context.Context, *wire.PingRequest) (*wire.PingResponse, error)
	Register(context.Context, *wire.RegisterRequest) (*wire.RegisterResponse, error)
	Exchange(grpc.BidiStreamingServer[wire.Frame, wire.Frame]) error
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SyncServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Ping", Handler: pingHandler},
		{MethodName: "Register", Handler: registerHandler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Exchange",
			Handler:       exchangeHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "fieldsync/v1/sync",
}

func pingHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wire.PingRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SyncServer).Ping(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodPing}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SyncServer).Ping(ctx, req.(*wire.PingRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func registerHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wire.RegisterRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SyncServer).Register(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodRegister}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SyncServer).Register(ctx, req.(*wire.RegisterRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func exchangeHandler(srv any, stream grpc.ServerStream) error {
	return srv.(SyncServer).Exchange(&grpc.GenericServerStream[wire.Frame, wire.Frame]{ServerStream: stream})
}
