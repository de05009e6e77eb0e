package transport

import (
	"context"

	"github.com/dmitrijs2005/fieldsync/internal/auth"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type ctxKey string

const claimsKey ctxKey = "claims"

func claimsFrom(ctx context.Context) (*auth.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*auth.Claims)
	return c, ok
}

func accessToken(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(common.AccessTokenHeaderName); len(values) > 0 {
			return values[0]
		}
	}
	return ""
}

type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context { return w.ctx }

// accessTokenInterceptor validates a token sent in metadata and exposes its
// claims to the handler. Streams without one pass through; the session
// then checks the token carried in Hello.
func (s *Server) accessTokenInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	if s.jwtSecret == nil || info.FullMethod != methodExchange {
		return handler(srv, ss)
	}

	token := accessToken(ss.Context())
	if token == "" {
		return handler(srv, ss)
	}

	claims, err := auth.ParseToken(token, s.jwtSecret)
	if err != nil {
		return status.Error(codes.Unauthenticated, err.Error())
	}

	ctx := context.WithValue(ss.Context(), claimsKey, claims)
	return handler(srv, &wrappedStream{ServerStream: ss, ctx: ctx})
}
