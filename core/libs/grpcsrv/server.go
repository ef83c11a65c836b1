package grpcsrv

import (
	"context"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const healthPrefix = "/grpc.health.v1.Health/"

// levelFor keeps probe traffic and successful calls out of info logs and
// raises server-side failures.
func levelFor(method string, code codes.Code) slog.Level {
	switch code {
	case codes.OK:
		return slog.LevelDebug
	case codes.Internal, codes.Unknown, codes.DataLoss, codes.Unavailable:
		return slog.LevelError
	case codes.DeadlineExceeded, codes.ResourceExhausted:
		return slog.LevelWarn
	}
	if strings.HasPrefix(method, healthPrefix) {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func requestAttrs(ctx context.Context, method string, start time.Time, err error) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("method", method),
		slog.Duration("duration", time.Since(start)),
		slog.String("code", status.Code(err).String()),
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		attrs = append(attrs, slog.String("peer", p.Addr.String()))
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get("x-request-id"); len(ids) > 0 {
			attrs = append(attrs, slog.String("request_id", ids[0]))
		}
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", status.Convert(err).Message()))
	}
	return attrs
}

func UnaryLoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.LogAttrs(ctx, levelFor(info.FullMethod, status.Code(err)), "grpc request",
			requestAttrs(ctx, info.FullMethod, start, err)...)
		return resp, err
	}
}

func StreamLoggingInterceptor(logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		logger.LogAttrs(ss.Context(), levelFor(info.FullMethod, status.Code(err)), "grpc stream",
			requestAttrs(ss.Context(), info.FullMethod, start, err)...)
		return err
	}
}

func recovered(logger *slog.Logger, method string, r any) error {
	logger.Error("panic recovered in gRPC handler",
		slog.String("method", method),
		slog.Any("panic", r),
		slog.String("stack", string(debug.Stack())),
	)
	return status.Errorf(codes.Internal, "internal server error")
}

func RecoveryUnaryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = recovered(logger, info.FullMethod, r)
			}
		}()
		return handler(ctx, req)
	}
}

func RecoveryStreamInterceptor(logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = recovered(logger, info.FullMethod, r)
			}
		}()
		return handler(srv, ss)
	}
}

// NewServer builds a gRPC server that logs every call and turns handler
// panics into Internal errors. Recovery runs innermost so the logged code
// reflects it.
func NewServer(logger *slog.Logger, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts,
		grpc.ChainUnaryInterceptor(
			UnaryLoggingInterceptor(logger),
			RecoveryUnaryInterceptor(logger),
		),
		grpc.ChainStreamInterceptor(
			StreamLoggingInterceptor(logger),
			RecoveryStreamInterceptor(logger),
		),
	)
	return grpc.NewServer(opts...)
}
