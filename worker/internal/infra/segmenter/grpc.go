package segmenter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/spheroseg/segpipeline/core/contour"
	"github.com/spheroseg/segpipeline/worker/internal/domain"
)

const (
	serviceName   = "segpipeline.segmenter.v1.Segmenter"
	segmentMethod = "/" + serviceName + "/Segment"
	paramsKey     = "x-seg-params"
)

// Backend is anything that turns image bytes into a probability mask.
type Backend interface {
	Segment(ctx context.Context, image []byte, params domain.Parameters) (*image.Gray, error)
}

func NewConnection(addr string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	return conn, nil
}

// GRPC calls a remote segmentation service. The image travels as a
// BytesValue, parameters as JSON metadata, and the mask comes back PNG
// encoded.
type GRPC struct {
	conn *grpc.ClientConn
}

func NewGRPC(conn *grpc.ClientConn) *GRPC {
	return &GRPC{conn: conn}
}

func (c *GRPC) Segment(ctx context.Context, img []byte, params domain.Parameters) (*image.Gray, error) {
	if len(params) > 0 {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode parameters: %w", err)
		}
		ctx = metadata.AppendToOutgoingContext(ctx, paramsKey, string(raw))
	}

	out := new(wrapperspb.BytesValue)
	if err := c.conn.Invoke(ctx, segmentMethod, wrapperspb.Bytes(img), out); err != nil {
		if status.Code(err) == codes.DeadlineExceeded {
			return nil, fmt.Errorf("segment: %w", context.DeadlineExceeded)
		}
		return nil, fmt.Errorf("segment: %w", err)
	}

	mask, err := contour.DecodeBytes(out.GetValue())
	if err != nil {
		return nil, fmt.Errorf("segment: mask: %w", err)
	}
	return mask, nil
}

// Available reports whether the channel can carry calls. It kicks an idle
// channel into connecting.
func (c *GRPC) Available() error {
	switch s := c.conn.GetState(); s {
	case connectivity.Ready, connectivity.Connecting:
		return nil
	case connectivity.Idle:
		c.conn.Connect()
		return nil
	default:
		return fmt.Errorf("segmenter channel %s", s)
	}
}

func (c *GRPC) Close() error {
	return c.conn.Close()
}

type segmentServer interface {
	segment(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

type service struct {
	backend Backend
	timeout time.Duration
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*segmentServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Segment", Handler: segmentHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "segmenter.proto",
}

func segmentHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	s := srv.(segmentServer)
	if interceptor == nil {
		return s.segment(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: segmentMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return s.segment(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// Register exposes backend as the segmentation service on srv.
func Register(srv *grpc.Server, backend Backend, timeout time.Duration) {
	srv.RegisterService(&serviceDesc, &service{backend: backend, timeout: timeout})
}

func (s *service) segment(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	var params domain.Parameters
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(paramsKey); len(vals) > 0 {
			if err := json.Unmarshal([]byte(vals[0]), &params); err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "parameters: %v", err)
			}
		}
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	mask, err := s.backend.Segment(ctx, in.GetValue(), params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, status.Error(codes.DeadlineExceeded, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, mask); err != nil {
		return nil, status.Errorf(codes.Internal, "encode mask: %v", err)
	}
	return wrapperspb.Bytes(buf.Bytes()), nil
}
