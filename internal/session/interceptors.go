package session

import (
	"context"
	"time"

	"github.com/huntermatuse/crowsong/internal/viewsapi"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// stampUnary overwrites the session field of outgoing requests with id().
func stampUnary(id func() int32) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		return invoker(ctx, method, viewsapi.StampSession(req, id()), reply, cc, opts...)
	}
}

// stampStream does the same for every message sent on a stream.
func stampStream(id func() int32) grpc.StreamClientInterceptor {
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		cs, err := streamer(ctx, desc, cc, method, opts...)
		if err != nil {
			return nil, err
		}
		return &stampingStream{ClientStream: cs, cci: id()}, nil
	}
}

type stampingStream struct {
	grpc.ClientStream
	cci int32
}

func (s *stampingStream) SendMsg(m any) error {
	return s.ClientStream.SendMsg(viewsapi.StampSession(m, s.cci))
}

// logUnary logs method, status code and duration. Payloads are never logged.
func logUnary(log *zap.Logger) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		start := time.Now()
		err := invoker(ctx, method, req, reply, cc, opts...)
		log.Debug("grpc",
			zap.String("method", method),
			zap.String("code", status.Code(err).String()),
			zap.Duration("dur", time.Since(start)),
		)
		return err
	}
}

func logStream(log *zap.Logger) grpc.StreamClientInterceptor {
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		cs, err := streamer(ctx, desc, cc, method, opts...)
		log.Debug("grpc stream",
			zap.String("method", method),
			zap.String("code", status.Code(err).String()),
		)
		return cs, err
	}
}
