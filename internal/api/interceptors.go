package api

import (
	"context"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const requestIDMetadataKey = "x-request-id"

// LoggingUnaryInterceptor writes one access line per call, tagged with the
// request id echoed back in the response header and with task fields
// taken from the TaskService payloads.
func LoggingUnaryInterceptor(logger *zerolog.Logger) grpc.UnaryServerInterceptor {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "grpc").Logger()
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		requestID := requestIDFromMetadata(ctx)
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDMetadataKey, requestID))

		start := time.Now()
		resp, err := handler(ctx, req)

		ev := base.Info()
		if err != nil {
			ev = base.Warn().Err(err)
		}
		remote := peerAddr(ctx)
		if remote == "" {
			remote = unknownCaller
		}
		addTaskFields(ev, info.FullMethod, req, resp).
			Str("request_id", requestID).
			Str("method", info.FullMethod).
			Str("remote", remote).
			Str("code", status.Code(err).String()).
			Dur("duration", time.Since(start)).
			Msg("grpc request")

		return resp, err
	}
}

func addTaskFields(ev *zerolog.Event, method string, req, resp any) *zerolog.Event {
	in, _ := req.(*structpb.Struct)
	out, _ := resp.(*structpb.Struct)

	switch method {
	case taskServiceScheduleTask:
		if f := in.GetFields(); f != nil {
			ev = ev.Str("task_id", f["id"].GetStringValue()).Str("user_id", f["userId"].GetStringValue())
		}
		if f := out.GetFields(); f != nil {
			ev = ev.Bool("admitted", f["admitted"].GetBoolValue())
		}
	case taskServiceReconcile:
		if f := out.GetFields(); f != nil {
			ev = ev.
				Int("fetched", int(f["fetched"].GetNumberValue())).
				Int("admitted", int(f["admitted"].GetNumberValue())).
				Int("evicted", int(f["evicted"].GetNumberValue())).
				Int("removed", int(f["removed"].GetNumberValue())).
				Int("skipped", int(f["skipped"].GetNumberValue())).
				Bool("cleared", f["cleared"].GetBoolValue())
		}
	case taskServiceListTasks:
		if f := out.GetFields(); f != nil {
			ev = ev.Int("tasks", len(f["tasks"].GetListValue().GetValues()))
		}
	}
	return ev
}

func requestIDFromMetadata(ctx context.Context) string {
	md, _ := metadata.FromIncomingContext(ctx)
	if id := firstValue(md, requestIDMetadataKey); id != "" {
		return id
	}
	return uuid.NewString()
}

// RecoveryUnaryInterceptor turns a handler panic into codes.Internal.
func RecoveryUnaryInterceptor(logger *zerolog.Logger) grpc.UnaryServerInterceptor {
	log := zerolog.Nop()
	if logger != nil {
		log = *logger
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Interface("panic", r).
					Str("method", info.FullMethod).
					Str("stack", strings.TrimSpace(string(debug.Stack()))).
					Msg("grpc handler panicked")
				resp, err = nil, status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}
