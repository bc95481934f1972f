// Package grpcapi serves voice sessions to other services over gRPC.
//
// Messages are google.protobuf.Struct values so the service needs no
// generated stubs; field names match the WebSocket wire protocol.
package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "reelnote.voice.v1.SessionService"

const (
	methodStartSession       = "StartSession"
	methodStopSession        = "StopSession"
	methodHandleEvent        = "HandleEvent"
	methodUpdateVideoContext = "UpdateVideoContext"
	methodGetState           = "GetState"
	methodReconcile          = "Reconcile"
	methodListSessions       = "ListSessions"
)

// SessionService is the server-side contract registered under ServiceName.
type SessionService interface {
	StartSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StopSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	HandleEvent(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateVideoContext(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetState(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reconcile(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListSessions(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(SessionService, context.Context, *structpb.Struct) (*structpb.Struct, error)

// ServiceDesc describes SessionService for grpc.ServiceRegistrar.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SessionService)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(methodStartSession, SessionService.StartSession),
		unaryMethod(methodStopSession, SessionService.StopSession),
		unaryMethod(methodHandleEvent, SessionService.HandleEvent),
		unaryMethod(methodUpdateVideoContext, SessionService.UpdateVideoContext),
		unaryMethod(methodGetState, SessionService.GetState),
		unaryMethod(methodReconcile, SessionService.Reconcile),
		unaryMethod(methodListSessions, SessionService.ListSessions),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "reelnote/voice/v1/session_service.proto",
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unaryMethod(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			svc := srv.(SessionService)
			if interceptor == nil {
				return call(svc, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(svc, ctx, req.(*structpb.Struct))
			})
		},
	}
}
