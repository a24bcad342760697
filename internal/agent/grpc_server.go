package agent

import (
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// RegisterGrpcRuntimeServer exposes rt on s as the Run RPC consumed by GrpcRuntime.
func RegisterGrpcRuntimeServer(s grpc.ServiceRegistrar, rt Runtime) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: agentServiceName,
		HandlerType: (*Runtime)(nil),
		Streams: []grpc.StreamDesc{{
			StreamName:    runMethodName,
			Handler:       runHandler,
			ServerStreams: true,
		}},
		Metadata: "sqlchat/agent/v1/agent.proto",
	}, rt)
}

func runHandler(srv any, stream grpc.ServerStream) error {
	rt := srv.(Runtime)

	req := &structpb.Struct{}
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	key, msg, err := requestFromStruct(req)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	for ev, err := range rt.Submit(stream.Context(), key, msg) {
		if err != nil {
			return statusFromError(err)
		}
		if ev == nil {
			continue
		}
		out, err := eventToStruct(ev)
		if err != nil {
			return status.Error(codes.Internal, err.Error())
		}
		if err := stream.SendMsg(out); err != nil {
			return err
		}
	}
	return nil
}

func statusFromError(err error) error {
	switch {
	case IsSessionNotFound(err):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, errMalformedRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		if st, ok := status.FromError(err); ok {
			return st.Err()
		}
		return status.Error(codes.Internal, err.Error())
	}
}
