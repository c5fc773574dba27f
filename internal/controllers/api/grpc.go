package api

import (
	"context"
	"encoding/json"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Fully qualified gRPC names.
const (
	TelemetryServiceName        = "simtelemetry.Telemetry"
	GetSnapshotMethod           = "/" + TelemetryServiceName + "/GetSnapshot"
	StreamSnapshotsMethod       = "/" + TelemetryServiceName + "/StreamSnapshots"
	streamSnapshotsStreamName   = "StreamSnapshots"
	telemetryServiceDescription = "simtelemetry.proto"
)

// TelemetryServer is the gRPC telemetry service. Messages are
// google.protobuf.Struct holding the same JSON the REST API serves.
type TelemetryServer interface {
	GetSnapshot(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	StreamSnapshots(*emptypb.Empty, Telemetry_StreamSnapshotsServer) error
}

// Telemetry_StreamSnapshotsServer is the server side of StreamSnapshots.
type Telemetry_StreamSnapshotsServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type streamSnapshotsServer struct {
	grpc.ServerStream
}

func (s *streamSnapshotsServer) Send(m *structpb.Struct) error {
	return s.ServerStream.SendMsg(m)
}

// TelemetryServiceDesc describes the service for registration.
var TelemetryServiceDesc = grpc.ServiceDesc{
	ServiceName: TelemetryServiceName,
	HandlerType: (*TelemetryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetSnapshot", Handler: getSnapshotHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: streamSnapshotsStreamName, Handler: streamSnapshotsHandler, ServerStreams: true},
	},
	Metadata: telemetryServiceDescription,
}

// RegisterTelemetryServer registers srv with s.
func RegisterTelemetryServer(s grpc.ServiceRegistrar, srv TelemetryServer) {
	s.RegisterService(&TelemetryServiceDesc, srv)
}

func getSnapshotHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TelemetryServer).GetSnapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetSnapshotMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TelemetryServer).GetSnapshot(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func streamSnapshotsHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(TelemetryServer).StreamSnapshots(in, &streamSnapshotsServer{stream})
}

type telemetryServer struct {
	ctrl *Controller
}

func (s *telemetryServer) GetSnapshot(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(s.ctrl.telemetry.Latest())
}

func (s *telemetryServer) StreamSnapshots(_ *emptypb.Empty, stream Telemetry_StreamSnapshotsServer) error {
	records, unsubscribe := s.ctrl.telemetry.Subscribe()
	defer unsubscribe()

	var last time.Time
	for {
		select {
		case r, ok := <-records:
			if !ok {
				return nil
			}
			now := time.Now()
			if now.Sub(last) < s.ctrl.streamInterval {
				continue
			}
			last = now

			msg, err := toStruct(StreamMessage{Record: r, Status: s.ctrl.telemetry.Status()})
			if err != nil {
				return err
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		case <-s.ctrl.ctx.Done():
			return status.Error(codes.Unavailable, "server shutting down")
		}
	}
}

// toStruct converts v to a Struct by way of its JSON encoding.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding snapshot: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encoding snapshot: %v", err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding snapshot: %v", err)
	}
	return s, nil
}
