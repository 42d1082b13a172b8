// Package api is the local control API of the daemon, served over gRPC on the
// profile's Unix socket. Messages are well-known protobuf types so the service
// needs no generated code.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "wbridge.v1.Control"

// ControlServer is the server side of the control service.
type ControlServer interface {
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListSessions(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	CreatePairing(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListPairings(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	RevokePairing(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	DisconnectSession(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Seed(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Typing(context.Context, *structpb.Struct) (*emptypb.Empty, error)
}

// unary adapts a typed method to a grpc.MethodDesc handler.
func unary[Req any, Resp any](name string, call func(ControlServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ControlServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(ControlServer), ctx, req.(*Req))
			})
		},
	}
}

// ServiceDesc describes the control service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Status", ControlServer.Status),
		unary("ListSessions", ControlServer.ListSessions),
		unary("CreatePairing", ControlServer.CreatePairing),
		unary("ListPairings", ControlServer.ListPairings),
		unary("RevokePairing", ControlServer.RevokePairing),
		unary("DisconnectSession", ControlServer.DisconnectSession),
		unary("Seed", ControlServer.Seed),
		unary("Typing", ControlServer.Typing),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "wbridge/v1/control",
}

// RegisterControlServer registers srv with s.
func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ControlClient is the client side of the control service.
type ControlClient struct {
	cc grpc.ClientConnInterface
}

// NewControlClient creates a client on cc.
func NewControlClient(cc grpc.ClientConnInterface) *ControlClient {
	return &ControlClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts ...grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ControlClient) Status(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, "Status", &emptypb.Empty{}, opts...)
}

func (c *ControlClient) ListSessions(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, "ListSessions", &emptypb.Empty{}, opts...)
}

func (c *ControlClient) CreatePairing(ctx context.Context, name string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]any{"name": name})
	if err != nil {
		return nil, err
	}
	return invoke[structpb.Struct](ctx, c.cc, "CreatePairing", in, opts...)
}

func (c *ControlClient) ListPairings(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, "ListPairings", &emptypb.Empty{}, opts...)
}

func (c *ControlClient) RevokePairing(ctx context.Context, id string, opts ...grpc.CallOption) error {
	in, err := structpb.NewStruct(map[string]any{"id": id})
	if err != nil {
		return err
	}
	_, err = invoke[emptypb.Empty](ctx, c.cc, "RevokePairing", in, opts...)
	return err
}

func (c *ControlClient) DisconnectSession(ctx context.Context, id string, opts ...grpc.CallOption) error {
	in, err := structpb.NewStruct(map[string]any{"id": id})
	if err != nil {
		return err
	}
	_, err = invoke[emptypb.Empty](ctx, c.cc, "DisconnectSession", in, opts...)
	return err
}

func (c *ControlClient) Seed(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, "Seed", &emptypb.Empty{}, opts...)
}

// Typing reports that contact identity started or stopped typing.
func (c *ControlClient) Typing(ctx context.Context, identity string, typing bool, opts ...grpc.CallOption) error {
	in, err := structpb.NewStruct(map[string]any{"identity": identity, "typing": typing})
	if err != nil {
		return err
	}
	_, err = invoke[emptypb.Empty](ctx, c.cc, "Typing", in, opts...)
	return err
}
