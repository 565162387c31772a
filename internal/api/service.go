package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "mirador.remediation.v1.RemediationEngine"

// Method names of the RemediationEngine service.
const (
	MethodAnalyze         = "Analyze"
	MethodRemediate       = "Remediate"
	MethodApprovePlan     = "ApprovePlan"
	MethodCancelPlan      = "CancelPlan"
	MethodGetPlan         = "GetPlan"
	MethodGetActionStatus = "GetActionStatus"
	MethodListExecutions  = "ListExecutions"
	MethodHealthCheck     = "HealthCheck"
)

// FullMethod returns the gRPC path of a method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// RemediationEngineServer is the server API of the RemediationEngine service. Requests and
// responses are google.protobuf.Struct documents whose shapes are described by the request
// and response types in this package.
type RemediationEngineServer interface {
	Analyze(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Remediate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ApprovePlan(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelPlan(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPlan(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetActionStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListExecutions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	HealthCheck(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(RemediationEngineServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call unaryCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(RemediationEngineServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(RemediationEngineServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc describes the RemediationEngine service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RemediationEngineServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: MethodAnalyze, Handler: unaryHandler(MethodAnalyze, RemediationEngineServer.Analyze)},
		{MethodName: MethodRemediate, Handler: unaryHandler(MethodRemediate, RemediationEngineServer.Remediate)},
		{MethodName: MethodApprovePlan, Handler: unaryHandler(MethodApprovePlan, RemediationEngineServer.ApprovePlan)},
		{MethodName: MethodCancelPlan, Handler: unaryHandler(MethodCancelPlan, RemediationEngineServer.CancelPlan)},
		{MethodName: MethodGetPlan, Handler: unaryHandler(MethodGetPlan, RemediationEngineServer.GetPlan)},
		{MethodName: MethodGetActionStatus, Handler: unaryHandler(MethodGetActionStatus, RemediationEngineServer.GetActionStatus)},
		{MethodName: MethodListExecutions, Handler: unaryHandler(MethodListExecutions, RemediationEngineServer.ListExecutions)},
		{MethodName: MethodHealthCheck, Handler: unaryHandler(MethodHealthCheck, RemediationEngineServer.HealthCheck)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mirador/remediation/v1/remediation.proto",
}

// RegisterRemediationEngineServer registers srv with s.
func RegisterRemediationEngineServer(s grpc.ServiceRegistrar, srv RemediationEngineServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client calls the RemediationEngine service over a client connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a client connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call invokes method with req encoded as a Struct and decodes the reply into resp.
func (c *Client) Call(ctx context.Context, method string, req, resp any, opts ...grpc.CallOption) error {
	in, err := Encode(req)
	if err != nil {
		return err
	}
	out, err := c.Invoke(ctx, method, in, opts...)
	if err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	return decode(out, resp)
}

// Invoke sends a raw Struct request.
func (c *Client) Invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
