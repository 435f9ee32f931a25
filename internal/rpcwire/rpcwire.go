// Package rpcwire defines the remote-function RPC contract shared by the
// consumer's RPC provider and the reference function server.
//
// Messages are JSON-encoded and carried over gRPC with the registered "json"
// codec (content-subtype "json"), so no generated protobuf stubs are needed.
// All nested values travel as JSON strings, mirroring the wire shape of the
// upstream Execute RPC.
package rpcwire

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "modsieve.FunctionService"

// ExecuteFullMethod is the full method path of the Execute RPC.
const ExecuteFullMethod = "/" + ServiceName + "/Execute"

// CodecName is the content-subtype the JSON codec registers under.
const CodecName = "json"

// ExecuteRequest asks the function service to run a named function.
type ExecuteRequest struct {
	FunctionName string `json:"function_name"`
	DataJSON     string `json:"data_json"`
	ArgsJSON     string `json:"args_json"`
	KwargsJSON   string `json:"kwargs_json"`
}

// ExecuteResponse carries the function result or a failure description.
type ExecuteResponse struct {
	Success      bool   `json:"success"`
	ResultJSON   string `json:"result_json"`
	ErrorMessage string `json:"error_message"`
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// FunctionServer is the server-side contract of the function service.
type FunctionServer interface {
	Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error)
}

func executeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ExecuteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FunctionServer).Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: ExecuteFullMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(FunctionServer).Execute(ctx, req.(*ExecuteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc is the hand-rolled gRPC service descriptor for FunctionServer.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FunctionServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Execute",
			Handler:    executeHandler,
		},
	},
}

// RegisterFunctionServer registers srv on s.
func RegisterFunctionServer(s *grpc.Server, srv FunctionServer) {
	s.RegisterService(&ServiceDesc, srv)
}
