package rpcwire

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

type echoServer struct{}

func (echoServer) Execute(_ context.Context, req *ExecuteRequest) (*ExecuteResponse, error) {
	if req.FunctionName == "missing" {
		return &ExecuteResponse{Success: false, ErrorMessage: "function missing not found"}, nil
	}
	return &ExecuteResponse{Success: true, ResultJSON: req.DataJSON}, nil
}

func TestExecuteRoundTrip(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterFunctionServer(srv, echoServer{})
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })

	req := &ExecuteRequest{
		FunctionName: "echo",
		DataJSON:     `{"text":"hello"}`,
		ArgsJSON:     "[]",
		KwargsJSON:   "{}",
	}
	var resp ExecuteResponse
	if err := conn.Invoke(context.Background(), ExecuteFullMethod, req, &resp); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !resp.Success || resp.ResultJSON != `{"text":"hello"}` {
		t.Errorf("resp = %+v", resp)
	}

	var failResp ExecuteResponse
	req.FunctionName = "missing"
	if err := conn.Invoke(context.Background(), ExecuteFullMethod, req, &failResp); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if failResp.Success || failResp.ErrorMessage == "" {
		t.Errorf("resp = %+v", failResp)
	}
}
