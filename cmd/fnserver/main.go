// Command fnserver is a reference remote-function service for the consumer's
// RPC provider. It serves an echo function and a mock toxicity check over the
// Execute RPC.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/modsieve/modsieve/internal/rpcwire"
)

const defaultListenAddr = ":50051"

type functionService struct{}

func (functionService) Execute(_ context.Context, req *rpcwire.ExecuteRequest) (*rpcwire.ExecuteResponse, error) {
	log.Printf("received request for function: %s", req.FunctionName)

	var data map[string]any
	var args []any
	var kwargs map[string]any
	if err := json.Unmarshal([]byte(req.DataJSON), &data); err != nil {
		return fail(fmt.Sprintf("decode data: %v", err)), nil
	}
	if err := json.Unmarshal([]byte(req.ArgsJSON), &args); err != nil {
		return fail(fmt.Sprintf("decode args: %v", err)), nil
	}
	if err := json.Unmarshal([]byte(req.KwargsJSON), &kwargs); err != nil {
		return fail(fmt.Sprintf("decode kwargs: %v", err)), nil
	}

	var result any
	switch req.FunctionName {
	case "echo":
		result = map[string]any{"data": data, "args": args, "kwargs": kwargs}
	case "ai_check_toxicity":
		result = mockToxicityCheck(data)
	default:
		return fail(fmt.Sprintf("function %s not found", req.FunctionName)), nil
	}

	out, err := json.Marshal(result)
	if err != nil {
		return fail(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &rpcwire.ExecuteResponse{Success: true, ResultJSON: string(out)}, nil
}

func fail(msg string) *rpcwire.ExecuteResponse {
	return &rpcwire.ExecuteResponse{Success: false, ErrorMessage: msg}
}

// mockToxicityCheck simulates a slow model call: text containing "toxic" is
// flagged.
func mockToxicityCheck(data map[string]any) bool {
	time.Sleep(time.Second)
	text, _ := data["text"].(string)
	if text == "" {
		text, _ = data["title"].(string)
	}
	toxic := strings.Contains(text, "toxic")
	log.Printf("toxicity check on %q -> %v", truncate(text, 20), toxic)
	return toxic
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func main() {
	addr := defaultListenAddr
	if v := os.Getenv("FNSERVER_LISTEN_ADDR"); v != "" {
		addr = v
	}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: listen %s: %v\n", addr, err)
		os.Exit(1)
	}

	srv := grpc.NewServer()
	rpcwire.RegisterFunctionServer(srv, functionService{})

	go func() {
		log.Printf("function server listening on %s", addr)
		if err := srv.Serve(lis); err != nil {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("Received signal %s, shutting down...", sig)
	srv.GracefulStop()
}
