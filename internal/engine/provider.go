package engine

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/modsieve/modsieve/internal/model"
	"github.com/modsieve/modsieve/internal/rpcwire"
)

// Provider resolves and executes a named rule function. Execute returns nil
// for every failure mode (unknown name, execution error, transport error): a
// nil result makes the enclosing condition evaluate to false, which is the
// intended degradation.
type Provider interface {
	Execute(ctx context.Context, name string, obj model.Content, args []any, kwargs map[string]any) any
}

// LocalProvider executes functions from an in-process registry.
type LocalProvider struct {
	reg *Registry
}

// NewLocalProvider creates a LocalProvider over reg.
func NewLocalProvider(reg *Registry) *LocalProvider {
	return &LocalProvider{reg: reg}
}

// Execute implements Provider.
func (p *LocalProvider) Execute(ctx context.Context, name string, obj model.Content, args []any, kwargs map[string]any) (result any) {
	fn, ok := p.reg.Get(name)
	if !ok {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("engine: local function %s panicked: %v", name, r)
			result = nil
		}
	}()
	v, err := fn(ctx, obj, args, kwargs)
	if err != nil {
		log.Printf("engine: local function %s failed: %v", name, err)
		return nil
	}
	return v
}

// RPCProvider executes functions on a remote service via a unary gRPC call.
type RPCProvider struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// NewRPCProvider connects to target ("host:port", scheme prefixes are
// stripped) with the given per-call timeout.
func NewRPCProvider(target string, timeout time.Duration) (*RPCProvider, error) {
	target = strings.TrimPrefix(strings.TrimPrefix(target, "https://"), "http://")
	conn, err := grpc.NewClient(
		target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rpcwire.CodecName)),
	)
	if err != nil {
		return nil, err
	}
	return &RPCProvider{conn: conn, timeout: timeout}, nil
}

// Execute implements Provider.
func (p *RPCProvider) Execute(ctx context.Context, name string, obj model.Content, args []any, kwargs map[string]any) any {
	dataJSON, err := json.Marshal(obj)
	if err != nil {
		log.Printf("engine: serialize object for %s: %v", name, err)
		return nil
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		log.Printf("engine: serialize args for %s: %v", name, err)
		return nil
	}
	kwargsJSON, err := json.Marshal(kwargs)
	if err != nil {
		log.Printf("engine: serialize kwargs for %s: %v", name, err)
		return nil
	}

	req := rpcwire.ExecuteRequest{
		FunctionName: name,
		DataJSON:     string(dataJSON),
		ArgsJSON:     string(argsJSON),
		KwargsJSON:   string(kwargsJSON),
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var resp rpcwire.ExecuteResponse
	if err := p.conn.Invoke(callCtx, rpcwire.ExecuteFullMethod, &req, &resp); err != nil {
		log.Printf("engine: rpc call %s failed: %v", name, err)
		return nil
	}
	if !resp.Success {
		log.Printf("engine: remote function %s failed: %s", name, resp.ErrorMessage)
		return nil
	}

	var result any
	if err := json.Unmarshal([]byte(resp.ResultJSON), &result); err != nil {
		log.Printf("engine: decode result of %s: %v", name, err)
		return nil
	}
	return result
}

// Close closes the underlying connection.
func (p *RPCProvider) Close() error { return p.conn.Close() }

// HybridProvider resolves locally registered names in-process and delegates
// everything else to the remote service.
type HybridProvider struct {
	reg   *Registry
	local *LocalProvider
	rpc   *RPCProvider
}

// NewHybridProvider creates a HybridProvider over reg and a remote target.
func NewHybridProvider(reg *Registry, target string, timeout time.Duration) (*HybridProvider, error) {
	rpc, err := NewRPCProvider(target, timeout)
	if err != nil {
		return nil, err
	}
	return &HybridProvider{reg: reg, local: NewLocalProvider(reg), rpc: rpc}, nil
}

// Execute implements Provider.
func (p *HybridProvider) Execute(ctx context.Context, name string, obj model.Content, args []any, kwargs map[string]any) any {
	if _, ok := p.reg.Get(name); ok {
		return p.local.Execute(ctx, name, obj, args, kwargs)
	}
	return p.rpc.Execute(ctx, name, obj, args, kwargs)
}

// Close closes the remote connection.
func (p *HybridProvider) Close() error { return p.rpc.Close() }
