package rpcapi

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the RPC surface's fully-qualified name, matching
// proto/sage.proto's `service SageRAG`.
const ServiceName = "sage.v1.SageRAG"

func processChatHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ChatRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).ProcessChat(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/ProcessChat"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).ProcessChat(ctx, req.(*ChatRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func searchDocumentsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SearchRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).SearchDocuments(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/SearchDocuments"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).SearchDocuments(ctx, req.(*SearchRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getHealthHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(HealthRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).GetHealth(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/GetHealth"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).GetHealth(ctx, req.(*HealthRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getStatsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(StatsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).GetStats(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/GetStats"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).GetStats(ctx, req.(*StatsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc mirrors what protoc-gen-go-grpc would emit for
// proto/sage.proto's SageRAG service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ProcessChat", Handler: processChatHandler},
		{MethodName: "SearchDocuments", Handler: searchDocumentsHandler},
		{MethodName: "GetHealth", Handler: getHealthHandler},
		{MethodName: "GetStats", Handler: getStatsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "proto/sage.proto",
}

// RegisterServer registers srv with a grpc.Server under ServiceDesc.
func RegisterServer(s *grpc.Server, srv *Server) {
	s.RegisterService(&ServiceDesc, srv)
}
