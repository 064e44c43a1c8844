package xgrpc

import (
	"context"
	"encoding/json"

	"fodb/pkg/engine"

	"google.golang.org/grpc"
)

const (
	QueryServiceName = "fodb.QueryService"
	runMethod        = "/" + QueryServiceName + "/Run"
)

type QueryRequest struct {
	Query  string        `json:"query"`
	Params engine.Params `json:"params"`
}

// QueryReply holds the query result exactly as the engine encodes it
type QueryReply struct {
	Result json.RawMessage `json:"result"`
}

type QueryServiceServer interface {
	Run(ctx context.Context, in *QueryRequest) (*QueryReply, error)
}

type QueryServiceClient interface {
	Run(ctx context.Context, in *QueryRequest, opts ...grpc.CallOption) (*QueryReply, error)
}

type queryServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewQueryServiceClient(cc grpc.ClientConnInterface) QueryServiceClient {
	return &queryServiceClient{cc}
}

func (c *queryServiceClient) Run(ctx context.Context, in *QueryRequest, opts ...grpc.CallOption) (*QueryReply, error) {
	out := new(QueryReply)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	err := c.cc.Invoke(ctx, runMethod, in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func RegisterQueryServiceServer(s grpc.ServiceRegistrar, srv QueryServiceServer) {
	s.RegisterService(&QueryService_ServiceDesc, srv)
}

func _QueryService_Run_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(QueryRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(QueryServiceServer).Run(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: runMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(QueryServiceServer).Run(ctx, req.(*QueryRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var QueryService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: QueryServiceName,
	HandlerType: (*QueryServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Run",
			Handler:    _QueryService_Run_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fodb/query",
}
