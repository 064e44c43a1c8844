package xgrpc

import (
	"context"
	"encoding/json"

	"fodb/pkg/engine"
	"fodb/pkg/model"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type Client struct {
	cc *grpc.ClientConn
	QueryServiceClient
}

// Dial connects to the query service at addr without transport security
func Dial(addr string, opts ...grpc.DialOption) (c *Client, err error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	cc, err := grpc.Dial(addr, opts...)
	if err != nil {
		return nil, model.Unavailable("grpc dial "+addr, err)
	}
	return &Client{cc: cc, QueryServiceClient: NewQueryServiceClient(cc)}, nil
}

func (c *Client) Conn() *grpc.ClientConn {
	return c.cc
}

func (c *Client) Close() error {
	return c.cc.Close()
}

// Query runs a named query remotely, errors come back in their model class
func (c *Client) Query(ctx context.Context, name string, p engine.Params) (json.RawMessage, error) {
	reply, err := c.Run(ctx, &QueryRequest{Query: name, Params: p})
	if err != nil {
		return nil, fromStatus(err)
	}
	return reply.Result, nil
}
