package xgrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"fodb/pkg/engine"
	"fodb/pkg/model"
	"fodb/pkg/xlog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

var logger = xlog.Named("xgrpc")

// Querier runs named queries, *engine.Engine is one
type Querier interface {
	Query(name string, p engine.Params) (interface{}, error)
}

type queryServer struct {
	q Querier
}

var _ QueryServiceServer = (*queryServer)(nil)

func (s *queryServer) Run(ctx context.Context, in *QueryRequest) (*QueryReply, error) {
	if err := ctx.Err(); err != nil {
		return nil, status.FromContextError(err).Err()
	}
	v, err := s.q.Query(in.Query, in.Params)
	if err != nil {
		return nil, toStatus(err)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode %s: %s", in.Query, err)
	}
	return &QueryReply{Result: b}, nil
}

// toStatus keeps the error class of a failed query across the wire
func toStatus(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, model.ErrConstraintViolation):
		code = codes.InvalidArgument
	case errors.Is(err, model.ErrReferenceNotFound):
		code = codes.FailedPrecondition
	case errors.Is(err, model.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, model.ErrStorageUnavailable):
		code = codes.Unavailable
	}
	return status.Error(code, err.Error())
}

// fromStatus turns a status back into the model error of its class
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.InvalidArgument:
		return fmt.Errorf("%w: remote: %s", model.ErrConstraintViolation, st.Message())
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: remote: %s", model.ErrReferenceNotFound, st.Message())
	case codes.NotFound:
		return fmt.Errorf("%w: remote: %s", model.ErrNotFound, st.Message())
	case codes.Unavailable, codes.DeadlineExceeded:
		return fmt.Errorf("%w: remote: %s", model.ErrStorageUnavailable, st.Message())
	}
	return err
}

// logCalls logs every call with its duration
func logCalls(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
	begin := time.Now()
	resp, err = handler(ctx, req)
	if err != nil {
		logger.Errorf("%s failed in %s with err:%s", info.FullMethod, time.Since(begin), err)
	} else {
		logger.Debugf("%s took %s", info.FullMethod, time.Since(begin))
	}
	return
}

// Server is the grpc query service of an engine, with the standard health
// service next to it
type Server struct {
	srv    *grpc.Server
	health *health.Server
}

func NewServer(q Querier) *Server {
	s := &Server{
		srv:    grpc.NewServer(grpc.UnaryInterceptor(logCalls)),
		health: health.NewServer(),
	}
	RegisterQueryServiceServer(s.srv, &queryServer{q: q})
	grpc_health_v1.RegisterHealthServer(s.srv, s.health)
	s.health.SetServingStatus(QueryServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	return s
}

// Serve blocks serving lis until Stop
func (s *Server) Serve(lis net.Listener) error {
	logger.Infof("grpc server listening %s", lis.Addr())
	return s.srv.Serve(lis)
}

func (s *Server) ListenAndServe(addr string) (err error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return model.Unavailable("grpc listen", err)
	}
	return s.Serve(lis)
}

// Stop marks the service as not serving and waits for running calls
func (s *Server) Stop() {
	s.health.Shutdown()
	s.srv.GracefulStop()
}
