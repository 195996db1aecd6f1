// Package grpc hosts a remote.Channel backend over gRPC so that several
// devices can sync against one store.
package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/parrotkeeper/internal/logging"
	"github.com/dmitrijs2005/parrotkeeper/internal/remote"
	"google.golang.org/grpc"
)

type GRPCServer struct {
	address   string
	store     remote.Channel
	logger    logging.Logger
	jwtSecret []byte
}

func NewGRPCServer(a string, l logging.Logger, store remote.Channel, secretKey string) *GRPCServer {
	return &GRPCServer{
		address:   a,
		store:     store,
		logger:    l.With("module", "grpc_server"),
		jwtSecret: []byte(secretKey),
	}
}

func (s *GRPCServer) newServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(s.accessTokenInterceptor))
	srv := grpc.NewServer(opts...)
	remote.RegisterFileChannelServer(srv, s)
	return srv
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := s.newServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", listen.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(listen); err != nil {
		return err
	}

	return nil
}
