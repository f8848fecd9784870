package api

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"notifyhub/internal/config"
	"notifyhub/internal/domain"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
)

// GRPCServer serves the TaskService admin API.
type GRPCServer struct {
	server   *grpc.Server
	addr     string
	listener net.Listener
	log      zerolog.Logger
}

// NewGRPCServer builds the server. It does not bind until Listen or Serve.
func NewGRPCServer(cfg *config.APIConfig, scheduler domain.TaskScheduler, logger *zerolog.Logger) (*GRPCServer, error) {
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			RecoveryUnaryInterceptor(logger),
			LoggingUnaryInterceptor(logger),
			NewAuthInterceptor(cfg).Unary(),
		),
		grpc.KeepaliveParams(keepalive.ServerParameters{MaxConnectionIdle: 5 * time.Minute}),
	}
	if cfg.GRPC.TLS.Enabled {
		creds, err := serverCredentials(cfg.GRPC.TLS)
		if err != nil {
			return nil, err
		}
		opts = append(opts, creds)
	}

	server := grpc.NewServer(opts...)
	RegisterTaskServiceServer(server, NewTaskService(scheduler))
	if cfg.GRPC.Reflection {
		reflection.Register(server)
	}

	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "grpc").Logger()
	}
	return &GRPCServer{server: server, addr: fmt.Sprintf(":%d", cfg.GRPC.Port), log: log}, nil
}

func serverCredentials(cfg config.APITLSConfig) (grpc.ServerOption, error) {
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, errors.New("grpc tls enabled but cert_file/key_file not set")
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load grpc tls keypair: %w", err)
	}
	tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}

	if cfg.RequireClientCert {
		pool, err := loadCertPool(cfg.ClientCAFile)
		if err != nil {
			return nil, err
		}
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
		tlsCfg.ClientCAs = pool
	}
	return grpc.Creds(credentials.NewTLS(tlsCfg)), nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	if path == "" {
		return nil, errors.New("grpc tls require_client_cert=true but client_ca_file not set")
	}
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read client_ca_file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("client_ca_file %s holds no PEM certificates", path)
	}
	return pool, nil
}

// Listen binds the configured port so startup fails fast on a taken port.
func (s *GRPCServer) Listen() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", s.addr, err)
	}
	s.listener = lis
	return nil
}

// Serve blocks until Shutdown, binding first if Listen was not called.
func (s *GRPCServer) Serve() error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	return s.ServeListener(s.listener)
}

func (s *GRPCServer) ServeListener(lis net.Listener) error {
	s.log.Info().Str("addr", lis.Addr().String()).Msg("gRPC API listening")
	if err := s.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Shutdown drains in-flight calls and forces a stop once ctx is done.
func (s *GRPCServer) Shutdown(ctx context.Context) {
	drained := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		s.log.Warn().Msg("gRPC drain timed out, stopping")
		s.server.Stop()
	}
}
