package server

import (
	"context"
	"errors"
	"net"
	"net/http"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"

	"github.com/chazu/javelin/journal"
	"github.com/chazu/javelin/vm"
)

var log = commonlog.GetLogger("javelin.server")

// RunServer serves RunService over gRPC (binary protobuf) and Connect
// (HTTP/JSON) on the same port.
type RunServer struct {
	worker  *VMWorker
	service *RunService
	mux     *http.ServeMux
	http    *http.Server
}

// ServerOption configures a RunServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	journal   *journal.Journal
	maxFrames int
}

// WithJournal records every run in j and enables History.
func WithJournal(j *journal.Journal) ServerOption {
	return func(c *serverConfig) { c.journal = j }
}

// WithMaxFrameDepth sets the default call stack limit of every run.
func WithMaxFrameDepth(n int) ServerOption {
	return func(c *serverConfig) { c.maxFrames = n }
}

// New creates a RunServer.
func New(opts ...ServerOption) *RunServer {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	var base []vm.Option
	if cfg.maxFrames > 0 {
		base = append(base, vm.WithMaxFrameDepth(cfg.maxFrames))
	}
	worker := NewVMWorker(base...)

	s := &RunServer{
		worker:  worker,
		service: NewRunService(worker, cfg.journal),
		mux:     http.NewServeMux(),
	}
	s.mux.Handle(RunProcedure, connect.NewUnaryHandler(RunProcedure, s.service.Run))
	s.mux.Handle(HistoryProcedure, connect.NewUnaryHandler(HistoryProcedure, s.service.History))

	// Cleartext HTTP/2 lets gRPC clients connect without TLS.
	var protocols http.Protocols
	protocols.SetHTTP1(true)
	protocols.SetUnencryptedHTTP2(true)
	s.http = &http.Server{Handler: s.mux, Protocols: &protocols}
	return s
}

// Handler returns the HTTP handler serving the RunService procedures.
func (s *RunServer) Handler() http.Handler {
	return s.mux
}

// Serve accepts connections on lis until Shutdown.
func (s *RunServer) Serve(lis net.Listener) error {
	log.Noticef("javelin run server listening on %s", lis.Addr())
	log.Infof("  Connect (HTTP/JSON): http://%s%s", lis.Addr(), RunProcedure)
	log.Infof("  gRPC (binary):       grpc://%s", lis.Addr())
	if err := s.http.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe starts the server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *RunServer) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Shutdown stops accepting connections, waits for active calls, then
// stops the worker.
func (s *RunServer) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	s.worker.Stop()
	return err
}

// Stop stops the worker without waiting for connections.
func (s *RunServer) Stop() {
	s.worker.Stop()
}
