package server

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/javelin/journal"
)

// Client calls a RunServer over gRPC.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the server at target ("host:port") without TLS.
// The connection is established lazily on the first call.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// Close tears down the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Run runs a program remotely. Uncaught exceptions come back as a
// result with a non-zero ExitCode; the error return carries the gRPC
// status of calls that failed.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	msg, err := req.Struct()
	if err != nil {
		return RunResult{}, err
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, RunProcedure, msg, resp); err != nil {
		return RunResult{}, err
	}
	return ParseRunResult(resp)
}

// History lists the server's journaled runs, newest first. limit 0 asks
// for the server default.
func (c *Client) History(ctx context.Context, program string, limit int) ([]journal.Entry, error) {
	msg, err := structpb.NewStruct(map[string]any{"program": program, "limit": limit})
	if err != nil {
		return nil, err
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, HistoryProcedure, msg, resp); err != nil {
		return nil, err
	}
	return ParseHistory(resp)
}
