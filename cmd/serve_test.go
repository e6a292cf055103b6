package cmd

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"
)

func TestRunServerReportsListenFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := &http.Server{Addr: ln.Addr().String(), Handler: http.NotFoundHandler()}

	done := make(chan error, 1)
	go func() { done <- runServer(context.Background(), srv, logger) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("listening on a busy address reported no error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runServer did not return after the listener failed")
	}
}

func TestRunServerStopsOnCancel(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := runServer(ctx, srv, logger); err != nil {
		t.Fatalf("runServer after cancel = %v", err)
	}
}
