// Command moqtgo-relay runs a MOQT draft-15 relay: it accepts publisher and
// subscriber sessions over WebTransport and fans out published tracks to
// subscribers, the way cmd/prism did for prism's own SRT-to-viewer path.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/moqtgo/moqt/certs"
	"github.com/moqtgo/moqt/internal/relay"
	"github.com/moqtgo/moqt/internal/relayserver"
	"github.com/moqtgo/moqt/transport"
)

// defaultLocalMaxRequestID is the initial request-id ceiling this relay
// grants every session, generous enough for a viewer with many concurrent
// subscriptions.
const defaultLocalMaxRequestID = 1000

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cert, err := certs.Generate(14 * 24 * time.Hour)
	if err != nil {
		slog.Error("failed to generate certificate", "error", err)
		os.Exit(1)
	}
	slog.Info("certificate generated", "fingerprint", cert.FingerprintBase64(), "expires", cert.NotAfter.Format(time.RFC3339))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	addr := envOr("MOQT_ADDR", ":4443")

	table := relay.NewTable(slog.Default())
	srv := relayserver.NewServer(table, defaultLocalMaxRequestID)

	listener := transport.NewListener(transport.ListenerConfig{
		Addr: addr,
		Cert: cert.TLSCert,
	}, srv.HandleConnection)

	slog.Info("moqtgo-relay starting", "addr", addr, "cert_hash", cert.FingerprintBase64())
	if err := listener.Serve(ctx); err != nil {
		slog.Error("listener error", "error", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
