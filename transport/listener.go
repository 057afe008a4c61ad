package transport

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"
	"golang.org/x/sync/errgroup"
)

// ListenerConfig configures a WebTransport-based MoQT listener, paralleling
// distribution.ServerConfig in the teacher.
type ListenerConfig struct {
	// Addr is the UDP address to listen on, e.g. ":4443".
	Addr string

	// Path is the HTTP path WebTransport CONNECT requests must target.
	// Defaults to "/moq".
	Path string

	// Cert is the TLS certificate presented to connecting clients.
	Cert tls.Certificate

	// IdleTimeout bounds how long a QUIC connection may sit idle. Defaults
	// to 30s, matching distribution.Server.Start.
	IdleTimeout time.Duration

	// Allow0RTT enables 0-RTT connection resumption.
	Allow0RTT bool

	// CheckOrigin validates the Origin header on the CONNECT request.
	// Defaults to accepting every origin, matching the teacher's
	// development-mode default (see distribution.Server.Start).
	CheckOrigin func(*http.Request) bool
}

// Listener accepts MoQ Transport sessions carried over WebTransport and
// hands each established [Connection] to a caller-supplied handler.
type Listener struct {
	cfg   ListenerConfig
	log   *slog.Logger
	wtSrv *webtransport.Server

	handle func(ctx context.Context, conn Connection)
}

// NewListener creates a Listener. handle is invoked in its own goroutine for
// every successfully upgraded session; it should call conn.Context() to
// observe connection teardown.
func NewListener(cfg ListenerConfig, handle func(ctx context.Context, conn Connection)) *Listener {
	if cfg.Path == "" {
		cfg.Path = "/moq"
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 30 * time.Second
	}
	if cfg.CheckOrigin == nil {
		cfg.CheckOrigin = func(*http.Request) bool { return true }
	}
	return &Listener{
		cfg:    cfg,
		log:    slog.With("component", "transport.listener", "addr", cfg.Addr),
		handle: handle,
	}
}

// Serve listens for incoming WebTransport sessions until ctx is cancelled
// or a fatal error occurs, mirroring distribution.Server.Start's
// ListenAndServe-plus-context.AfterFunc-close shape, via an errgroup the
// way cmd/prism/main.go supervises its own servers.
func (l *Listener) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc(l.cfg.Path, l.handleUpgrade)

	l.wtSrv = &webtransport.Server{
		H3: http3.Server{
			Addr:      l.cfg.Addr,
			Handler:   mux,
			TLSConfig: &tls.Config{Certificates: []tls.Certificate{l.cfg.Cert}, NextProtos: []string{"moqt-15"}},
			QUICConfig: &quic.Config{
				MaxIdleTimeout: l.cfg.IdleTimeout,
				Allow0RTT:      l.cfg.Allow0RTT,
			},
		},
		CheckOrigin: l.cfg.CheckOrigin,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		l.log.Info("listening")
		err := l.wtSrv.ListenAndServe()
		if gCtx.Err() != nil {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gCtx.Done()
		return l.wtSrv.Close()
	})

	return g.Wait()
}

func (l *Listener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	session, err := l.wtSrv.Upgrade(w, r)
	if err != nil {
		l.log.Error("webtransport upgrade failed", "error", err)
		return
	}
	l.log.Info("session upgraded", "remote", r.RemoteAddr)

	conn := NewWebTransportConnection(session)
	go l.handle(session.Context(), conn)
}
