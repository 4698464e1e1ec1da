package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"kw-listing/internal/config"
	"kw-listing/internal/logging"
	"kw-listing/internal/pipeline"
	"kw-listing/internal/server"
)

type ServeOptions struct {
	CommonOptions
	Addr string
	// Ready, when set, receives the bound address once the listener is up.
	Ready func(addr string)
}

// Serve hosts the session API until ctx is canceled, then shuts down gracefully.
func Serve(ctx context.Context, opts ServeOptions) error {
	rt, err := setup(opts.CommonOptions, func(cfg *config.Config) {
		if a := strings.TrimSpace(opts.Addr); a != "" {
			cfg.Server.Addr = a
		}
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	factory := func(id string, in pipeline.Input) (*pipeline.Session, error) {
		return pipeline.NewSession(rt.service, rt.sessionOptions(id), in)
	}
	keep := server.Retention{
		Idle: time.Duration(rt.cfg.Server.SessionIdleSec) * time.Second,
		Done: time.Duration(rt.cfg.Server.SessionDoneSec) * time.Second,
	}
	// Session creation runs the whole pipeline inside the request, so there is
	// no write timeout.
	httpServer := &http.Server{
		Handler:           server.New(factory, rt.logger, keep),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
	}

	ln, err := net.Listen("tcp", rt.cfg.Server.Addr)
	if err != nil {
		return err
	}
	addr := ln.Addr().String()
	rt.logger.Emit(logging.Event{Event: "server_start", Input: addr, Message: "服务已启动：" + addr})
	if opts.Ready != nil {
		opts.Ready(addr)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	rt.logger.Emit(logging.Event{Event: "server_shutdown", Message: "收到退出信号，正在关闭服务"})
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
