// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// reactor-echo is a TCP echo server driven by a single reactor context. It
// runs on either backend and can expose the reactor metrics over HTTP.

package main

import (
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/momentics/hioload-iocore/affinity"
	"github.com/momentics/hioload-iocore/api"
	"github.com/momentics/hioload-iocore/control"
	"github.com/momentics/hioload-iocore/internal/sockutil"
	"github.com/momentics/hioload-iocore/reactor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type options struct {
	host        string
	port        int
	backend     string
	pool        int
	timeoutMs   int
	verbose     bool
	metricsAddr string
	cpu         int
}

var opts options

func main() {
	command := &cobra.Command{
		Use:          "reactor-echo [flags]",
		Short:        "TCP echo server on the iocore reactor",
		RunE:         run,
		SilenceUsage: true,
	}
	flags := command.Flags()
	flags.StringVar(&opts.host, "host", "127.0.0.1", "listen address (IPv4)")
	flags.IntVarP(&opts.port, "port", "p", 9002, "listen port")
	flags.StringVarP(&opts.backend, "backend", "b", "auto", "backend: auto, readiness (epoll/poll) or completion (iocp)")
	flags.IntVar(&opts.pool, "accept-pool", control.DefaultAcceptPoolSize, "pre-posted accepts per listener (completion backend)")
	flags.IntVarP(&opts.timeoutMs, "timeout", "t", 100, "select timeout in milliseconds")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	flags.IntVar(&opts.cpu, "cpu", -1, "pin the event loop to this CPU (-1: thread lock only)")
	if err := command.Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func run(cmd *cobra.Command, args []string) error {
	log := logrus.New()
	if opts.verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	backend, err := control.ParseBackend(opts.backend)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	if opts.metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(opts.metricsAddr, mux); err != nil {
				log.WithError(err).Error("metrics endpoint stopped")
			}
		}()
	}

	// The context is created and driven from one pinned thread.
	release, err := affinity.PinLoop(opts.cpu)
	if err != nil {
		return err
	}
	defer release()

	ctx, err := reactor.New(control.DefaultConfig(
		control.WithBackend(backend),
		control.WithAcceptPoolSize(opts.pool),
		control.WithLogger(log),
		control.WithRegisterer(registry),
	))
	if err != nil {
		return err
	}

	ln, err := sockutil.Listen(opts.host, opts.port, 128)
	if err != nil {
		ctx.Close()
		return err
	}
	if err := ctx.RegisterListen(ln); err != nil {
		ctx.Close()
		sockutil.Close(ln)
		return err
	}
	log.WithFields(logrus.Fields{
		"addr":    opts.host,
		"port":    opts.port,
		"backend": ctx.Backend(),
	}).Info("listening")

	var stop atomic.Bool
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		stop.Store(true)
	}()

	s := &server{ctx: ctx, ln: ln, log: log, conns: make(map[api.Handle]struct{}), buf: make([]byte, 64<<10)}
	var batch api.EventBatch
	for !stop.Load() {
		if _, err := ctx.Select(opts.timeoutMs, &batch); err != nil {
			log.WithError(err).Error("select")
			break
		}
		for _, ev := range batch.Slice() {
			s.handle(ev)
		}
	}

	log.WithField("state", ctx.DumpState()).Debug("shutting down")
	s.closeAll()
	err = ctx.Close()
	sockutil.Close(ln)
	return err
}

type server struct {
	ctx   *reactor.Context
	ln    api.Handle
	log   *logrus.Logger
	conns map[api.Handle]struct{}
	buf   []byte
}

func (s *server) handle(ev api.EventRecord) {
	switch ev.Kind {
	case api.EventAcceptCompleted:
		// The completion backend already armed the socket.
		s.conns[ev.Handle] = struct{}{}
		s.log.WithFields(logrus.Fields{"handle": ev.Handle, "listener": ev.UserTag}).Debug("accepted")
	case api.EventRead:
		if ev.Handle == s.ln {
			s.accept()
			return
		}
		s.echo(ev.Handle)
	case api.EventDisconnect, api.EventError:
		if ev.Handle == s.ln {
			s.log.WithField("code", ev.ErrorCode).Warn("listener error")
			return
		}
		s.log.WithFields(logrus.Fields{"handle": ev.Handle, "kind": ev.Kind, "code": ev.ErrorCode}).Debug("closing")
		s.drop(ev.Handle)
	}
}

func (s *server) accept() {
	h, err := sockutil.Accept(s.ln)
	if err != nil {
		if !sockutil.WouldBlock(err) {
			s.log.WithError(err).Warn("accept")
		}
		return
	}
	if err := s.ctx.Register(h); err != nil {
		s.log.WithError(err).Warn("register accepted socket")
		sockutil.Close(h)
		return
	}
	s.conns[h] = struct{}{}
	s.log.WithField("handle", h).Debug("accepted")
}

func (s *server) echo(h api.Handle) {
	n, err := sockutil.Read(h, s.buf)
	if err != nil && sockutil.WouldBlock(err) {
		return
	}
	if err != nil || n == 0 {
		s.drop(h)
		return
	}
	if _, err := sockutil.Write(h, s.buf[:n]); err != nil {
		s.log.WithError(err).WithField("handle", h).Debug("write")
		s.drop(h)
	}
}

func (s *server) drop(h api.Handle) {
	s.ctx.Unregister(h)
	sockutil.Close(h)
	delete(s.conns, h)
}

func (s *server) closeAll() {
	for h := range s.conns {
		s.drop(h)
	}
}
