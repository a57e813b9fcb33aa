// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/metis/ssoclient/auth"
	"github.com/metis/ssoclient/metrics"
	"github.com/metis/ssoclient/session"
	"github.com/metis/ssoclient/sso"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// Paths of the serve command.
const (
	SSOPath     = "/sso"
	MetricsPath = "/metrics"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Keep the session alive for host applications",
		Long: `serve keeps the stored session renewed and monitored until it's
interrupted. Host applications connect to ` + SSOPath + ` over a websocket;
they receive SSO_COMPLETE whenever a user is loaded. Prometheus metrics are
served at ` + MetricsPath + `, on metrics_addr when it's set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ln, err := net.Listen("tcp", a.cfg.ListenAddr)
			if err != nil {
				return err
			}
			var metricsLn net.Listener
			if a.cfg.MetricsAddr != "" {
				if metricsLn, err = net.Listen("tcp", a.cfg.MetricsAddr); err != nil {
					_ = ln.Close()
					return err
				}
			}
			return a.serve(ctx, ln, metricsLn)
		},
	}
}

// serve runs until ctx is done. Metrics share ln when metricsLn is nil.
func (a *app) serve(ctx context.Context, ln, metricsLn net.Listener) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mtr := metrics.New(reg)

	ch := sso.NewWebSocketChannel(sso.WithLogger(a.logger.Named("sso")))
	notifier, err := sso.NewNotifier(ch, sso.WithLogger(a.logger.Named("sso")), sso.WithRecorder(mtr))
	if err != nil {
		return err
	}
	listener := sso.NewListener(append(a.cfg.SSOOptions(),
		sso.WithLogger(a.logger.Named("sso")),
		sso.WithRecorder(mtr),
	)...)

	origin, err := url.Parse(a.cfg.RedirectURI)
	if err != nil {
		return err
	}
	m, err := a.newManager(newTerminalWindow(origin, a.open), session.WithNotifier(notifier))
	if err != nil {
		return err
	}
	defer m.Close()
	m.Subscribe(mtr.ObserveChange)
	// renewals load a new user which every connected host hears about
	m.Subscribe(func(c session.Change) {
		if c.Event != session.EventUserLoaded || c.Session == nil {
			return
		}
		go func() {
			if err := notifier.NotifyComplete(ctx, c.Session.Profile); err != nil && !errors.Is(err, sso.ErrNoOpener) {
				a.logger.Warn("unable to notify hosts", "error", err)
			}
		}()
	})

	f, err := auth.New(ctx, m, auth.WithLogger(a.logger.Named("auth")), auth.WithNotifier(notifier))
	if err != nil {
		return err
	}
	defer f.Close()

	mux := http.NewServeMux()
	mux.Handle(SSOPath, ch)
	metricsHandler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	servers := []*http.Server{{Handler: mux, ReadHeaderTimeout: 10 * time.Second}}
	listeners := []net.Listener{ln}
	if metricsLn == nil {
		mux.Handle(MetricsPath, metricsHandler)
	} else {
		mm := http.NewServeMux()
		mm.Handle(MetricsPath, metricsHandler)
		servers = append(servers, &http.Server{Handler: mm, ReadHeaderTimeout: 10 * time.Second})
		listeners = append(listeners, metricsLn)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range servers {
		srv, l := servers[i], listeners[i]
		g.Go(func() error {
			a.logger.Info("listening", "addr", l.Addr().String())
			if err := srv.Serve(l); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		return listener.Run(gctx, ch)
	})
	g.Go(func() error {
		err := f.Wait(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		flow, _ := m.Initialize(gctx)
		mtr.ObserveInitialize(flow, err)
		if err != nil {
			// a failed initialization leaves nothing to keep alive
			a.logger.Error("unable to initialize the session", "error", err)
			return err
		}
		u, _ := m.CurrentUser(gctx)
		a.logger.Info("session initialized", "flow", flow, "sub", u.Subject())
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var result *multierror.Error
		for _, srv := range servers {
			if err := srv.Shutdown(sctx); err != nil {
				result = multierror.Append(result, err)
			}
		}
		ch.Close()
		return result.ErrorOrNil()
	})
	return g.Wait()
}
