// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/metis/ssoclient/callback"
	"github.com/metis/ssoclient/session"
	"github.com/spf13/cobra"
)

const defaultLoginTimeout = 5 * time.Minute

func newLoginCmd(a *app) *cobra.Command {
	var (
		timeout time.Duration
		force   bool
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with the browser",
		Long: `login serves the redirect_uri on this machine, opens the provider's sign in
page and waits for the browser to come back with an authorization code.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			redirect, err := url.Parse(a.cfg.RedirectURI)
			if err != nil {
				return err
			}
			if redirect.Scheme != "http" {
				return fmt.Errorf("login serves the redirect_uri itself and needs an http one, not %q", a.cfg.RedirectURI)
			}

			var srv *callback.Server
			// the browser coming back is a new page load with its own manager
			handler := func(ctx context.Context, _ *url.URL) (*session.Session, error) {
				m, err := a.newManager(srv, session.WithMonitorSession(false, 0))
				if err != nil {
					return nil, err
				}
				defer m.Close()
				if _, err := m.Initialize(ctx); err != nil {
					return nil, err
				}
				return m.CurrentUser(ctx)
			}
			srv, err = callback.NewServer(
				callback.WithLogger(a.logger.Named("callback")),
				callback.WithAddr(redirect.Host),
				callback.WithCallbackPath(a.cfg.CallbackPath),
				callback.WithOpener(a.open),
				callback.WithPageHandler(handler),
			)
			if err != nil {
				return err
			}
			defer func() {
				if err := srv.Shutdown(context.Background()); err != nil {
					a.logger.Debug("unable to shut down callback server", "error", err)
				}
			}()

			m, err := a.newManager(srv, session.WithMonitorSession(false, 0))
			if err != nil {
				return err
			}
			defer m.Close()
			flow, err := m.Initialize(ctx)
			if err != nil {
				return err
			}
			if flow == session.FlowRehydrated && !force {
				u, err := m.CurrentUser(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Already signed in as %s\n", displayName(u))
				return nil
			}
			if err := m.Login(ctx); err != nil {
				return err
			}

			wctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			u, err := srv.WaitForCallback(wctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", displayName(u))
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", defaultLoginTimeout, "how long to wait for the browser")
	cmd.Flags().BoolVar(&force, "force", false, "sign in again even with a session")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out locally and at the provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			m, _, err := a.newTerminalManager(ctx)
			if err != nil {
				return err
			}
			defer m.Close()
			if err := m.Logout(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func displayName(s *session.Session) string {
	if s == nil {
		return "nobody"
	}
	if name, ok := s.Profile["name"].(string); ok && name != "" {
		return fmt.Sprintf("%s (%s)", name, s.Subject())
	}
	return s.Subject()
}
