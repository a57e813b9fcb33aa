// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// status is the status command's output.
type status struct {
	Authenticated bool                   `json:"authenticated"`
	State         string                 `json:"state"`
	Subject       string                 `json:"subject,omitempty"`
	ExpiresAt     *time.Time             `json:"expires_at,omitempty"`
	Scopes        []string               `json:"scopes,omitempty"`
	CanRefresh    bool                   `json:"can_refresh"`
	Profile       map[string]interface{} `json:"profile,omitempty"`
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the current session as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			m, _, err := a.newTerminalManager(ctx)
			if err != nil {
				return err
			}
			defer m.Close()
			u, err := m.CurrentUser(ctx)
			if err != nil {
				return err
			}
			st := status{
				Authenticated: m.IsAuthenticated(),
				State:         m.State().String(),
			}
			if u != nil {
				st.Subject = u.Subject()
				st.Scopes = u.Scopes
				st.CanRefresh = u.CanRefresh()
				st.Profile = u.Profile
				if !u.ExpiresAt.IsZero() {
					exp := u.ExpiresAt.UTC()
					st.ExpiresAt = &exp
				}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	}
}

func newTokenCmd(a *app) *cobra.Command {
	var renew bool
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print the access token",
		Long: `token prints the current access token, for example to pass it to curl.
It exits with status 2 when there's no unexpired session.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			m, _, err := a.newTerminalManager(ctx)
			if err != nil {
				return err
			}
			defer m.Close()
			if renew {
				s, err := m.SilentRenew(ctx)
				if err != nil {
					return err
				}
				if s == nil {
					return errNotSignedIn
				}
			}
			at, ok := m.AccessToken(ctx)
			if !ok {
				return errNotSignedIn
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(at))
			return nil
		},
	}
	cmd.Flags().BoolVar(&renew, "renew", false, "renew the session first")
	return cmd
}
