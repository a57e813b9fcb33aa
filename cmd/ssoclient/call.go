// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/metis/ssoclient/apiclient"
	"github.com/metis/ssoclient/auth"
	"github.com/spf13/cobra"
)

// endpoints are the shorthand names of the call command.
var endpoints = map[string]string{
	"protected": apiclient.ProtectedDataPath,
	"shared":    apiclient.SharedDataPath,
	"public":    apiclient.PublicDataPath,
	"userinfo":  apiclient.UserInfoPath,
}

func newCallCmd(a *app) *cobra.Command {
	var (
		method string
		data   string
	)
	cmd := &cobra.Command{
		Use:   "call <protected|shared|public|userinfo|path>",
		Short: "Call the API with the session's access token",
		Long: `call sends a request to the configured API. A 401 response renews the
session silently and replays the request once. When the renewal fails it
asks for a new login.

The request body is read from standard input when --data is "-".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, ok := endpoints[args[0]]
			if !ok {
				p = "/" + strings.TrimPrefix(args[0], "/")
			}
			var body []byte
			switch data {
			case "":
			case "-":
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				body = b
			default:
				body = []byte(data)
			}

			m, _, err := a.newTerminalManager(ctx)
			if err != nil {
				return err
			}
			defer m.Close()
			f, err := auth.New(ctx, m, auth.WithLogger(a.logger.Named("auth")))
			if err != nil {
				return err
			}
			defer f.Close()
			if err := f.Wait(ctx); err != nil {
				return err
			}

			opts := append(a.cfg.APIOptions(),
				apiclient.WithLogger(a.logger.Named("api")),
				apiclient.WithNavigator(loginHint{out: cmd.ErrOrStderr()}),
			)
			c, err := apiclient.New(a.cfg.APIBaseURL, f, opts...)
			if err != nil {
				return err
			}
			resp, err := c.Do(ctx, strings.ToUpper(method), p, body)
			if resp != nil {
				writeBody(cmd.OutOrStdout(), resp.Body)
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&method, "method", "X", http.MethodGet, "request method")
	cmd.Flags().StringVarP(&data, "data", "d", "", `JSON request body, "-" for standard input`)
	return cmd
}

// writeBody indents JSON bodies and writes others as they are.
func writeBody(out io.Writer, b []byte) {
	if len(b) == 0 {
		return
	}
	var buf bytes.Buffer
	if json.Indent(&buf, b, "", "  ") == nil {
		b = buf.Bytes()
	}
	fmt.Fprintln(out, strings.TrimRight(string(b), "\n"))
}

// loginHint is the API client's Navigator. A terminal has no login page to
// go to, so it points the user at the login command.
type loginHint struct {
	out io.Writer
}

func (h loginHint) Navigate(context.Context, string) error {
	fmt.Fprintln(h.out, "The session could not be renewed, run ssoclient login")
	return nil
}
