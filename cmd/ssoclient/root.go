// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/metis/ssoclient/callback"
	"github.com/metis/ssoclient/config"
	"github.com/metis/ssoclient/oidc"
	"github.com/metis/ssoclient/session"
	"github.com/metis/ssoclient/storage"
	"github.com/spf13/cobra"
)

// errNotSignedIn is returned by commands which need a session when there's
// none.
var errNotSignedIn = errors.New("not signed in, run ssoclient login")

// app is the state shared by the commands of one invocation.
type app struct {
	configPath string
	envFiles   []string
	verbose    bool
	noBrowser  bool

	// open replaces the browser, mostly for tests.
	open callback.OpenerFunc

	cfg      *config.Config
	logger   hclog.Logger
	store    storage.Store
	release  func() error
	provider *oidc.Provider
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ssoclient",
		Short: "Sign in to Metis and call its API from the terminal",
		Long: `ssoclient signs in to the Metis identity provider with the authorization
code flow, keeps the session in the configured storage and renews it
silently. Settings come from a YAML file, .env files and SSO_ environment
variables, in increasing precedence.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "YAML configuration file")
	cmd.PersistentFlags().StringSliceVar(&a.envFiles, "env-file", nil, "dotenv files to load (default .env when present)")
	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log at debug level")
	cmd.PersistentFlags().BoolVar(&a.noBrowser, "no-browser", false, "print URLs instead of opening a browser")

	cmd.AddCommand(
		newLoginCmd(a),
		newLogoutCmd(a),
		newStatusCmd(a),
		newTokenCmd(a),
		newCallCmd(a),
		newServeCmd(a),
	)
	return cmd
}

// execute runs the command line args and releases what the command set up.
func execute(ctx context.Context, a *app, args []string, stdout, stderr io.Writer) error {
	cmd := newRootCmd(a)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	var result *multierror.Error
	if err := cmd.ExecuteContext(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := a.teardown(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		// a lone error keeps its message
		if len(result.Errors) == 1 {
			return result.Errors[0]
		}
		return err
	}
	return nil
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	var opts []config.Option
	if len(a.envFiles) > 0 {
		opts = append(opts, config.WithEnvFiles(a.envFiles...))
	}
	cfg, err := config.Load(a.configPath, opts...)
	if err != nil {
		return err
	}
	if a.verbose {
		cfg.LogLevel = hclog.Debug.String()
	}
	a.cfg = cfg
	a.logger = cfg.Logger("ssoclient")

	// every command is a new process, so the session has to outlive it
	if cfg.Storage.Kind == config.StorageMemory {
		p, err := defaultStorePath()
		if err != nil {
			return err
		}
		a.logger.Debug("memory storage would not outlive the command, using a file", "path", p)
		cfg.Storage.Kind, cfg.Storage.Path = config.StorageFile, p
	}
	a.store, a.release, err = cfg.NewStore(storage.WithLogger(a.logger.Named("storage")))
	if err != nil {
		return err
	}

	oc, err := cfg.OIDCConfig()
	if err != nil {
		return err
	}
	if a.provider, err = oidc.NewProvider(oc); err != nil {
		return err
	}
	if a.open == nil {
		a.open = a.browserOpener(cmd.ErrOrStderr())
	}
	return nil
}

func (a *app) teardown() error {
	var result *multierror.Error
	if a.provider != nil {
		a.provider.Done()
	}
	if a.release != nil {
		if err := a.release(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func defaultStorePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("unable to find a directory for the session: %w", err)
	}
	return filepath.Join(dir, "ssoclient", "session.json"), nil
}

// browserOpener prints u and opens it in the browser unless --no-browser
// is set. A browser which can't be launched isn't an error; the printed
// URL still works.
func (a *app) browserOpener(out io.Writer) callback.OpenerFunc {
	return func(ctx context.Context, u string) error {
		fmt.Fprintf(out, "Continue in your browser:\n\n    %s\n\n", u)
		if a.noBrowser {
			return nil
		}
		if err := openBrowser(ctx, u); err != nil {
			a.logger.Warn("unable to open a browser", "error", err)
		}
		return nil
	}
}

// newManager creates a Manager for the page w. opt are applied after the
// configured options.
func (a *app) newManager(w session.Window, opt ...session.Option) (*session.Manager, error) {
	frame, err := callback.NewHTTPFrame(
		callback.WithHTTPClient(a.provider.HTTPClient()),
		callback.WithLogger(a.logger.Named("frame")),
	)
	if err != nil {
		return nil, err
	}
	opts := append(a.cfg.ManagerOptions(),
		session.WithLogger(a.logger.Named("session")),
		session.WithSilentFrame(frame),
	)
	return session.NewManager(a.provider, a.store, w, append(opts, opt...)...)
}

// newTerminalManager creates an initialized Manager for a one-shot command.
// It doesn't monitor the session.
func (a *app) newTerminalManager(ctx context.Context) (*session.Manager, *terminalWindow, error) {
	origin, err := url.Parse(a.cfg.RedirectURI)
	if err != nil {
		return nil, nil, err
	}
	w := newTerminalWindow(origin, a.open)
	m, err := a.newManager(w, session.WithMonitorSession(false, 0))
	if err != nil {
		return nil, nil, err
	}
	if _, err := m.Initialize(ctx); err != nil {
		m.Close()
		return nil, nil, err
	}
	return m, w, nil
}
